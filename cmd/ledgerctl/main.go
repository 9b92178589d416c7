// Command ledgerctl is an offline toolbox over the SDK: identity conversion,
// seed generation, contract identities, transfer signing and the pending
// transfer journal. It never talks to a ledger node.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pilacorp/go-ledger-sdk/config"
	"github.com/pilacorp/go-ledger-sdk/contract"
	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/journal"
	"github.com/pilacorp/go-ledger-sdk/logger"
	"github.com/pilacorp/go-ledger-sdk/seed"
	"github.com/pilacorp/go-ledger-sdk/signer"
	"github.com/pilacorp/go-ledger-sdk/transaction"
)

const usage = `usage: ledgerctl [-config file] <command> [args]

commands:
  identity <public-key-hex>   render a public key as an identity
  check <identity>            validate an identity and print its key
  seed [-identity]            generate a seed, optionally with its identity
  contract <index>            print the identity of a contract
  transfer -seed -to -amount -tick [-from]
                              sign a transfer and print it as JSON
  pending                     list unsettled transfers from the journal
`

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to a yaml config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), *configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.Config
	log   *zap.Logger
	codec *identity.Codec
	lazy  *signer.Lazy
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	initFn, err := cfg.SignerInit(signer.WithLogger(log))
	if err != nil {
		return err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		codec: identity.NewCodec(signer.K12Hasher{}),
		lazy:  signer.NewLazy(initFn),
	}

	switch cmd {
	case "identity":
		return a.identity(args)
	case "check":
		return a.check(args)
	case "seed":
		return a.seed(ctx, args)
	case "contract":
		return a.contract(args)
	case "transfer":
		return a.transfer(ctx, args)
	case "pending":
		return a.pending()
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) identity(args []string) error {
	if len(args) != 1 {
		return errors.New("identity takes one public key")
	}
	pub, err := parsePublicKey(args[0])
	if err != nil {
		return err
	}
	id, err := a.codec.Encode(pub)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func parsePublicKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	pub, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "public key is not hex")
	}
	return pub, nil
}

func parseTick(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, errors.Errorf("tick %d out of range", v)
	}
	return uint32(v), nil
}

func (a *app) check(args []string) error {
	if len(args) != 1 {
		return errors.New("check takes one identity")
	}
	pub, err := a.codec.Decode(args[0])
	if err != nil {
		return err
	}
	fmt.Println(common.Bytes2Hex(pub))
	return nil
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	withIdentity := fs.Bool("identity", false, "also derive the identity through the key backend")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := seed.Generate()
	if err != nil {
		return err
	}
	out := map[string]string{"seed": s}

	if *withIdentity {
		id, err := a.deriveIdentity(ctx, s)
		if err != nil {
			return err
		}
		out["identity"] = id
	}

	return printJSON(out)
}

func (a *app) deriveIdentity(ctx context.Context, s string) (string, error) {
	c, err := a.lazy.Ready(ctx)
	if err != nil {
		return "", err
	}
	seedBytes, err := seed.Decode(s)
	if err != nil {
		return "", err
	}
	kp, err := signer.DeriveKeyPair(c, seedBytes)
	if err != nil {
		return "", err
	}
	return a.codec.Encode(kp.PublicKey[:])
}

func (a *app) contract(args []string) error {
	if len(args) != 1 {
		return errors.New("contract takes one index")
	}
	index, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid contract index %q", args[0])
	}
	id, err := contract.ContractIdentity(a.codec, uint32(index))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

type transferOutput struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	Tick        uint32 `json:"tick"`
	Digest      string `json:"digest"`
	Encoded     string `json:"encoded"`
}

func (a *app) transfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	seedStr := fs.String("seed", os.Getenv("LEDGER_SEED"), "55 letter seed (or LEDGER_SEED)")
	to := fs.String("to", "", "destination identity")
	amount := fs.Int64("amount", 0, "amount to transfer")
	tick := fs.Uint64("tick", 0, "target tick")
	from := fs.String("from", "", "expected source identity")
	if err := fs.Parse(args); err != nil {
		return err
	}

	targetTick, err := parseTick(*tick)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Signer.Timeout+5*time.Second)
	defer cancel()

	c, err := a.lazy.Ready(ctx)
	if err != nil {
		return err
	}
	b := transaction.NewBuilder(identity.NewCodec(c), c, transaction.WithLogger(a.log))

	tx, err := b.Build(ctx, transaction.TransferRequest{
		Seed:           *seedStr,
		Destination:    *to,
		Amount:         *amount,
		Tick:           targetTick,
		ExpectedSource: *from,
	})
	if err != nil {
		return err
	}

	return printJSON(transferOutput{
		ID:          tx.ID,
		Source:      tx.Source,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Tick:        tx.Tick,
		Digest:      common.Bytes2Hex(tx.Digest),
		Encoded:     tx.Encoded,
	})
}

func (a *app) pending() error {
	store, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.Unsettled()
	if err != nil {
		return err
	}
	return printJSON(attempts)
}
