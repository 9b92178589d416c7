// Package transaction builds, signs and decodes ledger transactions.
//
// Layout, all integers little-endian:
//
//	0   source public key       32
//	32  destination public key  32
//	64  amount                  8
//	72  tick                    4
//	76  input size              2
//	78  input type              2
//	80  input                   input size
//	..  signature               64
//
// A plain transfer carries no input and is 144 bytes long.
package transaction

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pilacorp/go-ledger-sdk/contract"
	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/seed"
	"github.com/pilacorp/go-ledger-sdk/signer"
)

const (
	// HeaderSize is the length of the fixed header.
	HeaderSize = 80
	// SignatureSize is the length of the trailing signature.
	SignatureSize = signer.SignatureSize
	// MaxInputSize is the largest input a transaction may carry.
	MaxInputSize = 1024
	// TransferSize is the length of a transaction without input.
	TransferSize = HeaderSize + SignatureSize
)

// ErrValidation is returned for requests that cannot produce a valid
// transaction.
var ErrValidation = errors.New("invalid transaction")

// TransferRequest describes a transaction to sign.
type TransferRequest struct {
	Seed        string
	Destination string
	Amount      int64
	Tick        uint32
	// ExpectedSource, when set, must equal the identity derived from Seed.
	ExpectedSource string
	InputType      uint16
	Input          []byte
}

// Transaction is a signed transaction.
type Transaction struct {
	ID          string
	Source      string
	Destination string
	Amount      int64
	Tick        uint32
	InputType   uint16
	InputSize   uint16
	Input       []byte
	Digest      []byte
	Signature   []byte
	// Raw is the wire form and Encoded its base64 rendering for broadcast.
	Raw     []byte
	Encoded string
}

// Builder signs transactions with a shared capability.
type Builder struct {
	codec  *identity.Codec
	cap    signer.Capability
	logger *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the Builder's logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder returns a Builder using codec for identities and c for hashing
// and signing.
func NewBuilder(codec *identity.Codec, c signer.Capability, opts ...Option) *Builder {
	b := &Builder{codec: codec, cap: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates req and returns the signed transaction.
//
// Amount, tick and input size are checked before anything is hashed, so a
// rejected request never reaches the capability.
func (b *Builder) Build(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if req.Amount <= 0 {
		return nil, errors.Wrapf(ErrValidation, "amount must be positive, got %d", req.Amount)
	}
	if req.Tick == 0 {
		return nil, errors.Wrap(ErrValidation, "tick must be positive")
	}
	if len(req.Input) > MaxInputSize {
		return nil, errors.Wrapf(ErrValidation, "input of %d bytes exceeds %d", len(req.Input), MaxInputSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst, err := b.codec.Decode(req.Destination)
	if err != nil {
		return nil, errors.Wrap(err, "destination")
	}

	seedBytes, err := seed.Decode(req.Seed)
	if err != nil {
		return nil, err
	}
	kp, err := signer.DeriveKeyPair(b.cap, seedBytes)
	if err != nil {
		return nil, err
	}
	source, err := b.codec.Encode(kp.PublicKey[:])
	if err != nil {
		return nil, err
	}
	if req.ExpectedSource != "" && !strings.EqualFold(strings.TrimSpace(req.ExpectedSource), source) {
		return nil, errors.Wrap(ErrValidation, "seed does not match expected sender")
	}

	inputSize := len(req.Input)
	raw := make([]byte, HeaderSize, HeaderSize+inputSize+SignatureSize)
	copy(raw[0:32], kp.PublicKey[:])
	copy(raw[32:64], dst)
	binary.LittleEndian.PutUint64(raw[64:72], uint64(req.Amount))
	binary.LittleEndian.PutUint32(raw[72:76], req.Tick)
	binary.LittleEndian.PutUint16(raw[76:78], uint16(inputSize))
	binary.LittleEndian.PutUint16(raw[78:80], req.InputType)
	raw = append(raw, req.Input...)

	digest, err := b.cap.Hash(raw, signer.DigestSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash transaction")
	}
	sig, err := b.cap.Sign(kp.PrivateKey[:], kp.PublicKey[:], digest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	if len(sig) != SignatureSize {
		return nil, errors.Errorf("invalid signature length %d", len(sig))
	}
	raw = append(raw, sig...)

	id, err := b.transactionID(raw)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("transaction signed",
		zap.String("id", id),
		zap.String("source", source),
		zap.String("destination", req.Destination),
		zap.Int64("amount", req.Amount),
		zap.Uint32("tick", req.Tick),
		zap.Uint16("input_type", req.InputType),
		zap.Int("input_size", inputSize),
	)

	return &Transaction{
		ID:          id,
		Source:      source,
		Destination: strings.ToUpper(req.Destination),
		Amount:      req.Amount,
		Tick:        req.Tick,
		InputType:   req.InputType,
		InputSize:   uint16(inputSize),
		Input:       append([]byte(nil), req.Input...),
		Digest:      digest,
		Signature:   sig,
		Raw:         raw,
		Encoded:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// BuildProcedure signs a transaction carrying a procedure call. An empty To
// is resolved to the identity of the request's contract.
func (b *Builder) BuildProcedure(ctx context.Context, seedStr string, req *contract.TransactionRequest, tick uint32) (*Transaction, error) {
	if req == nil {
		return nil, errors.Wrap(ErrValidation, "nil transaction request")
	}
	input, err := req.PayloadBytes()
	if err != nil {
		return nil, err
	}
	if int(req.InputSize) != len(input) {
		return nil, errors.Wrapf(ErrValidation, "input size %d does not match payload length %d", req.InputSize, len(input))
	}

	to := req.To
	if to == "" {
		if to, err = contract.ContractIdentity(b.codec, req.ContractIndex); err != nil {
			return nil, err
		}
	}

	return b.Build(ctx, TransferRequest{
		Seed:           seedStr,
		Destination:    to,
		Amount:         req.Amount,
		Tick:           tick,
		ExpectedSource: req.From,
		InputType:      req.InputType,
		Input:          input,
	})
}

// Decode parses raw wire bytes. The signature is not verified.
func (b *Builder) Decode(raw []byte) (*Transaction, error) {
	if len(raw) < TransferSize {
		return nil, errors.Wrapf(ErrValidation, "transaction of %d bytes is shorter than %d", len(raw), TransferSize)
	}
	inputSize := int(binary.LittleEndian.Uint16(raw[76:78]))
	if len(raw) != HeaderSize+inputSize+SignatureSize {
		return nil, errors.Wrapf(ErrValidation, "length %d does not match input size %d", len(raw), inputSize)
	}

	source, err := b.codec.Encode(raw[0:32])
	if err != nil {
		return nil, err
	}
	dest, err := b.codec.Encode(raw[32:64])
	if err != nil {
		return nil, err
	}
	digest, err := b.cap.Hash(raw[:HeaderSize+inputSize], signer.DigestSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash transaction")
	}
	id, err := b.transactionID(raw)
	if err != nil {
		return nil, err
	}

	out := append([]byte(nil), raw...)
	return &Transaction{
		ID:          id,
		Source:      source,
		Destination: dest,
		Amount:      int64(binary.LittleEndian.Uint64(raw[64:72])),
		Tick:        binary.LittleEndian.Uint32(raw[72:76]),
		InputType:   binary.LittleEndian.Uint16(raw[78:80]),
		InputSize:   uint16(inputSize),
		Input:       out[HeaderSize : HeaderSize+inputSize],
		Digest:      digest,
		Signature:   out[HeaderSize+inputSize:],
		Raw:         out,
		Encoded:     base64.StdEncoding.EncodeToString(out),
	}, nil
}

// DecodeBase64 parses the broadcast form of a transaction.
func (b *Builder) DecodeBase64(encoded string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(ErrValidation, err.Error())
	}
	return b.Decode(raw)
}

// transactionID is the lower-case identity rendering of H(raw).
func (b *Builder) transactionID(raw []byte) (string, error) {
	h, err := b.cap.Hash(raw, signer.DigestSize)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash transaction id")
	}
	return b.codec.EncodeLower(h)
}
