package signer

import (
	"io"

	"github.com/cloudflare/circl/xof"
	"github.com/pkg/errors"
)

// K12Hasher is the ledger's hash: KangarooTwelve with an empty customization
// string, read to the requested output length.
type K12Hasher struct{}

// Hash returns outLen bytes of K12(data).
func (K12Hasher) Hash(data []byte, outLen int) ([]byte, error) {
	if outLen <= 0 {
		return nil, errors.Errorf("invalid output length %d", outLen)
	}

	x := xof.K12D10.New()
	if _, err := x.Write(data); err != nil {
		return nil, errors.WithStack(err)
	}

	out := make([]byte, outLen)
	if _, err := io.ReadFull(x, out); err != nil {
		return nil, errors.WithStack(err)
	}

	return out, nil
}
