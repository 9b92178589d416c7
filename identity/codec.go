// Package identity converts between 32-byte public keys and the ledger's
// 60-character checksummed identity strings.
//
// An identity is 56 body characters (four groups of 14 base-26 digits, one
// group per little-endian 64-bit word of the key) followed by a 4 character
// checksum derived from the keyed hash of the key bytes.
package identity

import (
	"encoding/binary"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
)

const (
	// Length is the number of characters in a rendered identity.
	Length = 60
	// PublicKeySize is the number of key bytes an identity encodes.
	PublicKeySize = 32

	bodyLength     = 56
	checksumLength = 4
	groupLength    = 14
	groupCount     = 4
	radix          = 26
	checksumMask   = 0x3FFFF
)

var (
	// ErrFormat is returned for identities with a bad length or alphabet,
	// and for key buffers that are not PublicKeySize bytes long.
	ErrFormat = errors.New("invalid identity format")
	// ErrChecksum is returned when the trailing checksum does not match the body.
	ErrChecksum = errors.New("identity checksum mismatch")
)

// Hasher is the keyed hash the checksum is computed with.
type Hasher interface {
	Hash(data []byte, outLen int) ([]byte, error)
}

// Codec encodes and decodes identities.
//
// The checksum is a pure function of the key bytes, so a Codec holds no state
// besides its hasher and is safe for concurrent use.
type Codec struct {
	hasher Hasher
}

// NewCodec returns a Codec that computes checksums with h.
func NewCodec(h Hasher) *Codec {
	return &Codec{hasher: h}
}

// Decode parses an identity into its 32 public key bytes.
//
// Input is upper-cased before validation. Length and alphabet problems are
// reported as ErrFormat, a checksum mismatch as ErrChecksum.
func (c *Codec) Decode(id string) ([]byte, error) {
	id = strings.ToUpper(id)
	if len(id) != Length {
		return nil, errors.Wrapf(ErrFormat, "expected %d characters, got %d", Length, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return nil, errors.Wrapf(ErrFormat, "invalid character %q at position %d", id[i], i)
		}
	}

	pub := make([]byte, PublicKeySize)
	for g := 0; g < groupCount; g++ {
		var value uint64
		// the first character of a group is its least significant digit
		for j := groupLength - 1; j >= 0; j-- {
			hi, lo := bits.Mul64(value, radix)
			sum, carry := bits.Add64(lo, uint64(id[g*groupLength+j]-'A'), 0)
			if hi != 0 || carry != 0 {
				return nil, errors.Wrapf(ErrFormat, "group %d does not fit in 64 bits", g)
			}
			value = sum
		}
		binary.LittleEndian.PutUint64(pub[g*8:], value)
	}

	want, err := c.checksum(pub, 'A')
	if err != nil {
		return nil, err
	}
	if got := id[bodyLength:]; got != want {
		return nil, errors.Wrapf(ErrChecksum, "expected %s, got %s", want, got)
	}

	return pub, nil
}

// Encode renders a 32-byte public key as an upper-case identity.
func (c *Codec) Encode(pub []byte) (string, error) {
	return c.encode(pub, 'A')
}

// EncodeLower renders 32 bytes in the lower-case alphabet. The ledger uses
// this form for transaction ids.
func (c *Codec) EncodeLower(b []byte) (string, error) {
	return c.encode(b, 'a')
}

// Checksum returns the 4 character checksum of a 32-byte public key.
func (c *Codec) Checksum(pub []byte) (string, error) {
	return c.checksum(pub, 'A')
}

// Validate reports whether id decodes cleanly.
func (c *Codec) Validate(id string) error {
	_, err := c.Decode(id)
	return err
}

// IsValid is Validate as a predicate.
func (c *Codec) IsValid(id string) bool {
	return c.Validate(id) == nil
}

func (c *Codec) encode(pub []byte, base byte) (string, error) {
	if len(pub) != PublicKeySize {
		return "", errors.Wrapf(ErrFormat, "expected %d key bytes, got %d", PublicKeySize, len(pub))
	}

	out := make([]byte, 0, Length)
	for g := 0; g < groupCount; g++ {
		value := binary.LittleEndian.Uint64(pub[g*8:])
		for j := 0; j < groupLength; j++ {
			out = append(out, base+byte(value%radix))
			value /= radix
		}
	}

	sum, err := c.checksum(pub, base)
	if err != nil {
		return "", err
	}

	return string(out) + sum, nil
}

func (c *Codec) checksum(pub []byte, base byte) (string, error) {
	if len(pub) != PublicKeySize {
		return "", errors.Wrapf(ErrFormat, "expected %d key bytes, got %d", PublicKeySize, len(pub))
	}

	digest, err := c.hasher.Hash(pub, 32)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash public key")
	}
	if len(digest) < 3 {
		return "", errors.Errorf("hasher returned %d bytes, need at least 3", len(digest))
	}

	value := (uint32(digest[2])<<16 | uint32(digest[1])<<8 | uint32(digest[0])) & checksumMask

	out := make([]byte, checksumLength)
	for i := range out {
		out[i] = base + byte(value%radix)
		value /= radix
	}

	return string(out), nil
}
