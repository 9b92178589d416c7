// Package seed validates and decodes the 55-letter seeds keys are derived from.
package seed

import (
	"crypto/rand"
	"strings"

	"github.com/pkg/errors"
)

// Length is the exact number of characters a seed must have.
const Length = 55

const alphabetSize = 26

// ErrFormat is returned for seeds with a bad length or alphabet.
var ErrFormat = errors.New("invalid seed format")

// Decode normalizes s (trim, lower-case) and returns one byte per character,
// each the letter's index in a..z.
func Decode(s string) ([]byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != Length {
		return nil, errors.Wrapf(ErrFormat, "expected %d characters, got %d", Length, len(s))
	}

	out := make([]byte, Length)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			return nil, errors.Wrapf(ErrFormat, "invalid character at position %d", i)
		}
		out[i] = c - 'a'
	}

	return out, nil
}

// Validate reports whether s is an acceptable seed.
func Validate(s string) error {
	_, err := Decode(s)
	return err
}

// Generate returns a fresh random seed.
func Generate() (string, error) {
	buf := make([]byte, Length)
	out := make([]byte, Length)
	// rejection sampling keeps letters uniform
	const limit = 256 - 256%alphabetSize
	for i := 0; i < Length; {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "failed to read random bytes")
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out[i] = 'a' + b%alphabetSize
			i++
			if i == Length {
				break
			}
		}
	}

	return string(out), nil
}

// Redact masks a seed for display, keeping only its first and last letters.
func Redact(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}
