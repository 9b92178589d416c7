package identity_test

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ledger-sdk/identity"
	"github.com/pilacorp/go-ledger-sdk/signer"
)

func newCodec() *identity.Codec {
	return identity.NewCodec(signer.K12Hasher{})
}

func TestEncodeZeroKey(t *testing.T) {
	id, err := newCodec().Encode(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", 56)+"FXIB", id)
}

func TestRoundTrip(t *testing.T) {
	c := newCodec()
	for i := 0; i < 20; i++ {
		pub := make([]byte, 32)
		_, err := rand.Read(pub)
		require.NoError(t, err)

		id, err := c.Encode(pub)
		require.NoError(t, err)
		assert.Len(t, id, identity.Length)
		assert.Equal(t, strings.ToUpper(id), id)

		got, err := c.Decode(id)
		require.NoError(t, err)
		assert.Equal(t, pub, got)
	}
}

func TestMaxKeyRoundTrip(t *testing.T) {
	c := newCodec()
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = 0xFF
	}

	id, err := c.Encode(pub)
	require.NoError(t, err)
	got, err := c.Decode(id)
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestDecodeLowercase(t *testing.T) {
	c := newCodec()
	id := strings.Repeat("A", 56) + "FXIB"

	got, err := c.Decode(strings.ToLower(id))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), got)
}

func TestDecodeDetectsMutation(t *testing.T) {
	c := newCodec()
	pub := make([]byte, 32)
	_, _ = rand.Read(pub)
	id, err := c.Encode(pub)
	require.NoError(t, err)

	for _, pos := range []int{0, 13, 14, 30, 55, 56, 59} {
		b := []byte(id)
		if b[pos] == 'Z' {
			b[pos] = 'A'
		} else {
			b[pos]++
		}

		_, err := c.Decode(string(b))
		require.Error(t, err, "position %d", pos)
		assert.True(t,
			errors.Is(err, identity.ErrChecksum) || errors.Is(err, identity.ErrFormat),
			"position %d: %v", pos, err)
	}
}

func TestDecodeFormatErrors(t *testing.T) {
	c := newCodec()
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"short", strings.Repeat("A", 59)},
		{"long", strings.Repeat("A", 61)},
		{"digit", strings.Repeat("A", 55) + "1FXIB"},
		{"symbol", "-" + strings.Repeat("A", 55) + "FXIB"},
		// a group of fourteen Z digits exceeds 2^64
		{"overflow", strings.Repeat("Z", 14) + strings.Repeat("A", 42) + "AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, identity.ErrFormat), err.Error())
			assert.False(t, c.IsValid(tt.id))
		})
	}
}

func TestEncodeRejectsWrongLength(t *testing.T) {
	_, err := newCodec().Encode(make([]byte, 31))
	assert.True(t, errors.Is(err, identity.ErrFormat))
}

func TestEncodeLower(t *testing.T) {
	c := newCodec()
	pub := make([]byte, 32)
	_, _ = rand.Read(pub)

	upper, err := c.Encode(pub)
	require.NoError(t, err)
	lower, err := c.EncodeLower(pub)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(upper), lower)

	sum, err := c.Checksum(pub)
	require.NoError(t, err)
	assert.Equal(t, upper[56:], sum)
}
