package seed

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	s := strings.Repeat("a", 54) + "z"

	got, err := Decode("  " + strings.ToUpper(s) + "\n")
	require.NoError(t, err)
	require.Len(t, got, Length)
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(25), got[54])
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"short":   strings.Repeat("a", 54),
		"long":    strings.Repeat("a", 56),
		"digit":   strings.Repeat("a", 54) + "1",
		"space":   strings.Repeat("a", 27) + " " + strings.Repeat("a", 27),
		"unicode": strings.Repeat("a", 53) + "é",
	}

	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
			assert.NotContains(t, err.Error(), s)
		})
	}
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.NoError(t, Validate(a))
	assert.NotEqual(t, a, b)
}

func TestRedact(t *testing.T) {
	s := strings.Repeat("m", 55)
	r := Redact(s)
	assert.Len(t, r, 55)
	assert.Equal(t, "m"+strings.Repeat("*", 53)+"m", r)
	assert.Equal(t, "**", Redact("ab"))
}
