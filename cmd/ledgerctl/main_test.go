package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTick(t *testing.T) {
	tick, err := parseTick(math.MaxUint32)
	require.NoError(t, err)
	assert.EqualValues(t, math.MaxUint32, tick)

	_, err = parseTick(1<<32 + 5)
	assert.ErrorContains(t, err, "out of range")
}

func TestParsePublicKey(t *testing.T) {
	pub, err := parsePublicKey("0x0aff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xff}, pub)

	_, err = parsePublicKey("0xzz")
	assert.ErrorContains(t, err, "not hex")
}
