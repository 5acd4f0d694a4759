package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, SHA1, MD5, XXHash64} {
		h, err := New(alg)
		require.NoError(t, err)
		assert.Equal(t, alg, h.Algorithm())
	}
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("crc32")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = New("")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestSum_KnownDigests(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		input     string
		want      string
	}{
		{SHA256, "hello", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{SHA1, "hello", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{MD5, "hello", "5d41402abc4b2a76b9719d911017c592"},
	}

	for _, tt := range tests {
		h, err := New(tt.algorithm)
		require.NoError(t, err)
		assert.Equal(t, tt.want, h.SumString(tt.input), "algorithm %s", tt.algorithm)
	}
}

func TestSum_Deterministic(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, SHA1, MD5, XXHash64} {
		h, err := New(alg)
		require.NoError(t, err)

		a := h.SumString("same content")
		b := h.SumString("same content")
		c := h.SumString("different content")

		assert.Equal(t, a, b, "algorithm %s", alg)
		assert.NotEqual(t, a, c, "algorithm %s", alg)
		assert.NotEmpty(t, a)
	}
}

func TestSum_XXHashLength(t *testing.T) {
	h, err := New(XXHash64)
	require.NoError(t, err)

	// 64-bit digest, 16 hex characters
	assert.Len(t, h.SumString("hello"), 16)
}
