package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
)

// Algorithm selects the content fingerprint function. The ledger stores
// these digests, so changing the algorithm between runs makes every source
// look modified; pick one and keep it.
type Algorithm string

const (
	SHA256   Algorithm = "sha256"
	SHA1     Algorithm = "sha1"
	MD5      Algorithm = "md5"
	XXHash64 Algorithm = "xxhash64"
)

// ErrUnknownAlgorithm is returned for algorithm names outside the supported set.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hasher computes hex-encoded content digests with a fixed algorithm.
type Hasher struct {
	algorithm Algorithm
}

// New creates a Hasher, rejecting unknown algorithm names up front.
func New(algorithm Algorithm) (*Hasher, error) {
	switch algorithm {
	case SHA256, SHA1, MD5, XXHash64:
		return &Hasher{algorithm: algorithm}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// Algorithm returns the configured algorithm name.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Sum returns the hex-encoded digest of content.
func (h *Hasher) Sum(content []byte) string {
	var digest hash.Hash
	switch h.algorithm {
	case SHA1:
		digest = sha1.New()
	case MD5:
		digest = md5.New()
	case XXHash64:
		digest = xxhash.New()
	default:
		digest = sha256.New()
	}
	digest.Write(content)
	return hex.EncodeToString(digest.Sum(nil))
}

// SumString is a convenience wrapper over Sum for string content.
func (h *Hasher) SumString(content string) string {
	return h.Sum([]byte(content))
}
