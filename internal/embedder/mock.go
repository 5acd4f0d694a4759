package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// DefaultMockDimension matches small local embedding models.
	DefaultMockDimension = 384

	mockModel = "mock-v1"
)

// MockProvider generates deterministic unit vectors from content hashes.
// Equal text always embeds to the same vector, so it serves offline runs and
// tests without any network dependency.
type MockProvider struct {
	dimension int
	cache     *Cache
}

// NewMockProvider creates a mock embedder. A non-positive dimension falls
// back to DefaultMockDimension.
func NewMockProvider(dimension int, cache *Cache) *MockProvider {
	if dimension <= 0 {
		dimension = DefaultMockDimension
	}
	return &MockProvider{
		dimension: dimension,
		cache:     cache,
	}
}

func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if m.cache != nil {
		if vec, ok := m.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vec := m.vectorFor(text)
	if m.cache != nil {
		m.cache.Set(hash, vec)
	}
	return vec, nil
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// vectorFor derives a unit vector from chained digests of the text. Each
// 32-byte block is re-hashed with a counter so high dimensions do not merely
// repeat the first eight values.
func (m *MockProvider) vectorFor(text string) []float32 {
	vec := make([]float32, m.dimension)
	var digest [32]byte

	for i := 0; i < m.dimension; i++ {
		if i%8 == 0 {
			digest = sha256.Sum256(fmt.Appendf(nil, "%s#%d", text, i/8))
		}
		idx := (i % 8) * 4
		val := binary.BigEndian.Uint32(digest[idx : idx+4])
		vec[i] = (float32(val)/float32(1<<32))*2 - 1
	}
	return NormalizeVector(vec)
}

func (m *MockProvider) Dimension() int {
	return m.dimension
}

func (m *MockProvider) Provider() string {
	return ProviderMock
}

func (m *MockProvider) Model() string {
	return mockModel
}

func (m *MockProvider) Close() error {
	return nil
}
