package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{"empty", []float32{}},
		{"single", []float32{0.5}},
		{"typical", []float32{0.1, -0.2, 0.3, 1.0, -1.0}},
		{"extremes", []float32{0, 1e-38, 3.4e38, -3.4e38}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := SerializeVector(tt.vector)
			assert.Len(t, blob, len(tt.vector)*4)

			restored := DeserializeVector(blob)
			assert.Equal(t, tt.vector, restored)
		})
	}
}

func TestCosineSimilarityStorage(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

// seedSearchData inserts three chunks whose embeddings have a known
// similarity ordering against the query vector [1, 0, 0, 0].
func seedSearchData(t *testing.T, store *SQLiteStore) int64 {
	t.Helper()
	ctx := context.Background()
	collection := makeCollection(t, store, "search-test")

	vectors := map[string][]float32{
		"posts/exact.md":      {1, 0, 0, 0},
		"posts/close.md":      {0.9, 0.1, 0, 0},
		"posts/orthogonal.md": {0, 1, 0, 0},
	}
	for source, vec := range vectors {
		chunk := makeChunk(collection.ID, source, 0)
		require.NoError(t, store.InsertChunk(ctx, chunk, makeEmbedding(vec)))
	}
	return collection.ID
}

func TestSearchVectorFallbackRanking(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	collectionID := seedSearchData(t, store)
	query := []float32{1, 0, 0, 0}

	results, err := searchVectorFallback(context.Background(), store.db, collectionID, query, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "posts/exact.md", results[0].SourceID)
	assert.Equal(t, "posts/close.md", results[1].SourceID)
	assert.Equal(t, "posts/orthogonal.md", results[2].SourceID)

	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)

	// Result rows carry the chunk fields needed to render a hit
	assert.NotEmpty(t, results[0].ChunkUUID)
	assert.NotEmpty(t, results[0].Content)
	assert.Equal(t, "https://example.com/posts/exact.md", results[0].CanonicalURL)
}

func TestSearchVectorFallbackLimit(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	collectionID := seedSearchData(t, store)
	query := []float32{1, 0, 0, 0}
	ctx := context.Background()

	results, err := searchVectorFallback(ctx, store.db, collectionID, query, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Limit larger than the candidate set returns everything
	results, err = searchVectorFallback(ctx, store.db, collectionID, query, 100)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Zero or negative limit returns nothing
	results, err = searchVectorFallback(ctx, store.db, collectionID, query, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVectorFallbackDimensionMismatch(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	ctx := context.Background()
	collection := makeCollection(t, store, "mixed-dims")

	good := makeChunk(collection.ID, "posts/good.md", 0)
	require.NoError(t, store.InsertChunk(ctx, good, makeEmbedding([]float32{1, 0, 0, 0})))

	// A stale embedding with the wrong dimension is skipped, not an error
	stale := makeChunk(collection.ID, "posts/stale.md", 0)
	require.NoError(t, store.InsertChunk(ctx, stale, makeEmbedding([]float32{1, 0})))

	results, err := searchVectorFallback(ctx, store.db, collection.ID, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "posts/good.md", results[0].SourceID)
}

func TestSearchVectorEmptyCollection(t *testing.T) {
	store := setupTestDB(t)
	defer store.Close()

	collection := makeCollection(t, store, "empty")

	results, err := store.SearchVector(context.Background(), collection.ID, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestSearchVectorOptimizedRanking runs the SQL-side search path. It only
// executes on builds where sqlite-vec is compiled in.
func TestSearchVectorOptimizedRanking(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	store := setupTestDB(t)
	defer store.Close()

	collectionID := seedSearchData(t, store)
	query := []float32{1, 0, 0, 0}

	results, err := searchVectorOptimized(context.Background(), store.db, collectionID, query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "posts/exact.md", results[0].SourceID)
	assert.Equal(t, "posts/close.md", results[1].SourceID)
}
