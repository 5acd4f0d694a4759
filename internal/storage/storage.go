package storage

import (
	"context"
	"strings"
	"time"

	"github.com/calder-labs/vecpipe/pkg/types"
)

// Store defines the interface for persisting and querying indexed chunks
// and their embeddings.
type Store interface {
	// Collection operations
	CreateCollection(ctx context.Context, collection *Collection) error
	GetCollection(ctx context.Context, name string) (*Collection, error)
	UpdateCollection(ctx context.Context, collection *Collection) error
	DropCollection(ctx context.Context, name string) error

	// Chunk operations
	InsertChunk(ctx context.Context, chunk *Chunk, embedding *Embedding) error
	GetChunk(ctx context.Context, chunkUUID string) (*Chunk, error)
	ListChunksBySource(ctx context.Context, collectionID int64, sourceID string) ([]*Chunk, error)
	DeleteChunksBySource(ctx context.Context, collectionID int64, sourceID string) (deleted int, err error)
	CountChunks(ctx context.Context, collectionID int64) (int, error)
	CountChunksBySource(ctx context.Context, collectionID int64, sourceID string) (int, error)
	ListSources(ctx context.Context, collectionID int64) ([]string, error)

	// Search operations
	SearchVector(ctx context.Context, collectionID int64, vector []float32, limit int) ([]SearchResult, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Store // Embed Store interface for transaction operations
}

// Collection represents one named vector index
type Collection struct {
	ID           int64
	Name         string
	Dimension    int
	Provider     string
	Model        string
	TotalChunks  int
	LastSyncedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is the persisted form of a document chunk. Document metadata is
// flattened onto columns so search results need no second lookup.
type Chunk struct {
	ID           int64
	CollectionID int64
	SourceID     string
	ChunkIndex   int
	ChunkUUID    string
	Content      string
	ContentHash  string
	ParentHash   string
	TokenCount   int
	Title        string
	CanonicalURL string
	Categories   []string
	Published    bool
	DocDate      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Embedding represents a vector embedding for a chunk. ChunkID is the
// chunk's row id, filled in by InsertChunk.
type Embedding struct {
	ID        int64
	ChunkID   int64
	Vector    []byte // Serialized float32 array, little-endian
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// SearchResult represents a result from vector similarity search
type SearchResult struct {
	ChunkUUID    string
	SourceID     string
	Title        string
	CanonicalURL string
	Content      string
	Score        float64
}

// FromTypesChunk converts a domain chunk to its storage row.
func FromTypesChunk(c *types.Chunk, collectionID int64) *Chunk {
	return &Chunk{
		CollectionID: collectionID,
		SourceID:     c.ParentSourceID,
		ChunkIndex:   c.Index,
		ChunkUUID:    c.ID,
		Content:      c.Text,
		ContentHash:  c.ChunkHash,
		ParentHash:   c.ParentHash,
		TokenCount:   c.TokenCount,
		Title:        c.Metadata.Title,
		CanonicalURL: c.Metadata.CanonicalURL,
		Categories:   c.Metadata.Categories,
		Published:    c.Metadata.Published,
		DocDate:      c.Metadata.Date,
	}
}

// joinCategories flattens category lists for the categories column.
func joinCategories(categories []string) string {
	return strings.Join(categories, ";")
}

// splitCategories restores a category list from its column form.
func splitCategories(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ";")
}
