package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/embedder"
	"github.com/calder-labs/vecpipe/internal/optimizer"
	"github.com/calder-labs/vecpipe/internal/storage"
	"github.com/calder-labs/vecpipe/pkg/types"
)

// ErrUnreachable marks storage failures at the index boundary. A run cannot
// proceed against an index it cannot read or write, so callers treat this as
// fatal.
var ErrUnreachable = errors.New("vector index unreachable")

// dimensionProbeText is embedded once at collection creation to measure the
// provider's vector length. The collection dimension is always measured,
// never hardcoded.
const dimensionProbeText = "dimension probe"

// Manager owns collection lifecycle and all index mutation. Writes go
// through batches sized by the optimizer and paced by the rate limiter.
type Manager struct {
	store     storage.Store
	embedder  embedder.Embedder
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Handle is an opened collection. All mutation methods require one, which
// keeps "collection exists" checks at the edges.
type Handle struct {
	collection *storage.Collection
}

// Name returns the collection name.
func (h *Handle) Name() string {
	return h.collection.Name
}

// Dimension returns the collection's embedding dimension.
func (h *Handle) Dimension() int {
	return h.collection.Dimension
}

// ID returns the collection's row id.
func (h *Handle) ID() int64 {
	return h.collection.ID
}

// NewManager builds a Manager over the given store and embedder. A zero
// batch size defers to the optimizer per call; a zero batch pause disables
// pacing.
func NewManager(store storage.Store, emb embedder.Embedder, cfg config.IndexConfig) *Manager {
	limit := rate.Inf
	if pause := cfg.BatchPause.Std(); pause > 0 {
		limit = rate.Every(pause)
	}

	return &Manager{
		store:     store,
		embedder:  emb,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    slog.Default().With("component", "index"),
	}
}

// Exists reports whether the named collection is present.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.store.GetCollection(ctx, name)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return true, nil
}

// Create makes a new collection. The embedding dimension comes from one
// probe call against the configured provider.
func (m *Manager) Create(ctx context.Context, name string) (*Handle, error) {
	probe, err := m.embedder.Embed(ctx, dimensionProbeText)
	if err != nil {
		return nil, fmt.Errorf("probe embedding for dimension: %w", err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("probe embedding returned an empty vector")
	}

	collection := &storage.Collection{
		Name:      name,
		Dimension: len(probe),
		Provider:  m.embedder.Provider(),
		Model:     m.embedder.Model(),
	}
	if err := m.store.CreateCollection(ctx, collection); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	m.logger.Info("collection created",
		"collection", name,
		"dimension", collection.Dimension,
		"provider", collection.Provider,
		"model", collection.Model)
	return &Handle{collection: collection}, nil
}

// Open loads an existing collection. Absent collections return
// storage.ErrCollectionNotFound; Open never creates.
func (m *Manager) Open(ctx context.Context, name string) (*Handle, error) {
	collection, err := m.store.GetCollection(ctx, name)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return &Handle{collection: collection}, nil
}

// OpenOrCreate opens the collection, creating it when absent.
func (m *Manager) OpenOrCreate(ctx context.Context, name string) (*Handle, error) {
	h, err := m.Open(ctx, name)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, err
	}
	return m.Create(ctx, name)
}

// Drop removes the collection and, via cascade, all of its chunks and
// embeddings. Full rebuilds drop and recreate.
func (m *Manager) Drop(ctx context.Context, name string) error {
	if err := m.store.DropCollection(ctx, name); err != nil {
		if errors.Is(err, storage.ErrCollectionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	m.logger.Info("collection dropped", "collection", name)
	return nil
}

// AddChunks embeds and inserts chunks in batches. Each batch is one
// transaction; the limiter paces batch starts. Cancellation is honored
// between batches, so an aborted call never leaves a batch half-applied.
func (m *Manager) AddChunks(ctx context.Context, h *Handle, chunks []*types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	batchSize := m.batchSize
	if batchSize <= 0 {
		batchSize = optimizer.BatchSize(len(chunks), optimizer.SystemMemoryMB(), avgChunkBytes(h, chunks))
	}

	added := 0
	for i := 0; i < len(chunks); i += batchSize {
		if err := m.limiter.Wait(ctx); err != nil {
			return added, err
		}

		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		if err := m.addBatch(ctx, h, batch); err != nil {
			return added, err
		}
		added += len(batch)

		m.logger.Debug("batch indexed",
			"collection", h.Name(),
			"batch", len(batch),
			"progress", fmt.Sprintf("%d/%d", added, len(chunks)))
	}

	return added, nil
}

// addBatch embeds one batch and inserts it within a single transaction.
func (m *Manager) addBatch(ctx context.Context, h *Handle, batch []*types.Chunk) error {
	vectors, err := m.embedBatch(ctx, h, batch)
	if err != nil {
		return err
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertChunks(ctx, tx, h, batch, vectors); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// embedBatch turns chunk texts into vectors and enforces the collection
// dimension.
func (m *Manager) embedBatch(ctx context.Context, h *Handle, batch []*types.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	for i, vec := range vectors {
		if len(vec) != h.Dimension() {
			return nil, fmt.Errorf("dimension mismatch for %s[%d]: collection expects %d, embedder produced %d",
				batch[i].ParentSourceID, batch[i].Index, h.Dimension(), len(vec))
		}
	}
	return vectors, nil
}

// insertChunks writes chunk rows plus embeddings within the given transaction.
func insertChunks(ctx context.Context, tx storage.Tx, h *Handle, batch []*types.Chunk, vectors [][]float32) error {
	for i, chunk := range batch {
		row := storage.FromTypesChunk(chunk, h.ID())
		emb := &storage.Embedding{
			Vector:    storage.SerializeVector(vectors[i]),
			Dimension: len(vectors[i]),
			Provider:  h.collection.Provider,
			Model:     h.collection.Model,
		}
		if err := tx.InsertChunk(ctx, row, emb); err != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}
	return nil
}

// DeleteBySource removes all chunks for one source and reports how many
// rows went away.
func (m *Manager) DeleteBySource(ctx context.Context, h *Handle, sourceID string) (int, error) {
	removed, err := m.store.DeleteChunksBySource(ctx, h.ID(), sourceID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if removed > 0 {
		m.logger.Debug("source deleted", "collection", h.Name(), "source", sourceID, "chunks", removed)
	}
	return removed, nil
}

// ReplaceSource atomically swaps one source's chunks: the delete completes
// before any insert for that source, and both share a transaction so a
// failure leaves the source intact rather than half-replaced.
func (m *Manager) ReplaceSource(ctx context.Context, h *Handle, sourceID string, chunks []*types.Chunk) (removed, added int, err error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	// Embed outside the transaction to keep it short.
	vectors, err := m.embedBatch(ctx, h, chunks)
	if err != nil {
		return 0, 0, err
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err = tx.DeleteChunksBySource(ctx, h.ID(), sourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if err := insertChunks(ctx, tx, h, chunks, vectors); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	m.logger.Debug("source replaced",
		"collection", h.Name(), "source", sourceID,
		"removed", removed, "added", len(chunks))
	return removed, len(chunks), nil
}

// Count returns the number of chunks in the collection.
func (m *Manager) Count(ctx context.Context, h *Handle) (int, error) {
	count, err := m.store.CountChunks(ctx, h.ID())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return count, nil
}

// Sources lists the distinct source ids present in the collection.
func (m *Manager) Sources(ctx context.Context, h *Handle) ([]string, error) {
	sources, err := m.store.ListSources(ctx, h.ID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return sources, nil
}

// Search embeds the query text and returns the most similar chunks.
func (m *Manager) Search(ctx context.Context, h *Handle, query string, limit int) ([]storage.SearchResult, error) {
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := m.store.SearchVector(ctx, h.ID(), vector, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return results, nil
}

// UpdateStats refreshes the collection's chunk count and sync timestamp
// after a run mutates it.
func (m *Manager) UpdateStats(ctx context.Context, h *Handle) error {
	count, err := m.store.CountChunks(ctx, h.ID())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	h.collection.TotalChunks = count
	h.collection.LastSyncedAt = time.Now()
	if err := m.store.UpdateCollection(ctx, h.collection); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// avgChunkBytes estimates the in-flight footprint of one chunk: its text
// plus its future vector.
func avgChunkBytes(h *Handle, chunks []*types.Chunk) int {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk.Text)
	}
	return total/len(chunks) + h.Dimension()*4
}
