package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrCollectionNotFound is returned when opening a collection that was
	// never created
	ErrCollectionNotFound = errors.New("collection not found")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens the database at dbPath and applies any pending
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, store: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx    *sql.Tx
	store *SQLiteStore
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStore) querier() querier {
	return s.db
}

// Collection operations

// createCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) createCollectionWithQuerier(ctx context.Context, q querier, collection *Collection) error {
	query := `
		INSERT INTO collections (name, dimension, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		collection.Name, collection.Dimension, collection.Provider,
		collection.Model, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: collection %q", ErrAlreadyExists, collection.Name)
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	collection.ID = id
	collection.CreatedAt = now
	collection.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, collection *Collection) error {
	return s.createCollectionWithQuerier(ctx, s.querier(), collection)
}

// getCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) getCollectionWithQuerier(ctx context.Context, q querier, name string) (*Collection, error) {
	query := `
		SELECT id, name, dimension, provider, model, total_chunks,
		       last_synced_at, created_at, updated_at
		FROM collections
		WHERE name = ?
	`
	var collection Collection
	var lastSyncedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, name).Scan(
		&collection.ID, &collection.Name, &collection.Dimension,
		&collection.Provider, &collection.Model, &collection.TotalChunks,
		&lastSyncedAt, &collection.CreatedAt, &collection.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if lastSyncedAt.Valid {
		collection.LastSyncedAt = lastSyncedAt.Time
	}
	return &collection, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return s.getCollectionWithQuerier(ctx, s.querier(), name)
}

// updateCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) updateCollectionWithQuerier(ctx context.Context, q querier, collection *Collection) error {
	query := `
		UPDATE collections
		SET dimension = ?, total_chunks = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		collection.Dimension, collection.TotalChunks, collection.LastSyncedAt,
		now, collection.ID)
	if err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}
	collection.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateCollection(ctx context.Context, collection *Collection) error {
	return s.updateCollectionWithQuerier(ctx, s.querier(), collection)
}

// dropCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) dropCollectionWithQuerier(ctx context.Context, q querier, name string) error {
	// Chunks and embeddings follow through ON DELETE CASCADE.
	query := `DELETE FROM collections WHERE name = ?`
	result, err := q.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return nil
}

func (s *SQLiteStore) DropCollection(ctx context.Context, name string) error {
	return s.dropCollectionWithQuerier(ctx, s.querier(), name)
}

// Chunk operations

// insertChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) insertChunkWithQuerier(ctx context.Context, q querier, chunk *Chunk, embedding *Embedding) error {
	// Use atomic INSERT ... ON CONFLICT so a retried batch lands on the
	// same row instead of failing
	query := `
		INSERT INTO chunks (
			collection_id, source_id, chunk_index, chunk_id, content,
			content_hash, parent_hash, token_count, title, canonical_url,
			categories, published, doc_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, source_id, chunk_index)
		DO UPDATE SET
			chunk_id = excluded.chunk_id,
			content = excluded.content,
			content_hash = excluded.content_hash,
			parent_hash = excluded.parent_hash,
			token_count = excluded.token_count,
			title = excluded.title,
			canonical_url = excluded.canonical_url,
			categories = excluded.categories,
			published = excluded.published,
			doc_date = excluded.doc_date,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		chunk.CollectionID, chunk.SourceID, chunk.ChunkIndex, chunk.ChunkUUID,
		chunk.Content, chunk.ContentHash, chunk.ParentHash, chunk.TokenCount,
		chunk.Title, chunk.CanonicalURL, joinCategories(chunk.Categories),
		chunk.Published, chunk.DocDate, now, now,
	).Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	chunk.UpdatedAt = now

	if embedding == nil {
		return nil
	}

	embedding.ChunkID = chunk.ID
	embQuery := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
	`
	result, err := q.ExecContext(ctx, embQuery,
		embedding.ChunkID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	if embedding.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			embedding.ID = id
		}
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *Chunk, embedding *Embedding) error {
	return s.insertChunkWithQuerier(ctx, s.querier(), chunk, embedding)
}

const chunkColumns = `
	id, collection_id, source_id, chunk_index, chunk_id, content,
	content_hash, parent_hash, token_count, title, canonical_url,
	categories, published, doc_date, created_at, updated_at
`

// scanChunk reads one chunk row from a row scanner.
func scanChunk(scan func(dest ...interface{}) error) (*Chunk, error) {
	var chunk Chunk
	var categories string
	err := scan(
		&chunk.ID, &chunk.CollectionID, &chunk.SourceID, &chunk.ChunkIndex,
		&chunk.ChunkUUID, &chunk.Content, &chunk.ContentHash, &chunk.ParentHash,
		&chunk.TokenCount, &chunk.Title, &chunk.CanonicalURL, &categories,
		&chunk.Published, &chunk.DocDate, &chunk.CreatedAt, &chunk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	chunk.Categories = splitCategories(categories)
	return &chunk, nil
}

// getChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) getChunkWithQuerier(ctx context.Context, q querier, chunkUUID string) (*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE chunk_id = ?`
	row := q.QueryRowContext(ctx, query, chunkUUID)
	chunk, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, chunkUUID string) (*Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), chunkUUID)
}

// listChunksBySourceWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) listChunksBySourceWithQuerier(ctx context.Context, q querier, collectionID int64, sourceID string) ([]*Chunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM chunks
		WHERE collection_id = ? AND source_id = ?
		ORDER BY chunk_index
	`
	rows, err := q.QueryContext(ctx, query, collectionID, sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ListChunksBySource(ctx context.Context, collectionID int64, sourceID string) ([]*Chunk, error) {
	return s.listChunksBySourceWithQuerier(ctx, s.querier(), collectionID, sourceID)
}

// deleteChunksBySourceWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) deleteChunksBySourceWithQuerier(ctx context.Context, q querier, collectionID int64, sourceID string) (int, error) {
	query := `DELETE FROM chunks WHERE collection_id = ? AND source_id = ?`
	result, err := q.ExecContext(ctx, query, collectionID, sourceID)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStore) DeleteChunksBySource(ctx context.Context, collectionID int64, sourceID string) (int, error) {
	return s.deleteChunksBySourceWithQuerier(ctx, s.querier(), collectionID, sourceID)
}

// countChunksWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) countChunksWithQuerier(ctx context.Context, q querier, collectionID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE collection_id = ?", collectionID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) CountChunks(ctx context.Context, collectionID int64) (int, error) {
	return s.countChunksWithQuerier(ctx, s.querier(), collectionID)
}

// countChunksBySourceWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) countChunksBySourceWithQuerier(ctx context.Context, q querier, collectionID int64, sourceID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE collection_id = ? AND source_id = ?",
		collectionID, sourceID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) CountChunksBySource(ctx context.Context, collectionID int64, sourceID string) (int, error) {
	return s.countChunksBySourceWithQuerier(ctx, s.querier(), collectionID, sourceID)
}

// listSourcesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) listSourcesWithQuerier(ctx context.Context, q querier, collectionID int64) ([]string, error) {
	query := `
		SELECT DISTINCT source_id FROM chunks
		WHERE collection_id = ?
		ORDER BY source_id
	`
	rows, err := q.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sources := make([]string, 0)
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func (s *SQLiteStore) ListSources(ctx context.Context, collectionID int64) ([]string, error) {
	return s.listSourcesWithQuerier(ctx, s.querier(), collectionID)
}

// Search operations

func (s *SQLiteStore) SearchVector(ctx context.Context, collectionID int64, vector []float32, limit int) ([]SearchResult, error) {
	return searchVector(ctx, s.querier(), collectionID, vector, limit)
}

// Transaction implementations

func (t *sqliteTx) CreateCollection(ctx context.Context, collection *Collection) error {
	return t.store.createCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return t.store.getCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) UpdateCollection(ctx context.Context, collection *Collection) error {
	return t.store.updateCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) DropCollection(ctx context.Context, name string) error {
	return t.store.dropCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) InsertChunk(ctx context.Context, chunk *Chunk, embedding *Embedding) error {
	return t.store.insertChunkWithQuerier(ctx, t.querier(), chunk, embedding)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkUUID string) (*Chunk, error) {
	return t.store.getChunkWithQuerier(ctx, t.querier(), chunkUUID)
}

func (t *sqliteTx) ListChunksBySource(ctx context.Context, collectionID int64, sourceID string) ([]*Chunk, error) {
	return t.store.listChunksBySourceWithQuerier(ctx, t.querier(), collectionID, sourceID)
}

func (t *sqliteTx) DeleteChunksBySource(ctx context.Context, collectionID int64, sourceID string) (int, error) {
	return t.store.deleteChunksBySourceWithQuerier(ctx, t.querier(), collectionID, sourceID)
}

func (t *sqliteTx) CountChunks(ctx context.Context, collectionID int64) (int, error) {
	return t.store.countChunksWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) CountChunksBySource(ctx context.Context, collectionID int64, sourceID string) (int, error) {
	return t.store.countChunksBySourceWithQuerier(ctx, t.querier(), collectionID, sourceID)
}

func (t *sqliteTx) ListSources(ctx context.Context, collectionID int64) ([]string, error) {
	return t.store.listSourcesWithQuerier(ctx, t.querier(), collectionID)
}

func (t *sqliteTx) SearchVector(ctx context.Context, collectionID int64, vector []float32, limit int) ([]SearchResult, error) {
	return searchVector(ctx, t.querier(), collectionID, vector, limit)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
