// Package storage provides SQLite-based persistence for the vector index.
//
// The storage layer manages:
//   - Collection metadata (embedding provider, model, dimension)
//   - Document chunks with their source identity and front matter fields
//   - Vector embeddings, one per chunk
//
// # Database Schema
//
// Tables:
//   - collections: One row per vector index (name, dimension, provider, model)
//   - chunks: Document chunks keyed by (collection, source, index)
//   - embeddings: Vector embeddings for chunks, stored as little-endian blobs
//
// Deleting a collection cascades to its chunks, and deleting a chunk
// cascades to its embedding.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore("~/.vecpipe/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	// Create a collection
//	collection := &storage.Collection{
//	    Name:      "blog-posts",
//	    Dimension: 1536,
//	    Provider:  "openai",
//	    Model:     "text-embedding-3-small",
//	}
//	err = store.CreateCollection(ctx, collection)
//
//	// Insert a chunk with its embedding
//	chunk := storage.FromTypesChunk(typesChunk, collection.ID)
//	embedding := &storage.Embedding{
//	    Vector:    storage.SerializeVector(vector),
//	    Dimension: len(vector),
//	    Provider:  "openai",
//	    Model:     "text-embedding-3-small",
//	}
//	err = store.InsertChunk(ctx, chunk, embedding)
//
// Inserting a chunk is an upsert on (collection_id, source_id, chunk_index),
// so re-running a sync lands updated content on the same rows.
//
// # Transactions
//
// Use transactions to replace a source atomically:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	// Delete old chunks and insert new ones in one transaction
//	deleted, _ := tx.DeleteChunksBySource(ctx, collectionID, sourceID)
//	for _, chunk := range chunks {
//	    tx.InsertChunk(ctx, chunk, embeddings[chunk.ChunkIndex])
//	}
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Vector Operations
//
// Query by vector similarity:
//
//	results, err := store.SearchVector(ctx, collectionID, queryVector, 10)
//	for _, result := range results {
//	    fmt.Printf("%s: %.3f\n", result.SourceID, result.Score)
//	}
//
// Vector search uses cosine similarity via the sqlite-vec extension (CGO
// build) or a pure Go implementation (purego build). Scores are in [-1, 1]
// with higher meaning more similar.
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Includes sqlite-vec extension for fast vector operations
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Pure Go vector operations (slower)
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
