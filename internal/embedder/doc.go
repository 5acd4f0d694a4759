// Package embedder generates vector embeddings for document chunks.
//
// Three providers sit behind the Embedder interface: openai (direct HTTP
// against the OpenAI embeddings API or any compatible gateway), ollama
// (a local OpenAI-compatible server through langchaingo), and mock
// (deterministic hash-derived vectors for tests and offline runs).
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vec, err := emb.Embed(ctx, "chunk text")
//	fmt.Printf("dimension: %d\n", len(vec))
//
// # Batch Processing
//
// EmbedBatch is the preferred entry point during a sync. Caller batch sizes
// are unconstrained: inputs are split into provider-sized API pages
// internally, and texts already present in the cache are not re-sent at all.
//
//	vectors, err := emb.EmbedBatch(ctx, texts)
//
// # Caching
//
// All providers share the same LRU cache keyed by content hash:
//
//	cache := embedder.NewCache(10000)
//
// Cache hits return a copy of the stored vector, so callers may mutate the
// result freely.
//
// # Error Handling
//
// Transient API failures retry with exponential backoff (3 attempts, 100ms
// base, doubling, capped at 5s). Exhausted retries surface as
// ErrProviderFailed, which callers treat as fatal for the run:
//
//	_, err := emb.EmbedBatch(ctx, texts)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // provider down or persistently erroring
//	}
package embedder
