// Package chunker divides document text into chunks for embedding and
// indexing.
//
// Two strategies are available, selected by configuration and hidden behind
// the Splitter interface:
//
//   - fixed_window: overlapping rune windows of a configured size. With
//     adaptive mode, long documents scale the window to roughly a tenth of
//     their length (floored at 500 runes) so chunk counts stay proportionate.
//   - semantic: sentence-level splitting at embedding distance spikes, with
//     percentile, standard deviation, interquartile, or gradient statistics
//     deciding which spikes become breakpoints.
//
// # Basic Usage
//
//	svc, err := chunker.New(cfg.Chunking, hasher, emb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chunks, err := svc.ChunkDocument(ctx, doc)
//	for _, chunk := range chunks {
//	    fmt.Printf("chunk %d: %d tokens\n", chunk.Index, chunk.TokenCount)
//	}
//
// All configuration validation happens in New. A Service that constructed
// successfully never fails on parameters, only on embedding calls made by
// the semantic strategy.
//
// Every chunk carries a fresh UUID, its parent document's source id and
// content hash, its own content hash, and the parent's metadata, so the
// index can always trace a vector back to the exact corpus state that
// produced it.
package chunker
