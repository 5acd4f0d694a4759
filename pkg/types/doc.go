// Package types provides shared type definitions for the vecpipe
// synchronization pipeline.
//
// This package defines the domain types that flow between components:
// documents, chunks, change sets, and the recovered per-item error classes.
//
// # Core Types
//
// Document represents one ingested content unit with its extracted metadata:
//
//	doc := types.Document{
//	    SourceID: "posts/first.md",
//	    Content:  body,
//	    Metadata: types.Metadata{
//	        Title:       "First Post",
//	        ContentHash: hash,
//	    },
//	}
//
// Chunk represents a content window derived from exactly one document.
// Chunks inherit their parent's metadata and carry both their own hash and
// the parent's, so index entries can always be traced to the corpus state
// that produced them:
//
//	chunk := types.Chunk{
//	    ParentSourceID: doc.SourceID,
//	    Index:          0,
//	    Text:           window,
//	    ParentHash:     doc.Metadata.ContentHash,
//	}
//
// ChangeSet is the result of diffing current documents against the ledger.
// Its four partitions are disjoint and drive which index mutations a run
// applies.
//
// # Error Classes
//
// Per-item failures (unreadable source, malformed front matter, checksum
// failure) are modeled as ItemError values wrapping the sentinel classes
// ErrLoad, ErrParse, and ErrChecksum. They accumulate into the job report
// instead of aborting the run:
//
//	if errors.Is(itemErr, types.ErrParse) {
//	    // document was kept with defaults
//	}
package types
