package types

import "errors"

const (
	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunk is a content window derived from exactly one Document. Chunks are
// the unit of embedding and indexing: the index stores one vector per chunk.
type Chunk struct {
	// ID is a stable unique identifier assigned at split time.
	ID string

	// ParentSourceID is the SourceID of the originating document.
	ParentSourceID string

	// Index is the chunk's zero-based position within its document.
	Index int

	// Text is the chunk content.
	Text string

	// ChunkHash fingerprints Text using the run's configured algorithm.
	ChunkHash string

	// ParentHash is the originating document's content hash, recorded so a
	// chunk can always be traced back to the exact corpus state that
	// produced it.
	ParentHash string

	TokenCount int

	// Metadata is inherited from the parent document.
	Metadata Metadata
}

// ComputeTokenCount estimates the number of tokens in the chunk.
// Uses a simple heuristic: characters / 4. For more accuracy a tokenizer
// library could be used, but the estimate only feeds batch sizing.
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(c.Text) / TokensPerChar
	return c.TokenCount
}

// Validate performs comprehensive validation of the chunk.
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.ParentSourceID == "" {
		return errors.New("chunk parent source id is required")
	}
	if c.Index < 0 {
		return errors.New("chunk index must not be negative")
	}
	if c.ChunkHash == "" {
		return errors.New("chunk hash must be computed")
	}
	return nil
}
