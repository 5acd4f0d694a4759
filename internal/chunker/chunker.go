package chunker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/embedder"
	"github.com/calder-labs/vecpipe/internal/hashing"
	"github.com/calder-labs/vecpipe/pkg/types"
)

// ErrConfig is returned when the chunking configuration cannot produce a
// working splitter.
var ErrConfig = errors.New("invalid chunking configuration")

// Splitter cuts document text into ordered segments. Implementations carry
// fully validated parameters; Split performs no configuration checks.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
	Name() string
}

// Service turns documents into chunks using the configured strategy.
type Service struct {
	splitter Splitter
	hasher   *hashing.Hasher
}

// New validates cfg and assembles the configured splitter. All parameter
// validation happens here so splitting itself cannot fail on configuration.
// The semantic strategy requires an embedder; fixed_window ignores it.
func New(cfg config.ChunkingConfig, hasher *hashing.Hasher, emb embedder.Embedder) (*Service, error) {
	if hasher == nil {
		return nil, fmt.Errorf("%w: hasher is required", ErrConfig)
	}

	var splitter Splitter
	switch cfg.Strategy {
	case config.StrategyFixedWindow:
		if cfg.ChunkSize <= 0 {
			return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrConfig, cfg.ChunkSize)
		}
		if cfg.ChunkOverlap < 0 {
			return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrConfig, cfg.ChunkOverlap)
		}
		if cfg.ChunkOverlap >= cfg.ChunkSize {
			return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrConfig, cfg.ChunkOverlap, cfg.ChunkSize)
		}
		splitter = &fixedWindow{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap, adaptive: cfg.Adaptive}

	case config.StrategySemantic:
		if emb == nil {
			return nil, fmt.Errorf("%w: semantic chunking requires an embedder", ErrConfig)
		}
		if cfg.MinChunkSize < 0 {
			return nil, fmt.Errorf("%w: min chunk size must not be negative, got %d", ErrConfig, cfg.MinChunkSize)
		}
		switch cfg.BreakpointType {
		case config.BreakpointPercentile, config.BreakpointGradient:
			if cfg.BreakpointThreshold <= 0 || cfg.BreakpointThreshold > 100 {
				return nil, fmt.Errorf("%w: %s threshold must be within (0, 100], got %v", ErrConfig, cfg.BreakpointType, cfg.BreakpointThreshold)
			}
		case config.BreakpointStdDev, config.BreakpointInterquartile:
			if cfg.BreakpointThreshold <= 0 {
				return nil, fmt.Errorf("%w: %s threshold must be positive, got %v", ErrConfig, cfg.BreakpointType, cfg.BreakpointThreshold)
			}
		default:
			return nil, fmt.Errorf("%w: unknown breakpoint type %q", ErrConfig, cfg.BreakpointType)
		}
		splitter = &semanticBreakpoint{
			emb:            emb,
			breakpointType: cfg.BreakpointType,
			threshold:      cfg.BreakpointThreshold,
			minChunkSize:   cfg.MinChunkSize,
		}

	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrConfig, cfg.Strategy)
	}

	return &Service{splitter: splitter, hasher: hasher}, nil
}

// Strategy returns the name of the active splitter.
func (s *Service) Strategy() string {
	return s.splitter.Name()
}

// ChunkDocument splits a document's content and assembles chunks carrying
// identity, fingerprints, and the parent's metadata. Documents with empty
// content produce no chunks.
func (s *Service) ChunkDocument(ctx context.Context, doc *types.Document) ([]*types.Chunk, error) {
	if doc.Content == "" {
		return nil, nil
	}

	segments, err := s.splitter.Split(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", doc.SourceID, err)
	}

	chunks := make([]*types.Chunk, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		chunk := &types.Chunk{
			ID:             uuid.NewString(),
			ParentSourceID: doc.SourceID,
			Index:          len(chunks),
			Text:           segment,
			ChunkHash:      s.hasher.SumString(segment),
			ParentHash:     doc.Metadata.ContentHash,
			Metadata:       doc.Metadata,
		}
		chunk.ComputeTokenCount()
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Efficiency summarizes the chunk size distribution of a run. Sizes are in
// runes, matching the window arithmetic.
type Efficiency struct {
	Documents    int
	Chunks       int
	AvgChunkSize float64
	MinChunkSize int
	MaxChunkSize int
	ChunksPerDoc float64
}

// ComputeEfficiency aggregates per-document chunk slices into distribution
// statistics. Documents that produced no chunks still count toward the
// per-document average.
func ComputeEfficiency(chunksByDoc map[string][]*types.Chunk) Efficiency {
	eff := Efficiency{Documents: len(chunksByDoc)}
	if eff.Documents == 0 {
		return eff
	}

	total := 0
	for _, chunks := range chunksByDoc {
		for _, chunk := range chunks {
			size := len([]rune(chunk.Text))
			total += size
			if eff.Chunks == 0 || size < eff.MinChunkSize {
				eff.MinChunkSize = size
			}
			if size > eff.MaxChunkSize {
				eff.MaxChunkSize = size
			}
			eff.Chunks++
		}
	}
	if eff.Chunks > 0 {
		eff.AvgChunkSize = float64(total) / float64(eff.Chunks)
	}
	eff.ChunksPerDoc = float64(eff.Chunks) / float64(eff.Documents)
	return eff
}
