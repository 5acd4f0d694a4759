// Package vecpipe synchronizes a markdown corpus into a local vector index.
// It loads documents, detects changes against a checksum ledger, chunks and
// embeds what changed, and applies the delta to a SQLite-backed index, with
// a health check and a persisted job report closing out every run.
//
// This package is the embedding surface for external schedulers; the same
// operations are available on the command line through cmd/vecpipe.
package vecpipe

import (
	"context"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/health"
	"github.com/calder-labs/vecpipe/internal/pipeline"
	"github.com/calder-labs/vecpipe/internal/storage"
)

// Re-exported result types so scheduler callers only import this package
// and config.
type (
	Result       = pipeline.Result
	Stats        = pipeline.Stats
	HealthReport = health.Report
	SearchResult = storage.SearchResult
)

// ErrRunInProgress mirrors pipeline.ErrRunInProgress for callers that
// schedule overlapping runs.
var ErrRunInProgress = pipeline.ErrRunInProgress

// Run executes one synchronization run against the configured collection.
// The returned error is the scheduler's failure signal; the Result carries
// the stats and report path either way.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	return p.Run(ctx)
}

// Health runs the composite health check without mutating the index or the
// ledger.
func Health(ctx context.Context, cfg *config.Config) (*HealthReport, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	return p.Health(ctx), nil
}

// Query embeds text and returns the top limit matches from the configured
// collection.
func Query(ctx context.Context, cfg *config.Config, text string, limit int) ([]SearchResult, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()
	return p.Query(ctx, text, limit)
}
