package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	vecpipe "github.com/calder-labs/vecpipe"
	"github.com/calder-labs/vecpipe/internal/config"
)

// setupSyncBenchmark writes a corpus of n documents and returns a config
// pointing at it, with the first pass already applied.
func setupSyncBenchmark(b *testing.B, n int) *config.Config {
	dir := b.TempDir()
	corpus := filepath.Join(dir, "content")
	if err := os.MkdirAll(corpus, 0o755); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("---\ntitle: Doc %d\n---\nBody of document %d, short but distinct.\n", i, i)
		name := filepath.Join(corpus, fmt.Sprintf("doc%03d.md", i))
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			b.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Source.Dir = corpus
	cfg.Embedding.Provider = "mock"
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Index.Collection = "bench"
	cfg.Index.BatchPause = 0
	cfg.Ledger.Path = filepath.Join(dir, "checksums.csv")
	cfg.Run.OutputDir = filepath.Join(dir, "reports")

	if _, err := vecpipe.Run(context.Background(), cfg); err != nil {
		b.Fatal(err)
	}
	return cfg
}

// BenchmarkSteadyStateRun measures a pass where nothing changed: load,
// diff, no-op, ledger round-trip, health check.
func BenchmarkSteadyStateRun(b *testing.B) {
	cfg := setupSyncBenchmark(b, 50)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := vecpipe.Run(context.Background(), cfg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkIncrementalOneEdit measures the cost of syncing a single
// modified document out of fifty.
func BenchmarkIncrementalOneEdit(b *testing.B) {
	cfg := setupSyncBenchmark(b, 50)
	target := filepath.Join(cfg.Source.Dir, "doc000.md")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		content := fmt.Sprintf("---\ntitle: Doc 0\n---\nRevision %d of the first document.\n", i)
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			b.Fatal(err)
		}
		if _, err := vecpipe.Run(context.Background(), cfg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkQuery measures similarity search over the synced collection.
func BenchmarkQuery(b *testing.B) {
	cfg := setupSyncBenchmark(b, 50)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := vecpipe.Query(context.Background(), cfg, "body of a document", 10); err != nil {
			b.Fatal(err)
		}
	}
}
