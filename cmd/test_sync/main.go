package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	vecpipe "github.com/calder-labs/vecpipe"
	"github.com/calder-labs/vecpipe/internal/config"
)

func main() {
	fmt.Println("Testing sync pipeline integration...")

	// Create temp directory for test
	tmpDir, err := os.MkdirTemp("", "vecpipe-test-*")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	corpus := filepath.Join(tmpDir, "content")
	if err := os.MkdirAll(corpus, 0755); err != nil {
		log.Fatalf("Failed to create corpus dir: %v", err)
	}

	// Seed a small corpus
	docs := map[string]string{
		"install.md": "---\ntitle: Install\n---\nDownload the release archive and unpack it.\n",
		"upgrade.md": "---\ntitle: Upgrade\n---\nStop the service before replacing the binary.\n",
		"backup.md":  "---\ntitle: Backups\n---\nLedger backups rotate past the retention limit.\n",
	}
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(corpus, name), []byte(content), 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	cfg := config.Default()
	cfg.Source.Dir = corpus
	cfg.Embedding.Provider = "mock"
	cfg.Index.Path = filepath.Join(tmpDir, "index.db")
	cfg.Index.Collection = "smoke"
	cfg.Index.BatchPause = 0
	cfg.Ledger.Path = filepath.Join(tmpDir, "checksums.csv")
	cfg.Run.OutputDir = filepath.Join(tmpDir, "reports")

	ctx := context.Background()

	// First pass indexes everything
	res, err := vecpipe.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("First run failed: %v", err)
	}

	fmt.Printf("\nFirst pass:\n")
	fmt.Printf("  Mode: %s\n", res.Mode)
	fmt.Printf("  Documents Processed: %d\n", res.Stats.DocumentsProcessed)
	fmt.Printf("  Chunks Indexed: %d\n", res.Stats.ChunksIndexed)
	fmt.Printf("  Duration: %.3fs\n", res.DurationSeconds)

	// Edit one document and sync again
	edited := "---\ntitle: Install\n---\nDownload the release archive, unpack it, and run the installer.\n"
	if err := os.WriteFile(filepath.Join(corpus, "install.md"), []byte(edited), 0644); err != nil {
		log.Fatalf("Failed to edit document: %v", err)
	}

	res, err = vecpipe.Run(ctx, cfg)
	if err != nil {
		log.Fatalf("Second run failed: %v", err)
	}

	fmt.Printf("\nSecond pass:\n")
	fmt.Printf("  Mode: %s\n", res.Mode)
	fmt.Printf("  Modified: %d\n", res.Stats.Changes.Modified)
	fmt.Printf("  Unchanged: %d\n", res.Stats.Changes.Unchanged)
	fmt.Printf("  Chunks Indexed: %d\n", res.Stats.ChunksIndexed)

	// Verify the index answers queries and the post-run state is healthy
	results, err := vecpipe.Query(ctx, cfg, "run the installer", 3)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	report, err := vecpipe.Health(ctx, cfg)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("\nVerification:\n")
	fmt.Printf("  Query Results: %d\n", len(results))
	for _, r := range results {
		fmt.Printf("    %.4f  %s\n", r.Score, r.SourceID)
	}
	fmt.Printf("  Health: %s\n", report.Overall)

	ok := res.Mode == "incremental_sync" &&
		res.Stats.Changes.Modified == 1 &&
		len(results) > 0 &&
		report.Overall == "healthy"

	if ok {
		fmt.Println("\n✓ SUCCESS: Incremental sync, query, and health all verified!")
	} else {
		fmt.Println("\n✗ FAILURE: Pipeline smoke test did not verify!")
		os.Exit(1)
	}
}
