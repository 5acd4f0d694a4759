package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/ledger"
	"github.com/calder-labs/vecpipe/internal/storage"
	"github.com/calder-labs/vecpipe/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Source.Dir = filepath.Join(dir, "content")
	cfg.Embedding.Provider = "mock"
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Index.Collection = "docs"
	cfg.Index.BatchPause = 0
	cfg.Ledger.Path = filepath.Join(dir, "ledger.csv")
	cfg.Run.OutputDir = filepath.Join(dir, "reports")

	require.NoError(t, os.MkdirAll(cfg.Source.Dir, 0o755))
	return cfg
}

func writeCorpus(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func newPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func loadLedger(t *testing.T, cfg *config.Config) map[string]ledger.Record {
	t.Helper()
	records, err := ledger.New(cfg.Ledger).Load()
	require.NoError(t, err)
	return records
}

func readReport(t *testing.T, path string) *JobReport {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var r JobReport
	require.NoError(t, json.Unmarshal(data, &r))
	return &r
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "# Alpha\n\nFirst document in the corpus.",
		"b.md": "# Beta\n\nSecond document in the corpus.",
		"c.md": "# Gamma\n\nThird document in the corpus.",
	})
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ModeIncrementalSync, res.Mode)
	assert.Equal(t, 3, res.Stats.DocumentsProcessed)
	assert.Equal(t, types.ChangeCounts{New: 3, Modified: 0, Deleted: 0, Unchanged: 0}, res.Stats.Changes)
	assert.Equal(t, 3, res.Stats.ChunksIndexed)

	records := loadLedger(t, cfg)
	require.Len(t, records, 3)
	assert.Contains(t, records, "a.md")
	assert.Len(t, records["a.md"].ChunkIDs, 1)

	report := readReport(t, res.ReportPath)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, StateDone, report.State)
	assert.Contains(t, report.StepsCompleted, StateLedgerCommit)
	assert.Contains(t, report.StepsCompleted, StateHealthCheck)
	assert.Contains(t, report.Artifacts, cfg.Ledger.Path)
	require.NotNil(t, report.Health)
	assert.Equal(t, "healthy", report.Health.Overall)
}

func TestRunIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
	})
	p := newPipeline(t, cfg)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeIncrementalSync, first.Mode)

	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeNoop, second.Mode)
	assert.Equal(t, types.ChangeCounts{Unchanged: 2}, second.Stats.Changes)
	assert.Zero(t, second.Stats.ChunksIndexed)
	assert.Zero(t, second.Stats.ChunksDeleted)

	// The ledger round-trips unchanged, leaving a backup of the prior file.
	records := loadLedger(t, cfg)
	assert.Len(t, records, 2)
	report := readReport(t, second.ReportPath)
	var backups int
	for _, a := range report.Artifacts {
		if strings.HasSuffix(a, ".backup") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestRunSingleModifiedDocument(t *testing.T) {
	cfg := testConfig(t)
	files := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("document %d body", i)
	}
	writeCorpus(t, cfg.Source.Dir, files)
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"doc03.md": "document 3 body, revised",
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeIncrementalSync, res.Mode)
	assert.Equal(t, types.ChangeCounts{Modified: 1, Unchanged: 9}, res.Stats.Changes)
}

func TestRunFallbackThreshold(t *testing.T) {
	cfg := testConfig(t)
	files := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("document %d body", i)
	}
	writeCorpus(t, cfg.Source.Dir, files)
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	revised := make(map[string]string, 6)
	for i := 0; i < 6; i++ {
		revised[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("document %d body, revised", i)
	}
	writeCorpus(t, cfg.Source.Dir, revised)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeFullRebuild, res.Mode)
	assert.Equal(t, types.ChangeCounts{Modified: 6, Unchanged: 4}, res.Stats.Changes)
	assert.Equal(t, 10, res.Stats.ChunksIndexed)
}

func TestRunIncrementalModeSuppressesFallback(t *testing.T) {
	cfg := testConfig(t)
	files := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("document %d body", i)
	}
	writeCorpus(t, cfg.Source.Dir, files)
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	revised := make(map[string]string, 6)
	for i := 0; i < 6; i++ {
		revised[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("document %d body, revised", i)
	}
	writeCorpus(t, cfg.Source.Dir, revised)
	cfg.Run.Mode = config.ModeIncremental

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeIncrementalSync, res.Mode)
}

func TestRunForcedFullRebuild(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
	})
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	cfg.Run.Mode = config.ModeFull
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeFullRebuild, res.Mode)
	assert.Equal(t, types.ChangeCounts{Unchanged: 1}, res.Stats.Changes)
	assert.Equal(t, 1, res.Stats.ChunksIndexed)
}

func TestRunDeletedSource(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
		"c.md": "gamma content",
	})
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(cfg.Source.Dir, "b.md")))

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeIncrementalSync, res.Mode)
	assert.Equal(t, types.ChangeCounts{Deleted: 1, Unchanged: 2}, res.Stats.Changes)
	assert.Equal(t, 1, res.Stats.ChunksDeleted)

	records := loadLedger(t, cfg)
	assert.Len(t, records, 2)
	assert.NotContains(t, records, "b.md")

	collection, err := p.store.GetCollection(context.Background(), cfg.Index.Collection)
	require.NoError(t, err)
	sources, err := p.store.ListSources(context.Background(), collection.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "c.md"}, sources)
}

func TestRunDryRunMutatesNothing(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
	})
	cfg.Run.DryRun = true
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ModeIncrementalSync, res.Mode)
	assert.Contains(t, res.Message, "dry run")

	report := readReport(t, res.ReportPath)
	assert.Equal(t, StatusCompletedDryRun, report.Status)
	assert.NotContains(t, report.StepsCompleted, StateIncrementalSync)
	assert.NotContains(t, report.StepsCompleted, StateLedgerCommit)

	// No collection, no ledger.
	_, err = p.store.GetCollection(context.Background(), cfg.Index.Collection)
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
	_, err = os.Stat(cfg.Ledger.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailsOnCorruptLedgerButPersistsReport(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
	})
	require.NoError(t, os.WriteFile(cfg.Ledger.Path, []byte("not,a,ledger\ngarbage\n"), 0o644))
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ledger.ErrCorrupt)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.ReportPath)

	report := readReport(t, res.ReportPath)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.StepsCompleted, StateLoading)
	assert.NotContains(t, report.StepsCompleted, StateDiffing)
	assert.Equal(t, 1, report.Stats.DocumentsProcessed)
	require.NotEmpty(t, report.Errors)
}

func TestRunRejectedWhileLocked(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
	})
	p := newPipeline(t, cfg)

	lock := lockFor(cfg.Index.Collection)
	require.True(t, lock.TryAcquire())
	defer lock.Release()

	res, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ReportPath)
}

func TestRunInvalidConfigRejectedAtConstruction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chunking.Strategy = "mystery"

	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunEmptyCorpusColdStart(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ModeNoop, res.Mode)
	assert.Zero(t, res.Stats.DocumentsProcessed)
	assert.Empty(t, loadLedger(t, cfg))
}

func TestRunFallbackNeverFiresOnColdStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.FallbackThreshold = 0
	files := map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
	}
	writeCorpus(t, cfg.Source.Dir, files)
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeIncrementalSync, res.Mode)
}

func TestRunUsesConfiguredJobID(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
	})
	cfg.Run.JobID = "nightly-42"
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(res.ReportPath), "job_report_nightly-42_")
	report := readReport(t, res.ReportPath)
	assert.Equal(t, "nightly-42", report.JobID)
	assert.Greater(t, report.DurationSeconds, 0.0)
}

func TestDecideMode(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(t, cfg)

	tests := []struct {
		name       string
		runMode    string
		cs         *types.ChangeSet
		priorCount int
		want       string
	}{
		{
			name:    "forced full ignores empty change set",
			runMode: config.ModeFull,
			cs:      &types.ChangeSet{Unchanged: []string{"a"}},
			want:    ModeFullRebuild,
		},
		{
			name:       "auto above threshold rebuilds",
			runMode:    config.ModeAuto,
			cs:         &types.ChangeSet{Modified: []string{"a", "b", "c"}, Unchanged: []string{"d"}},
			priorCount: 4,
			want:       ModeFullRebuild,
		},
		{
			name:       "incremental mode overrides threshold",
			runMode:    config.ModeIncremental,
			cs:         &types.ChangeSet{Modified: []string{"a", "b", "c"}, Unchanged: []string{"d"}},
			priorCount: 4,
			want:       ModeIncrementalSync,
		},
		{
			name:       "no changes is a noop",
			runMode:    config.ModeAuto,
			cs:         &types.ChangeSet{Unchanged: []string{"a", "b"}},
			priorCount: 2,
			want:       ModeNoop,
		},
		{
			name:    "new sources sync incrementally",
			runMode: config.ModeAuto,
			cs:      &types.ChangeSet{New: []string{"a"}},
			want:    ModeIncrementalSync,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.cfg.Run.Mode = tt.runMode
			assert.Equal(t, tt.want, p.decideMode(tt.cs, tt.priorCount))
		})
	}
}

func TestRunReplacesModifiedChunksInIndex(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "original alpha body",
	})
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "revised alpha body",
	})
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeIncrementalSync, res.Mode)

	collection, err := p.store.GetCollection(context.Background(), cfg.Index.Collection)
	require.NoError(t, err)
	chunks, err := p.store.ListChunksBySource(context.Background(), collection.ID, "a.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "revised")

	// Ledger chunk ids point at the replacement, not the original.
	records := loadLedger(t, cfg)
	require.Len(t, records["a.md"].ChunkIDs, 1)
	assert.Equal(t, chunks[0].ChunkUUID, records["a.md"].ChunkIDs[0])
}

func TestRunUpdatesCollectionStats(t *testing.T) {
	cfg := testConfig(t)
	writeCorpus(t, cfg.Source.Dir, map[string]string{
		"a.md": "alpha content",
		"b.md": "beta content",
	})
	p := newPipeline(t, cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	collection, err := p.store.GetCollection(context.Background(), cfg.Index.Collection)
	require.NoError(t, err)
	assert.Equal(t, 2, collection.TotalChunks)
	assert.False(t, collection.LastSyncedAt.IsZero())
}

func TestRunLockSingleWinner(t *testing.T) {
	var lock RunLock

	const goroutines = 20
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			results <- lock.TryAcquire()
		}()
	}

	wins := 0
	for i := 0; i < goroutines; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	lock.Release()
	assert.True(t, lock.TryAcquire())
}

func TestLockForReturnsSameLockPerCollection(t *testing.T) {
	a := lockFor("pipeline-lock-test")
	b := lockFor("pipeline-lock-test")
	other := lockFor("pipeline-lock-test-other")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)

	require.True(t, a.TryAcquire())
	assert.False(t, b.TryAcquire())
	a.Release()
}

func TestReportAdvanceSkipsFailedState(t *testing.T) {
	r := &JobReport{State: StateInit}
	r.advance(StateLoading)
	r.advance(StateDiffing)
	assert.Equal(t, []string{StateInit, StateLoading}, r.StepsCompleted)

	r.State = StateFailed
	r.advance(StateDone)
	assert.Equal(t, []string{StateInit, StateLoading}, r.StepsCompleted)
}

func TestReportPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Source.Dir = "/tmp/content"

	r := newReport("job-7", cfg)
	r.Stats.DocumentsProcessed = 4
	r.Errors = append(r.Errors, "load: posts/x.md: unreadable")
	r.finish(StatusCompleted)

	path, err := r.Persist(filepath.Join(dir, "nested", "reports"))
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "job_report_job-7_")

	got := readReport(t, path)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 4, got.Stats.DocumentsProcessed)
	assert.Equal(t, r.Errors, got.Errors)
	assert.False(t, got.StartTime.IsZero())
}

func TestResultCarriesRunError(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Ledger.Path, []byte("broken"), 0o644))
	p := newPipeline(t, cfg)

	res, err := p.Run(context.Background())
	require.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.False(t, res.Success)
	assert.Equal(t, res.Message, err.Error())
}
