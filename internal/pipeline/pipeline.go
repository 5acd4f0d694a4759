// Package pipeline sequences one synchronization run as a state machine:
// load documents, diff against the checksum ledger, decide the run mode,
// chunk and index what changed, commit the ledger, and post-check health.
// Any state can fail the run; the job report is persisted regardless.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calder-labs/vecpipe/internal/chunker"
	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/embedder"
	"github.com/calder-labs/vecpipe/internal/hashing"
	"github.com/calder-labs/vecpipe/internal/health"
	"github.com/calder-labs/vecpipe/internal/index"
	"github.com/calder-labs/vecpipe/internal/ledger"
	"github.com/calder-labs/vecpipe/internal/loader"
	"github.com/calder-labs/vecpipe/internal/optimizer"
	"github.com/calder-labs/vecpipe/internal/storage"
	"github.com/calder-labs/vecpipe/pkg/types"
)

// Pipeline states.
const (
	StateInit            = "INIT"
	StateLoading         = "LOADING"
	StateDiffing         = "DIFFING"
	StateModeDecision    = "MODE_DECISION"
	StateFullRebuild     = "FULL_REBUILD"
	StateIncrementalSync = "INCREMENTAL_SYNC"
	StateNoop            = "NOOP"
	StateLedgerCommit    = "LEDGER_COMMIT"
	StateHealthCheck     = "HEALTH_CHECK"
	StateDone            = "DONE"
	StateFailed          = "FAILED"
)

// Run modes chosen at MODE_DECISION.
const (
	ModeFullRebuild     = "full_rebuild"
	ModeIncrementalSync = "incremental_sync"
	ModeNoop            = "noop"
)

// ErrRunInProgress is returned when another run already holds the target
// collection's lock.
var ErrRunInProgress = errors.New("run already in progress for collection")

// Result is what the entrypoint hands back to the caller. A scheduler uses
// the error signal for its own retry bookkeeping; the pipeline itself never
// retries a failed run.
type Result struct {
	Success         bool
	Message         string
	Mode            string
	Stats           Stats
	Errors          []string
	DurationSeconds float64
	ReportPath      string
}

// Pipeline wires the components for one synchronization target. Construct
// one per collection; instances are independent and may coexist.
type Pipeline struct {
	cfg    *config.Config
	loader *loader.Loader
	chunks *chunker.Service
	emb    embedder.Embedder
	store  storage.Store
	index  *index.Manager
	ledger *ledger.Ledger
	health *health.Checker
	opt    *optimizer.Optimizer
	logger *slog.Logger
}

// New validates the configuration and wires every component. Invalid
// strategy or provider settings fail here, never mid-run.
func New(cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := hashing.New(hashing.Algorithm(cfg.HashAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("hashing: %w", err)
	}

	ld, err := loader.New(cfg.Source, hasher)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	svc, err := chunker.New(cfg.Chunking, hasher, emb)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStore(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	mgr := index.NewManager(store, emb, cfg.Index)
	led := ledger.New(cfg.Ledger)

	return &Pipeline{
		cfg:    cfg,
		loader: ld,
		chunks: svc,
		emb:    emb,
		store:  store,
		index:  mgr,
		ledger: led,
		health: health.New(cfg, mgr, led),
		opt:    optimizer.New(),
		logger: slog.Default().With("component", "pipeline"),
	}, nil
}

// Close releases the underlying index store.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Metrics exposes the run's recorded operation metrics.
func (p *Pipeline) Metrics() *optimizer.Optimizer {
	return p.opt
}

// Health runs the composite health check without mutating anything.
func (p *Pipeline) Health(ctx context.Context) *health.Report {
	return p.health.Run(ctx)
}

// Query embeds text and returns the top matches from the collection. It is
// a verification surface for operators, not a retrieval API.
func (p *Pipeline) Query(ctx context.Context, text string, limit int) ([]storage.SearchResult, error) {
	h, err := p.index.Open(ctx, p.cfg.Index.Collection)
	if err != nil {
		return nil, err
	}
	return p.index.Search(ctx, h, text, limit)
}

// Run executes the state machine once. The returned Result always carries
// whatever stats accumulated before a failure, and the job report has been
// persisted by the time Run returns, success or not.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	jobID := p.cfg.Run.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	report := newReport(jobID, p.cfg)

	lock := lockFor(p.cfg.Index.Collection)
	if !lock.TryAcquire() {
		return p.fail(report, fmt.Errorf("%w: %s", ErrRunInProgress, p.cfg.Index.Collection))
	}
	defer lock.Release()

	p.logger.Info("run started",
		"job", jobID,
		"collection", p.cfg.Index.Collection,
		"run_mode", p.cfg.Run.Mode,
		"dry_run", p.cfg.Run.DryRun)

	report.advance(StateLoading)
	loaded, err := p.loader.Load(ctx)
	if err != nil {
		return p.fail(report, fmt.Errorf("load: %w", err))
	}
	for _, ie := range loaded.Errors {
		report.Errors = append(report.Errors, ie.Error())
	}
	docs := loaded.Documents
	report.Stats.DocumentsProcessed = len(docs)
	report.Stats.DocumentsSkipped = loaded.Skipped
	p.opt.MonitorOperation("load", report.StartTime, len(docs), 0)
	p.adviseChunking(docs)

	report.advance(StateDiffing)
	prior, err := p.ledger.Load()
	if err != nil {
		return p.fail(report, fmt.Errorf("ledger: %w", err))
	}
	cs := ledger.Diff(prior, docs)
	report.Stats.Changes = cs.Counts()

	report.advance(StateModeDecision)
	mode := p.decideMode(cs, len(prior))
	report.Mode = mode
	counts := report.Stats.Changes
	p.logger.Info("mode decided",
		"job", jobID,
		"mode", mode,
		"new", counts.New,
		"modified", counts.Modified,
		"deleted", counts.Deleted,
		"unchanged", counts.Unchanged)

	if p.cfg.Run.DryRun {
		return p.finishDryRun(report, mode)
	}

	var (
		h       *index.Handle
		records map[string]ledger.Record
	)
	switch mode {
	case ModeFullRebuild:
		report.advance(StateFullRebuild)
		h, records, err = p.fullRebuild(ctx, docs, report)
	case ModeIncrementalSync:
		report.advance(StateIncrementalSync)
		h, records, err = p.incrementalSync(ctx, docs, prior, cs, report)
	default:
		// Nothing changed. The ledger still round-trips through commit
		// below, but the index is not touched.
		report.advance(StateNoop)
		records = prior
	}
	if err != nil {
		return p.fail(report, err)
	}

	report.advance(StateLedgerCommit)
	commit, err := p.ledger.Commit(records)
	if err != nil {
		return p.fail(report, fmt.Errorf("ledger commit: %w", err))
	}
	if commit.BackupErr != nil {
		report.Errors = append(report.Errors, commit.BackupErr.Error())
	}
	if commit.BackupPath != "" {
		report.Artifacts = append(report.Artifacts, commit.BackupPath)
	}
	report.Artifacts = append(report.Artifacts, p.ledger.Path())

	if h != nil {
		if err := p.index.UpdateStats(ctx, h); err != nil {
			p.logger.Warn("collection stats update failed", "job", jobID, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("update stats: %v", err))
		}
	}

	report.advance(StateHealthCheck)
	report.Health = p.health.Run(ctx)

	report.advance(StateDone)
	report.StepsCompleted = append(report.StepsCompleted, StateDone)
	report.finish(StatusCompleted)

	msg := fmt.Sprintf("%s: %d new, %d modified, %d deleted, %d unchanged",
		mode, counts.New, counts.Modified, counts.Deleted, counts.Unchanged)
	p.logger.Info("run completed",
		"job", jobID,
		"mode", mode,
		"chunks_indexed", report.Stats.ChunksIndexed,
		"chunks_deleted", report.Stats.ChunksDeleted,
		"duration_seconds", report.DurationSeconds)
	return p.deliver(report, true, msg, nil)
}

// decideMode picks the run mode. A forced full mode always rebuilds; in
// auto mode the fallback threshold promotes a large change set to a
// rebuild; an empty change set is a no-op.
func (p *Pipeline) decideMode(cs *types.ChangeSet, priorCount int) string {
	if p.cfg.Run.Mode == config.ModeFull {
		return ModeFullRebuild
	}
	if p.cfg.Run.Mode == config.ModeAuto &&
		ledger.ExceedsFallbackThreshold(cs, priorCount, p.cfg.Ledger.FallbackThreshold) {
		return ModeFullRebuild
	}
	if cs.IsEmpty() {
		return ModeNoop
	}
	return ModeIncrementalSync
}

// fullRebuild drops and recreates the collection, then chunks and indexes
// every current document.
func (p *Pipeline) fullRebuild(ctx context.Context, docs []types.Document, report *JobReport) (*index.Handle, map[string]ledger.Record, error) {
	start := time.Now()
	name := p.cfg.Index.Collection

	if err := p.index.Drop(ctx, name); err != nil && !errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, nil, fmt.Errorf("drop collection: %w", err)
	}
	h, err := p.index.Create(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("create collection: %w", err)
	}

	records := make(map[string]ledger.Record, len(docs))
	byDoc := make(map[string][]*types.Chunk, len(docs))
	var all []*types.Chunk
	now := time.Now().UTC()
	for i := range docs {
		doc := &docs[i]
		chunks, err := p.chunks.ChunkDocument(ctx, doc)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", doc.SourceID, err)
		}
		all = append(all, chunks...)
		byDoc[doc.SourceID] = chunks
		records[doc.SourceID] = newRecord(doc, chunks, now)
	}
	report.Stats.ChunksCreated = len(all)
	p.logEfficiency(ModeFullRebuild, byDoc)

	added, err := p.index.AddChunks(ctx, h, all)
	report.Stats.ChunksIndexed = added
	if err != nil {
		return nil, nil, fmt.Errorf("index chunks: %w", err)
	}

	p.opt.MonitorOperation("full_rebuild", start, len(docs), added)
	return h, records, nil
}

// incrementalSync deletes removed sources, then replaces each new or
// modified source as one delete-before-insert unit. Unchanged sources keep
// their prior ledger records untouched.
func (p *Pipeline) incrementalSync(ctx context.Context, docs []types.Document, prior map[string]ledger.Record, cs *types.ChangeSet, report *JobReport) (*index.Handle, map[string]ledger.Record, error) {
	start := time.Now()

	h, err := p.index.OpenOrCreate(ctx, p.cfg.Index.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("open collection: %w", err)
	}

	byID := make(map[string]*types.Document, len(docs))
	for i := range docs {
		byID[docs[i].SourceID] = &docs[i]
	}

	records := make(map[string]ledger.Record, len(prior))
	for id, rec := range prior {
		records[id] = rec
	}

	for _, id := range cs.Deleted {
		removed, err := p.index.DeleteBySource(ctx, h, id)
		if err != nil {
			return nil, nil, fmt.Errorf("delete %s: %w", id, err)
		}
		report.Stats.ChunksDeleted += removed
		delete(records, id)
	}

	now := time.Now().UTC()
	changed := make([]string, 0, len(cs.New)+len(cs.Modified))
	changed = append(changed, cs.New...)
	changed = append(changed, cs.Modified...)
	byDoc := make(map[string][]*types.Chunk, len(changed))
	for _, id := range changed {
		doc := byID[id]
		chunks, err := p.chunks.ChunkDocument(ctx, doc)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		report.Stats.ChunksCreated += len(chunks)
		byDoc[id] = chunks

		removed, added, err := p.index.ReplaceSource(ctx, h, id, chunks)
		report.Stats.ChunksDeleted += removed
		report.Stats.ChunksIndexed += added
		if err != nil {
			return nil, nil, fmt.Errorf("replace %s: %w", id, err)
		}
		records[id] = newRecord(doc, chunks, now)
	}
	p.logEfficiency(ModeIncrementalSync, byDoc)

	p.opt.MonitorOperation("incremental_sync", start, len(changed), report.Stats.ChunksIndexed)
	return h, records, nil
}

// adviseChunking surfaces the window the corpus shape suggests when it
// differs from the configured one. Advisory only; the configured window
// always wins.
func (p *Pipeline) adviseChunking(docs []types.Document) {
	if p.cfg.Chunking.Strategy != config.StrategyFixedWindow || len(docs) == 0 {
		return
	}
	size, overlap := optimizer.ChunkingParameters(docs)
	if size == p.cfg.Chunking.ChunkSize {
		return
	}
	p.logger.Debug("corpus-derived chunk window",
		"suggested_size", size,
		"suggested_overlap", overlap,
		"configured_size", p.cfg.Chunking.ChunkSize,
		"configured_overlap", p.cfg.Chunking.ChunkOverlap)
}

// logEfficiency reports the chunk size distribution of an indexing pass at
// debug level.
func (p *Pipeline) logEfficiency(mode string, byDoc map[string][]*types.Chunk) {
	if len(byDoc) == 0 {
		return
	}
	eff := chunker.ComputeEfficiency(byDoc)
	p.logger.Debug("chunking efficiency",
		"mode", mode,
		"documents", eff.Documents,
		"chunks", eff.Chunks,
		"avg_chunk_size", eff.AvgChunkSize,
		"min_chunk_size", eff.MinChunkSize,
		"max_chunk_size", eff.MaxChunkSize,
		"chunks_per_doc", eff.ChunksPerDoc)
}

func newRecord(doc *types.Document, chunks []*types.Chunk, now time.Time) ledger.Record {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ledger.Record{
		SourceID:    doc.SourceID,
		ContentHash: doc.Metadata.ContentHash,
		IndexedAt:   now,
		ChunkIDs:    ids,
	}
}

// finishDryRun closes out a run that decided its mode but mutated nothing.
func (p *Pipeline) finishDryRun(report *JobReport, mode string) (*Result, error) {
	report.advance(StateDone)
	report.StepsCompleted = append(report.StepsCompleted, StateDone)
	report.finish(StatusCompletedDryRun)

	c := report.Stats.Changes
	msg := fmt.Sprintf("dry run: would apply %s (%d new, %d modified, %d deleted, %d unchanged)",
		mode, c.New, c.Modified, c.Deleted, c.Unchanged)
	p.logger.Info("dry run complete", "job", report.JobID, "mode", mode)
	return p.deliver(report, true, msg, nil)
}

// fail marks the run failed and persists whatever the report holds.
func (p *Pipeline) fail(report *JobReport, err error) (*Result, error) {
	failedAt := report.State
	report.State = StateFailed
	report.Errors = append(report.Errors, err.Error())
	report.finish(StatusFailed)

	p.logger.Error("run failed",
		"job", report.JobID,
		"failed_at", failedAt,
		"error", err)
	return p.deliver(report, false, err.Error(), err)
}

// deliver persists the report and shapes the caller-facing result. A report
// that cannot be persisted is logged and noted, never a reason to panic a
// finished run.
func (p *Pipeline) deliver(report *JobReport, success bool, msg string, runErr error) (*Result, error) {
	path, err := report.Persist(p.cfg.Run.OutputDir)
	if err != nil {
		p.logger.Error("job report not persisted", "job", report.JobID, "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("persist report: %v", err))
	}

	return &Result{
		Success:         success,
		Message:         msg,
		Mode:            report.Mode,
		Stats:           report.Stats,
		Errors:          report.Errors,
		DurationSeconds: report.DurationSeconds,
		ReportPath:      path,
	}, runErr
}
