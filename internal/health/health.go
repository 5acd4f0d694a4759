package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/index"
	"github.com/calder-labs/vecpipe/internal/ledger"
	"github.com/calder-labs/vecpipe/internal/optimizer"
	"github.com/calder-labs/vecpipe/internal/storage"
)

// Check statuses, ordered by severity.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Check names.
const (
	CheckVectorIndex   = "vector_index"
	CheckLedger        = "ledger"
	CheckResources     = "resources"
	CheckConfiguration = "configuration"
	CheckBackups       = "backups"
)

// memoryWarningMB is the headroom below which batch work degrades.
const memoryWarningMB = 128

var statusRank = map[string]int{
	StatusHealthy:  0,
	StatusWarning:  1,
	StatusCritical: 2,
}

// Check is one named probe result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Report aggregates all checks. Overall is the worst sub-check status.
type Report struct {
	Overall         string           `json:"overall"`
	Checks          map[string]Check `json:"checks"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// Checker probes the vector index, the ledger, its backups, system
// resources, and the configuration. Sub-checks are independent: one failing
// never prevents the others from running.
type Checker struct {
	cfg     *config.Config
	manager *index.Manager
	ledger  *ledger.Ledger
	backups *ledger.BackupManager
	logger  *slog.Logger
}

// New builds a Checker over an existing manager and ledger.
func New(cfg *config.Config, mgr *index.Manager, led *ledger.Ledger) *Checker {
	return &Checker{
		cfg:     cfg,
		manager: mgr,
		ledger:  led,
		backups: ledger.NewBackupManager(cfg.Ledger.Path, cfg.Ledger.MaxBackups),
		logger:  slog.Default().With("component", "health"),
	}
}

// Run executes every check and aggregates the worst status.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{
		Overall:   StatusHealthy,
		Checks:    make(map[string]Check),
		CheckedAt: time.Now(),
	}

	records, ledgerCheck := c.checkLedger()
	c.add(report, ledgerCheck)
	c.add(report, c.checkVectorIndex(ctx, records))
	c.add(report, c.checkResources(report))
	c.add(report, c.checkConfiguration())
	c.add(report, c.checkBackups(report))

	c.logger.Info("health check complete", "overall", report.Overall)
	return report
}

// add records a check and folds its status into the overall result.
func (c *Checker) add(report *Report, check Check) {
	report.Checks[check.Name] = check
	if statusRank[check.Status] > statusRank[report.Overall] {
		report.Overall = check.Status
	}
	if check.Status == StatusCritical {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", check.Name, check.Message))
	}
}

// checkLedger loads the ledger and validates its row consistency. The
// loaded records are reused by the vector index check; nil means the ledger
// could not be read.
func (c *Checker) checkLedger() (map[string]ledger.Record, Check) {
	records, err := c.ledger.Load()
	if errors.Is(err, ledger.ErrCorrupt) {
		return nil, Check{
			Name:    CheckLedger,
			Status:  StatusCritical,
			Message: err.Error(),
		}
	}
	if err != nil {
		return nil, Check{
			Name:    CheckLedger,
			Status:  StatusCritical,
			Message: fmt.Sprintf("ledger unreadable: %v", err),
		}
	}

	if len(records) == 0 {
		return records, Check{
			Name:    CheckLedger,
			Status:  StatusHealthy,
			Message: "ledger empty (cold start)",
		}
	}

	chunks := 0
	for _, rec := range records {
		chunks += len(rec.ChunkIDs)
	}
	return records, Check{
		Name:    CheckLedger,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d sources, %d chunks recorded", len(records), chunks),
	}
}

// checkVectorIndex probes the collection and compares its chunk count to
// the ledger's. An unreachable index is critical; a count drift is a
// warning (the next sync repairs it).
func (c *Checker) checkVectorIndex(ctx context.Context, records map[string]ledger.Record) Check {
	name := c.cfg.Index.Collection

	h, err := c.manager.Open(ctx, name)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		if len(records) > 0 {
			return Check{
				Name:    CheckVectorIndex,
				Status:  StatusWarning,
				Message: fmt.Sprintf("collection %q missing but ledger records %d sources", name, len(records)),
			}
		}
		return Check{
			Name:    CheckVectorIndex,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("collection %q not yet created", name),
		}
	}
	if err != nil {
		return Check{
			Name:    CheckVectorIndex,
			Status:  StatusCritical,
			Message: fmt.Sprintf("vector index unreachable: %v", err),
		}
	}

	count, err := c.manager.Count(ctx, h)
	if err != nil {
		return Check{
			Name:    CheckVectorIndex,
			Status:  StatusCritical,
			Message: fmt.Sprintf("vector index unreachable: %v", err),
		}
	}

	// Without a readable ledger there is nothing to cross-check against.
	if records == nil {
		return Check{
			Name:    CheckVectorIndex,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("collection %q holds %d chunks", name, count),
		}
	}

	expected := 0
	for _, rec := range records {
		expected += len(rec.ChunkIDs)
	}
	if count != expected {
		return Check{
			Name:    CheckVectorIndex,
			Status:  StatusWarning,
			Message: fmt.Sprintf("collection %q holds %d chunks but ledger records %d", name, count, expected),
		}
	}

	return Check{
		Name:    CheckVectorIndex,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("collection %q holds %d chunks, consistent with ledger", name, count),
	}
}

// checkResources reports memory headroom for batch sizing.
func (c *Checker) checkResources(report *Report) Check {
	available := optimizer.SystemMemoryMB()
	if available < memoryWarningMB {
		report.Recommendations = append(report.Recommendations,
			"memory headroom is low; lower index.batch_size or raise the process memory limit")
		return Check{
			Name:    CheckResources,
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d MB memory headroom (below %d MB)", available, memoryWarningMB),
		}
	}
	return Check{
		Name:    CheckResources,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d MB memory headroom", available),
	}
}

// checkConfiguration re-validates the loaded configuration: thresholds in
// range, embedding model and hash algorithm set.
func (c *Checker) checkConfiguration() Check {
	if c.cfg == nil {
		return Check{
			Name:    CheckConfiguration,
			Status:  StatusCritical,
			Message: "no configuration loaded",
		}
	}
	if err := c.cfg.Validate(); err != nil {
		return Check{
			Name:    CheckConfiguration,
			Status:  StatusCritical,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    CheckConfiguration,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("valid (provider %s, hash %s)", c.cfg.Embedding.Provider, c.cfg.HashAlgorithm),
	}
}

// checkBackups flags retention overruns and stale latest backups.
func (c *Checker) checkBackups(report *Report) Check {
	files, err := c.backups.List()
	if err != nil {
		return Check{
			Name:    CheckBackups,
			Status:  StatusWarning,
			Message: fmt.Sprintf("cannot list backups: %v", err),
		}
	}

	if len(files) == 0 {
		return Check{
			Name:    CheckBackups,
			Status:  StatusHealthy,
			Message: "no backups retained yet",
		}
	}

	if len(files) > c.cfg.Ledger.MaxBackups {
		report.Recommendations = append(report.Recommendations,
			"backup count exceeds retention; pruning may be failing, check ledger directory permissions")
		return Check{
			Name:    CheckBackups,
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d backups exceed retention of %d", len(files), c.cfg.Ledger.MaxBackups),
		}
	}

	maxAge := c.cfg.Ledger.MaxBackupAge.Std()
	if maxAge > 0 {
		newest := files[len(files)-1]
		if age := time.Since(newest.ModTime); age > maxAge {
			report.Recommendations = append(report.Recommendations,
				"latest ledger backup is stale; verify scheduled runs are committing")
			return Check{
				Name:    CheckBackups,
				Status:  StatusWarning,
				Message: fmt.Sprintf("latest backup is %s old (max %s)", age.Round(time.Minute), maxAge),
			}
		}
	}

	return Check{
		Name:    CheckBackups,
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d backups within retention", len(files)),
	}
}
