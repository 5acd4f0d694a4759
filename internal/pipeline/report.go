package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/health"
	"github.com/calder-labs/vecpipe/pkg/types"
)

// Job statuses.
const (
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusCompletedDryRun = "completed_dry_run"
	StatusFailed          = "failed"
)

// Stats aggregates the counters accumulated over one run.
type Stats struct {
	DocumentsProcessed int                `json:"documents_processed"`
	DocumentsSkipped   int                `json:"documents_skipped"`
	ChunksCreated      int                `json:"chunks_created"`
	ChunksIndexed      int                `json:"chunks_indexed"`
	ChunksDeleted      int                `json:"chunks_deleted"`
	Changes            types.ChangeCounts `json:"changes"`
}

// ReportConfig is the sanitized configuration echo embedded in a report.
// Secrets never appear here.
type ReportConfig struct {
	SourceDir     string `json:"source_dir"`
	Pattern       string `json:"pattern"`
	Collection    string `json:"collection"`
	Strategy      string `json:"strategy"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	HashAlgorithm string `json:"hash_algorithm"`
	RunMode       string `json:"run_mode"`
	DryRun        bool   `json:"dry_run"`
}

// JobReport records one pipeline invocation. It is created at run start,
// mutated as states complete, and persisted regardless of outcome so a
// scheduler can always distinguish "nothing to do" from "something broke".
type JobReport struct {
	JobID           string         `json:"job_id"`
	Status          string         `json:"status"`
	State           string         `json:"state"`
	Mode            string         `json:"mode,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	Config          ReportConfig   `json:"config"`
	Stats           Stats          `json:"stats"`
	StepsCompleted  []string       `json:"steps_completed"`
	Artifacts       []string       `json:"artifacts"`
	Errors          []string       `json:"errors"`
	Health          *health.Report `json:"health,omitempty"`
}

func newReport(jobID string, cfg *config.Config) *JobReport {
	return &JobReport{
		JobID:     jobID,
		Status:    StatusRunning,
		State:     StateInit,
		StartTime: time.Now(),
		Config: ReportConfig{
			SourceDir:     cfg.Source.Dir,
			Pattern:       cfg.Source.Pattern,
			Collection:    cfg.Index.Collection,
			Strategy:      cfg.Chunking.Strategy,
			Provider:      cfg.Embedding.Provider,
			Model:         cfg.Embedding.Model,
			HashAlgorithm: cfg.HashAlgorithm,
			RunMode:       cfg.Run.Mode,
			DryRun:        cfg.Run.DryRun,
		},
		StepsCompleted: []string{},
		Artifacts:      []string{},
		Errors:         []string{},
	}
}

// advance moves to the next state, marking the prior one completed. A state
// interrupted by failure is never marked completed.
func (r *JobReport) advance(state string) {
	if r.State != "" && r.State != StateFailed {
		r.StepsCompleted = append(r.StepsCompleted, r.State)
	}
	r.State = state
}

// finish stamps the terminal status, end time, and duration.
func (r *JobReport) finish(status string) {
	r.Status = status
	r.EndTime = time.Now()
	r.DurationSeconds = r.EndTime.Sub(r.StartTime).Seconds()
}

// Persist writes the report as job_report_<jobID>_<timestamp>.json under
// dir, creating the directory when missing, and returns the path.
func (r *JobReport) Persist(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	stamp := r.EndTime
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := fmt.Sprintf("job_report_%s_%s.json", r.JobID, stamp.UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
