package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/pkg/types"
)

var (
	// ErrCorrupt marks an unreadable or inconsistent ledger file. This is
	// fatal for a run: syncing against a broken ledger would corrupt the
	// index view of the corpus.
	ErrCorrupt = errors.New("ledger file corrupt")

	// ErrBackup marks a failed pre-commit backup. Non-fatal: the commit
	// proceeds and the failure is surfaced through CommitResult.
	ErrBackup = errors.New("ledger backup failed")
)

var csvHeader = []string{"source", "content_checksum", "indexed_timestamp", "chunk_count", "chunk_ids"}

// Record is one ledger row: the indexed state of a single source. Exactly one
// record exists per live source; absence means the source was never indexed.
type Record struct {
	SourceID    string
	ContentHash string
	IndexedAt   time.Time
	ChunkIDs    []string
}

// Ledger persists per-source checksums between runs. It is the single
// authority for change detection: an absent or empty file means cold start.
type Ledger struct {
	path    string
	backups *BackupManager
	logger  *slog.Logger
}

// CommitResult reports what a commit did. BackupErr is non-fatal and set when
// the pre-commit backup could not be taken.
type CommitResult struct {
	Records    int
	BackupPath string
	BackupErr  error
}

// New builds a Ledger over the configured file path.
func New(cfg config.LedgerConfig) *Ledger {
	return &Ledger{
		path:    cfg.Path,
		backups: NewBackupManager(cfg.Path, cfg.MaxBackups),
		logger:  slog.Default().With("component", "ledger"),
	}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads all records keyed by source id. An absent or zero-byte file
// yields an empty ledger; any malformed row fails the whole load with
// ErrCorrupt.
func (l *Ledger) Load() (map[string]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !slices.Equal(header, csvHeader) {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrCorrupt, header)
	}

	records := make(map[string]Record)
	line := 1
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		if _, dup := records[rec.SourceID]; dup {
			return nil, fmt.Errorf("%w: duplicate source %q", ErrCorrupt, rec.SourceID)
		}
		records[rec.SourceID] = rec
	}
	return records, nil
}

// The csv reader pins rows to the header width, so rows here always have
// five fields.
func parseRow(row []string) (Record, error) {
	if row[0] == "" {
		return Record{}, fmt.Errorf("empty source")
	}
	ts, err := time.Parse(time.RFC3339, row[2])
	if err != nil {
		return Record{}, fmt.Errorf("bad timestamp %q", row[2])
	}
	count, err := strconv.Atoi(row[3])
	if err != nil || count < 0 {
		return Record{}, fmt.Errorf("bad chunk count %q", row[3])
	}
	var chunkIDs []string
	if row[4] != "" {
		chunkIDs = strings.Split(row[4], ";")
	}
	if count != len(chunkIDs) {
		return Record{}, fmt.Errorf("chunk count %d does not match %d chunk ids", count, len(chunkIDs))
	}

	return Record{
		SourceID:    row[0],
		ContentHash: row[1],
		IndexedAt:   ts,
		ChunkIDs:    chunkIDs,
	}, nil
}

// Commit atomically replaces the ledger with the given records: back up the
// current file, write a temp file, rename into place. A failed backup is
// logged and reported but never blocks the commit.
func (l *Ledger) Commit(records map[string]Record) (*CommitResult, error) {
	res := &CommitResult{Records: len(records)}

	backupPath, err := l.backups.Backup()
	if err != nil {
		l.logger.Warn("ledger backup failed, committing anyway", "error", err)
		res.BackupErr = fmt.Errorf("%w: %v", ErrBackup, err)
	} else {
		res.BackupPath = backupPath
	}

	if err := l.writeAtomic(records); err != nil {
		return res, err
	}

	l.logger.Info("ledger committed", "records", res.Records, "path", l.path)
	return res, nil
}

func (l *Ledger) writeAtomic(records map[string]Record) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ledger header: %w", err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		row := []string{
			id,
			rec.ContentHash,
			rec.IndexedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(len(rec.ChunkIDs)),
			strings.Join(rec.ChunkIDs, ";"),
		}
		if err := w.Write(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write ledger row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Diff partitions the current documents against prior ledger records. Every
// current source lands in exactly one of new, modified, or unchanged; sources
// present only in the ledger land in deleted.
func Diff(prior map[string]Record, docs []types.Document) *types.ChangeSet {
	cs := &types.ChangeSet{}
	seen := make(map[string]bool, len(docs))

	for _, doc := range docs {
		seen[doc.SourceID] = true
		rec, ok := prior[doc.SourceID]
		switch {
		case !ok:
			cs.New = append(cs.New, doc.SourceID)
		case rec.ContentHash != doc.Metadata.ContentHash:
			cs.Modified = append(cs.Modified, doc.SourceID)
		default:
			cs.Unchanged = append(cs.Unchanged, doc.SourceID)
		}
	}

	for id := range prior {
		if !seen[id] {
			cs.Deleted = append(cs.Deleted, id)
		}
	}

	sort.Strings(cs.New)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	sort.Strings(cs.Unchanged)
	return cs
}

// ExceedsFallbackThreshold reports whether the changed fraction of the prior
// ledger crosses the full-rebuild threshold. A cold start never triggers
// fallback: there is nothing to rebuild from.
func ExceedsFallbackThreshold(cs *types.ChangeSet, priorCount int, threshold float64) bool {
	if priorCount == 0 {
		return false
	}
	changed := len(cs.Modified) + len(cs.Deleted)
	return float64(changed)/float64(priorCount) > threshold
}
