package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Nanosecond precision keeps names collision-free; fixed width keeps the
// lexical order chronological.
const backupTimeLayout = "20060102-150405.000000000"

// BackupFile is one retained ledger backup.
type BackupFile struct {
	Path    string
	ModTime time.Time
}

// BackupManager copies the ledger aside before each commit and prunes old
// copies beyond the retention count.
type BackupManager struct {
	path   string
	max    int
	logger *slog.Logger
}

// NewBackupManager protects the ledger at path, retaining at most maxBackups
// timestamped copies next to it.
func NewBackupManager(path string, maxBackups int) *BackupManager {
	return &BackupManager{
		path:   path,
		max:    maxBackups,
		logger: slog.Default().With("component", "ledger"),
	}
}

// Backup copies the current ledger to a timestamped sibling file and prunes
// the oldest copies beyond the retention count. No existing ledger means
// nothing to back up and an empty path is returned.
func (b *BackupManager) Backup() (string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read ledger: %w", err)
	}

	name := fmt.Sprintf("%s.%s.backup", b.path, time.Now().UTC().Format(backupTimeLayout))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	b.prune()
	return name, nil
}

// List returns the retained backups, oldest first.
func (b *BackupManager) List() ([]BackupFile, error) {
	dir := filepath.Dir(b.path)
	base := filepath.Base(b.path)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var files []BackupFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, base+".") || !strings.HasSuffix(name, ".backup") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, BackupFile{
			Path:    filepath.Join(dir, name),
			ModTime: info.ModTime(),
		})
	}

	// Timestamped names sort chronologically.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// prune drops the oldest backups beyond the retention count. Failures are
// logged, never surfaced: losing a prune must not fail a commit.
func (b *BackupManager) prune() {
	files, err := b.List()
	if err != nil {
		b.logger.Warn("backup listing failed during prune", "error", err)
		return
	}

	for len(files) > b.max {
		victim := files[0]
		if err := os.Remove(victim.Path); err != nil {
			b.logger.Warn("backup prune failed", "path", victim.Path, "error", err)
			return
		}
		files = files[1:]
	}
}
