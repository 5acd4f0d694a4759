package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/hashing"
	"github.com/calder-labs/vecpipe/pkg/types"
)

// Loader discovers local content files and remote pages and turns them into
// Documents ready for diffing and chunking.
type Loader struct {
	cfg    config.SourceConfig
	hasher *hashing.Hasher
	client *http.Client
	logger *slog.Logger
}

// Result carries the loaded documents plus per-item failures that were
// recovered instead of aborting the load.
type Result struct {
	Documents []types.Document
	// Skipped counts documents excluded by the published-only policy.
	Skipped int
	// Errors holds per-item load, parse, and checksum failures.
	Errors []*types.ItemError
}

// New builds a Loader over the given source configuration. At least one local
// directory or remote URL must be configured.
func New(cfg config.SourceConfig, hasher *hashing.Hasher) (*Loader, error) {
	if cfg.Dir == "" && len(cfg.RemoteURLs) == 0 {
		return nil, fmt.Errorf("loader: no source directory or remote URLs configured")
	}
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("loader: file pattern is required")
	}
	if _, err := filepath.Match(cfg.Pattern, "probe"); err != nil {
		return nil, fmt.Errorf("loader: invalid file pattern %q: %w", cfg.Pattern, err)
	}
	if len(cfg.RemoteURLs) > 0 && cfg.FetchConcurrency <= 0 {
		return nil, fmt.Errorf("loader: fetch concurrency must be positive")
	}
	if hasher == nil {
		return nil, fmt.Errorf("loader: hasher is required")
	}

	return &Loader{
		cfg:    cfg,
		hasher: hasher,
		client: &http.Client{Timeout: cfg.FetchTimeout.Std()},
		logger: slog.Default().With("component", "loader"),
	}, nil
}

// Load walks the source directory and fetches the remote URLs. Per-item
// failures are recorded in the Result; only a broken directory walk or
// context cancellation fails the call.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	res := &Result{}

	if l.cfg.Dir != "" {
		if err := l.loadLocal(ctx, res); err != nil {
			return nil, err
		}
	}
	if len(l.cfg.RemoteURLs) > 0 {
		l.fetchRemote(ctx, res)
	}

	l.logger.Info("load complete",
		"documents", len(res.Documents),
		"skipped", res.Skipped,
		"errors", len(res.Errors))
	return res, nil
}

func (l *Loader) loadLocal(ctx context.Context, res *Result) error {
	paths, err := l.discoverFiles()
	if err != nil {
		return fmt.Errorf("walk %s: %w", l.cfg.Dir, err)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, ok := l.loadFile(p, res)
		if !ok {
			continue
		}
		if l.cfg.PublishedOnly && !doc.Metadata.Published {
			res.Skipped++
			l.logger.Debug("excluded unpublished document", "source", doc.SourceID)
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return nil
}

// discoverFiles walks the source directory collecting files whose base name
// matches the configured glob. Hidden directories are skipped.
func (l *Loader) discoverFiles() ([]string, error) {
	var paths []string

	err := filepath.Walk(l.cfg.Dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if p != l.cfg.Dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := filepath.Match(l.cfg.Pattern, info.Name())
		if err != nil {
			return err
		}
		if matched {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deterministic document order across runs.
	sort.Strings(paths)
	return paths, nil
}

// loadFile reads and parses one local file. Unreadable files and malformed
// front matter are recorded in the result; the latter keeps the document with
// derived defaults.
func (l *Loader) loadFile(p string, res *Result) (types.Document, bool) {
	rel, err := filepath.Rel(l.cfg.Dir, p)
	if err != nil {
		rel = filepath.Base(p)
	}
	sourceID := filepath.ToSlash(rel)

	raw, err := os.ReadFile(p)
	if err != nil {
		l.logger.Warn("unreadable source skipped", "source", sourceID, "error", err)
		res.Errors = append(res.Errors, types.NewItemError("load", sourceID, types.ErrLoad, err))
		return types.Document{}, false
	}

	fm, body, err := parseFrontMatter(raw)
	if err != nil {
		l.logger.Warn("malformed front matter, using derived defaults", "source", sourceID, "error", err)
		res.Errors = append(res.Errors, types.NewItemError("parse", sourceID, types.ErrParse, err))
		fm = frontMatter{}
		body = raw
	}

	content := string(body)
	doc := types.Document{
		SourceID: sourceID,
		Content:  content,
		Metadata: l.metadataFor(sourceID, fm),
	}
	doc.Metadata.ContentLength = len(content)
	doc.Metadata.ContentHash = l.hasher.SumString(content)
	return doc, true
}

func (l *Loader) metadataFor(sourceID string, fm frontMatter) types.Metadata {
	title := fm.Title
	if title == "" {
		title = defaultTitle(sourceID)
	}
	cover := fm.Cover
	if cover == "" {
		cover = fm.Image
	}
	published := true
	if fm.Published != nil {
		published = *fm.Published
	}

	return types.Metadata{
		Title:        title,
		CanonicalURL: l.canonicalURL(sourceID),
		Date:         normalizeDate(fm.Date),
		Categories:   fm.Categories,
		Published:    published,
		Cover:        cover,
	}
}

// canonicalURL derives the public URL for a local source: the base URL joined
// with the relative path, content suffix stripped.
func (l *Loader) canonicalURL(sourceID string) string {
	if l.cfg.BaseURL == "" {
		return ""
	}
	p := strings.TrimSuffix(sourceID, l.cfg.ContentSuffix)
	return strings.TrimRight(l.cfg.BaseURL, "/") + "/" + p
}

// defaultTitle turns a source path into a readable fallback title.
func defaultTitle(sourceID string) string {
	base := path.Base(sourceID)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	return base
}
