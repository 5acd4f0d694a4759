package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/calder-labs/vecpipe/pkg/types"
)

// maxRemoteBodyBytes caps a single fetched page so one oversized response
// cannot exhaust memory.
const maxRemoteBodyBytes = 8 << 20

// fetchRemote retrieves the configured remote URLs with bounded concurrency.
// Failures are per-URL: a bad URL is recorded and the rest proceed. Remote
// content is appended verbatim, no front matter parsing.
func (l *Loader) fetchRemote(ctx context.Context, res *Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.FetchConcurrency)

	docs := make([]types.Document, len(l.cfg.RemoteURLs))
	fetched := make([]bool, len(l.cfg.RemoteURLs))
	var mu sync.Mutex

	for i, url := range l.cfg.RemoteURLs {
		g.Go(func() error {
			doc, err := l.fetchOne(gctx, url)
			if err != nil {
				l.logger.Warn("remote fetch failed", "url", url, "error", err)
				mu.Lock()
				res.Errors = append(res.Errors, types.NewItemError("load", url, types.ErrLoad, err))
				mu.Unlock()
				return nil
			}
			docs[i] = doc
			fetched[i] = true
			return nil
		})
	}
	// Goroutines record their own failures and never return an error.
	_ = g.Wait()

	// Configuration order, not completion order.
	for i := range docs {
		if fetched[i] {
			res.Documents = append(res.Documents, docs[i])
		}
	}
}

func (l *Loader) fetchOne(ctx context.Context, url string) (types.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/markdown, text/plain, text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return types.Document{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return types.Document{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBodyBytes))
	if err != nil {
		return types.Document{}, fmt.Errorf("read body: %w", err)
	}

	content := string(body)
	return types.Document{
		SourceID: url,
		Content:  content,
		Metadata: types.Metadata{
			Title:         url,
			CanonicalURL:  url,
			Published:     true,
			ContentLength: len(content),
			ContentHash:   l.hasher.SumString(content),
		},
	}, nil
}
