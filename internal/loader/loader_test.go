package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/hashing"
	"github.com/calder-labs/vecpipe/pkg/types"
)

func newTestLoader(t *testing.T, cfg config.SourceConfig) *Loader {
	t.Helper()

	if cfg.Pattern == "" {
		cfg.Pattern = "*.md"
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = config.Duration(5 * time.Second)
	}

	hasher, err := hashing.New(hashing.SHA256)
	require.NoError(t, err)

	l, err := New(cfg, hasher)
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func findDoc(t *testing.T, docs []types.Document, sourceID string) types.Document {
	t.Helper()
	for _, d := range docs {
		if d.SourceID == sourceID {
			return d
		}
	}
	t.Fatalf("document %q not loaded", sourceID)
	return types.Document{}
}

func TestLoadYAMLFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "posts/hello-world.md", `---
title: Hello World
date: 2024-01-15
categories:
  - go
  - search
published: true
cover: /img/hello.png
---
The body of the post.
`)

	l := newTestLoader(t, config.SourceConfig{
		Dir:           dir,
		BaseURL:       "https://blog.example.com",
		ContentSuffix: ".md",
	})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Empty(t, res.Errors)

	doc := res.Documents[0]
	assert.Equal(t, "posts/hello-world.md", doc.SourceID)
	assert.Equal(t, "The body of the post.\n", doc.Content)
	assert.Equal(t, "Hello World", doc.Metadata.Title)
	assert.Equal(t, "2024-01-15", doc.Metadata.Date)
	assert.Equal(t, []string{"go", "search"}, doc.Metadata.Categories)
	assert.True(t, doc.Metadata.Published)
	assert.Equal(t, "/img/hello.png", doc.Metadata.Cover)
	assert.Equal(t, "https://blog.example.com/posts/hello-world", doc.Metadata.CanonicalURL)
	assert.Equal(t, len(doc.Content), doc.Metadata.ContentLength)
	assert.Len(t, doc.Metadata.ContentHash, 64)
}

func TestLoadTOMLFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", `+++
title = "TOML Note"
date = 2023-06-01
categories = ["infra"]
image = "/img/note.jpg"
+++
Body here.
`)

	l := newTestLoader(t, config.SourceConfig{Dir: dir})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	assert.Equal(t, "TOML Note", doc.Metadata.Title)
	assert.Equal(t, "2023-06-01", doc.Metadata.Date)
	assert.Equal(t, []string{"infra"}, doc.Metadata.Categories)
	assert.Equal(t, "/img/note.jpg", doc.Metadata.Cover)
	assert.Equal(t, "Body here.\n", doc.Content)
}

func TestLoadWithoutFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "getting-started.md", "Just content, no header.\n")

	l := newTestLoader(t, config.SourceConfig{Dir: dir})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	assert.Equal(t, "getting started", doc.Metadata.Title)
	assert.Equal(t, "Just content, no header.\n", doc.Content)
	assert.True(t, doc.Metadata.Published)
	assert.Empty(t, res.Errors)
}

func TestLoadMalformedFrontMatterKeepsDocument(t *testing.T) {
	dir := t.TempDir()
	raw := "---\ntitle: [unclosed\n---\nStill worth indexing.\n"
	writeFile(t, dir, "broken-post.md", raw)

	l := newTestLoader(t, config.SourceConfig{Dir: dir})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Errors, 1)

	doc := res.Documents[0]
	assert.Equal(t, "broken post", doc.Metadata.Title)
	assert.Equal(t, raw, doc.Content, "raw content kept when front matter cannot be trusted")
	assert.NotEmpty(t, doc.Metadata.ContentHash)

	itemErr := res.Errors[0]
	assert.Equal(t, "parse", itemErr.Stage)
	assert.Equal(t, "broken-post.md", itemErr.Source)
	assert.ErrorIs(t, itemErr, types.ErrParse)
}

func TestLoadUnterminatedFrontMatter(t *testing.T) {
	dir := t.TempDir()
	raw := "---\ntitle: Never Closed\nBody swallowed by the block.\n"
	writeFile(t, dir, "open.md", raw)

	l := newTestLoader(t, config.SourceConfig{Dir: dir})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, raw, res.Documents[0].Content)
	assert.ErrorIs(t, res.Errors[0], types.ErrParse)
}

func TestPublishedOnlyPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "draft.md", "---\ntitle: Draft\npublished: false\n---\nNot yet.\n")
	writeFile(t, dir, "live.md", "---\ntitle: Live\npublished: true\n---\nShipped.\n")
	writeFile(t, dir, "implicit.md", "---\ntitle: Implicit\n---\nNo flag at all.\n")

	t.Run("enabled", func(t *testing.T) {
		l := newTestLoader(t, config.SourceConfig{Dir: dir, PublishedOnly: true})
		res, err := l.Load(context.Background())
		require.NoError(t, err)

		assert.Len(t, res.Documents, 2)
		assert.Equal(t, 1, res.Skipped)
		findDoc(t, res.Documents, "live.md")
		findDoc(t, res.Documents, "implicit.md")
	})

	t.Run("disabled", func(t *testing.T) {
		l := newTestLoader(t, config.SourceConfig{Dir: dir})
		res, err := l.Load(context.Background())
		require.NoError(t, err)

		assert.Len(t, res.Documents, 3)
		assert.Equal(t, 0, res.Skipped)
	})
}

func TestDiscoverySkipsHiddenDirsAndNonMatching(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "visible.md", "a\n")
	writeFile(t, dir, "nested/deep.md", "b\n")
	writeFile(t, dir, ".obsidian/workspace.md", "editor state\n")
	writeFile(t, dir, "notes.txt", "wrong extension\n")

	l := newTestLoader(t, config.SourceConfig{Dir: dir})

	res, err := l.Load(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, d := range res.Documents {
		ids = append(ids, d.SourceID)
	}
	assert.Equal(t, []string{"nested/deep.md", "visible.md"}, ids, "sorted, hidden and non-matching excluded")
}

func TestLoadMissingDirFails(t *testing.T) {
	l := newTestLoader(t, config.SourceConfig{Dir: filepath.Join(t.TempDir(), "absent")})

	_, err := l.Load(context.Background())
	require.Error(t, err)
}

func TestRemoteFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("remote page content"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	okURL := srv.URL + "/ok"
	badURL := srv.URL + "/boom"

	l := newTestLoader(t, config.SourceConfig{
		RemoteURLs: []string{okURL, badURL},
	})

	res, err := l.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	assert.Equal(t, okURL, doc.SourceID)
	assert.Equal(t, okURL, doc.Metadata.CanonicalURL)
	assert.Equal(t, "remote page content", doc.Content)
	assert.True(t, doc.Metadata.Published)
	assert.NotEmpty(t, doc.Metadata.ContentHash)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, badURL, res.Errors[0].Source)
	assert.Equal(t, "load", res.Errors[0].Stage)
	assert.ErrorIs(t, res.Errors[0], types.ErrLoad)
}

func TestRemoteFetchPreservesConfigOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First URL responds slower than the second.
		if r.URL.Path == "/a" {
			time.Sleep(30 * time.Millisecond)
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	l := newTestLoader(t, config.SourceConfig{
		RemoteURLs: []string{srv.URL + "/a", srv.URL + "/b"},
	})

	res, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, srv.URL+"/a", res.Documents[0].SourceID)
	assert.Equal(t, srv.URL+"/b", res.Documents[1].SourceID)
}

func TestNewValidation(t *testing.T) {
	hasher, err := hashing.New(hashing.SHA256)
	require.NoError(t, err)

	_, err = New(config.SourceConfig{}, hasher)
	assert.Error(t, err, "no sources configured")

	_, err = New(config.SourceConfig{Dir: "x", Pattern: "[unclosed"}, hasher)
	assert.Error(t, err, "malformed glob pattern")

	_, err = New(config.SourceConfig{RemoteURLs: []string{"https://example.com/page"}, Pattern: "*.md"}, hasher)
	assert.Error(t, err, "zero fetch concurrency with remote sources")

	_, err = New(config.SourceConfig{Dir: "x", Pattern: "*.md"}, nil)
	assert.Error(t, err, "nil hasher")
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string passthrough", "January 2024", "January 2024"},
		{"midnight time", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), "2024-03-09"},
		{"timestamped", time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC), "2024-03-09T14:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDate(tt.in))
		})
	}
}
