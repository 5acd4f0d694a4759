package types

import "errors"

// Metadata describes a document's front matter and derived attributes.
// Chunks inherit their parent document's metadata unchanged.
type Metadata struct {
	Title         string
	CanonicalURL  string
	Date          string
	Categories    []string
	Published     bool
	Cover         string
	ContentLength int
	ContentHash   string
}

// Document is one ingested content unit: a local file or a fetched remote
// page. Documents are immutable once loaded for a run.
type Document struct {
	// SourceID identifies the document across runs: the path relative to
	// the source directory for local files, the full URL for remote pages.
	SourceID string

	// Content is the document body with any front matter block removed.
	Content string

	Metadata Metadata
}

// Validate checks that the document carries the fields change detection
// depends on.
func (d *Document) Validate() error {
	if d.SourceID == "" {
		return errors.New("document source id is required")
	}
	if d.Metadata.ContentHash == "" {
		return errors.New("document content hash must be computed")
	}
	return nil
}
