package types

import (
	"errors"
	"fmt"
)

// Per-item failure classes. These are recovered during a run: the affected
// item is skipped or kept with defaults, and the failure is accumulated into
// the job report rather than aborting the pipeline.
var (
	// ErrLoad marks a source that could not be read or fetched.
	ErrLoad = errors.New("source load failed")
	// ErrParse marks malformed front matter; the document is kept with
	// defaults derived from its path.
	ErrParse = errors.New("front matter parse failed")
	// ErrChecksum marks a content fingerprint failure; the item is skipped.
	ErrChecksum = errors.New("checksum computation failed")
)

// ItemError records one recovered per-item failure with enough context to
// report it after the run.
type ItemError struct {
	// Source is the affected source id (path or URL).
	Source string
	// Stage names the pipeline step that recovered the failure.
	Stage string
	// Err is the underlying cause, wrapping one of the sentinel classes.
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Source, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError builds an ItemError wrapping the given sentinel class.
func NewItemError(stage, source string, class, cause error) *ItemError {
	return &ItemError{
		Source: source,
		Stage:  stage,
		Err:    fmt.Errorf("%w: %v", class, cause),
	}
}
