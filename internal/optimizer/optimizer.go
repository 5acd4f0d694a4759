// Package optimizer sizes batches against available memory, derives chunking
// parameters from corpus shape, and records per-operation throughput.
package optimizer

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/calder-labs/vecpipe/pkg/types"
)

// Batch size bounds. Pathological inputs must never produce a zero or
// unbounded batch.
const (
	MinBatchSize = 10
	MaxBatchSize = 1000

	// defaultItemSizeBytes approximates one chunk plus its embedding when the
	// caller has no measurement.
	defaultItemSizeBytes = 4096

	// batchMemoryShare is the fraction of available memory one in-flight
	// batch may occupy.
	batchMemoryShare = 4

	// nominalBudgetMB is the working-set assumption when the platform gives
	// no better signal.
	nominalBudgetMB = 1024
	minBudgetMB     = 64
)

// BatchSize picks how many chunks to embed and insert per transaction.
// The result is bounded to [MinBatchSize, MaxBatchSize].
func BatchSize(totalItems, availableMemoryMB, itemSizeBytes int) int {
	if itemSizeBytes <= 0 {
		itemSizeBytes = defaultItemSizeBytes
	}
	if availableMemoryMB <= 0 {
		availableMemoryMB = minBudgetMB
	}

	budgetBytes := availableMemoryMB * (1 << 20) / batchMemoryShare
	size := budgetBytes / itemSizeBytes

	if totalItems > 0 && size > totalItems {
		size = totalItems
	}
	if size < MinBatchSize {
		return MinBatchSize
	}
	if size > MaxBatchSize {
		return MaxBatchSize
	}
	return size
}

// ChunkingParameters derives a window size and overlap from the observed
// document length distribution. Short corpora get small windows so single
// documents still produce several chunks; long-form corpora get larger
// windows to keep chunk counts manageable.
func ChunkingParameters(docs []types.Document) (size, overlap int) {
	if len(docs) == 0 {
		return 1000, 100
	}

	lengths := make([]int, len(docs))
	for i, doc := range docs {
		lengths[i] = len(doc.Content)
	}
	sort.Ints(lengths)
	median := lengths[len(lengths)/2]

	switch {
	case median < 3000:
		size = 500
	case median < 12000:
		size = 1000
	default:
		size = 1500
	}
	return size, size / 10
}

// SystemMemoryMB estimates memory headroom for batch sizing from the Go
// runtime's view of the heap. It assumes a nominal working budget and
// subtracts live allocations, flooring at minBudgetMB so sizing never
// collapses.
func SystemMemoryMB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	used := int(m.HeapAlloc >> 20)
	available := nominalBudgetMB - used
	if available < minBudgetMB {
		return minBudgetMB
	}
	return available
}

// Metrics records one monitored operation.
type Metrics struct {
	Operation  string        `json:"operation"`
	Duration   time.Duration `json:"duration"`
	DocCount   int           `json:"doc_count"`
	ChunkCount int           `json:"chunk_count"`
	DocsPerSec float64       `json:"docs_per_sec"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Optimizer accumulates operation metrics across a run.
type Optimizer struct {
	mu      sync.Mutex
	history []Metrics
}

// New creates an Optimizer with empty history.
func New() *Optimizer {
	return &Optimizer{
		history: make([]Metrics, 0),
	}
}

// MonitorOperation computes throughput for a finished operation and appends
// it to the history. Throughput is 0 when docCount is 0 or the operation
// finished within clock resolution, never a division error.
func (o *Optimizer) MonitorOperation(name string, start time.Time, docCount, chunkCount int) Metrics {
	duration := time.Since(start)

	var docsPerSec float64
	if docCount > 0 && duration > 0 {
		docsPerSec = float64(docCount) / duration.Seconds()
	}

	m := Metrics{
		Operation:  name,
		Duration:   duration,
		DocCount:   docCount,
		ChunkCount: chunkCount,
		DocsPerSec: docsPerSec,
		RecordedAt: time.Now(),
	}

	o.mu.Lock()
	o.history = append(o.history, m)
	o.mu.Unlock()

	return m
}

// History returns a copy of the recorded metrics.
func (o *Optimizer) History() []Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Metrics, len(o.history))
	copy(out, o.history)
	return out
}

// OperationSummary aggregates all recordings of one operation name.
type OperationSummary struct {
	Count         int           `json:"count"`
	TotalDocs     int           `json:"total_docs"`
	TotalChunks   int           `json:"total_chunks"`
	TotalDuration time.Duration `json:"total_duration"`
	DocsPerSec    float64       `json:"docs_per_sec"`
}

// Summary aggregates history by operation name.
func (o *Optimizer) Summary() map[string]OperationSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary := make(map[string]OperationSummary)
	for _, m := range o.history {
		s := summary[m.Operation]
		s.Count++
		s.TotalDocs += m.DocCount
		s.TotalChunks += m.ChunkCount
		s.TotalDuration += m.Duration
		summary[m.Operation] = s
	}

	for name, s := range summary {
		if s.TotalDocs > 0 && s.TotalDuration > 0 {
			s.DocsPerSec = float64(s.TotalDocs) / s.TotalDuration.Seconds()
		}
		summary[name] = s
	}
	return summary
}

// Clear drops the recorded history.
func (o *Optimizer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = o.history[:0]
}

// String renders the summary for log output, operations sorted by name.
func (o *Optimizer) String() string {
	summary := o.Summary()

	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		s := summary[name]
		fmt.Fprintf(&b, "%s: %d ops, %d docs, %d chunks, %.1f docs/sec",
			name, s.Count, s.TotalDocs, s.TotalChunks, s.DocsPerSec)
	}
	return b.String()
}
