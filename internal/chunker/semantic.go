package chunker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/embedder"
)

// semanticBreakpoint splits text where the embedding distance between
// adjacent sentences spikes. The breakpoint statistic decides which spikes
// count: percentile and gradient threshold against a percentile cut,
// standard_deviation and interquartile against mean plus scaled spread.
type semanticBreakpoint struct {
	emb            embedder.Embedder
	breakpointType string
	threshold      float64
	minChunkSize   int
}

func (s *semanticBreakpoint) Name() string {
	return config.StrategySemantic
}

func (s *semanticBreakpoint) Split(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}, nil
	}

	vectors, err := s.emb.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding sentences: %w", err)
	}

	distances := make([]float64, len(sentences)-1)
	for i := range distances {
		distances[i] = 1 - embedder.CosineSimilarity(vectors[i], vectors[i+1])
	}

	segments := assemble(sentences, s.breakpoints(distances))
	return mergeSmall(segments, s.minChunkSize), nil
}

// breakpoints returns the sentence indices that start a new segment.
// distances[i] is the distance between sentences i and i+1, so a spike at
// distance i breaks before sentence i+1.
func (s *semanticBreakpoint) breakpoints(distances []float64) map[int]bool {
	breaks := make(map[int]bool)

	if s.breakpointType == config.BreakpointGradient {
		// Threshold the rise between consecutive distances instead of the
		// distances themselves. A steep climb into boundary i+1 breaks
		// before sentence i+2.
		if len(distances) < 2 {
			return breaks
		}
		grads := make([]float64, len(distances)-1)
		for i := range grads {
			grads[i] = distances[i+1] - distances[i]
		}
		cut := percentile(grads, s.threshold)
		for i, g := range grads {
			if g > cut {
				breaks[i+2] = true
			}
		}
		return breaks
	}

	var cut float64
	switch s.breakpointType {
	case config.BreakpointPercentile:
		cut = percentile(distances, s.threshold)
	case config.BreakpointStdDev:
		mean, stddev := meanStddev(distances)
		cut = mean + s.threshold*stddev
	case config.BreakpointInterquartile:
		mean, _ := meanStddev(distances)
		iqr := percentile(distances, 75) - percentile(distances, 25)
		cut = mean + s.threshold*iqr
	}

	for i, d := range distances {
		if d > cut {
			breaks[i+1] = true
		}
	}
	return breaks
}

// assemble joins sentences into segments, starting a fresh segment at every
// break index.
func assemble(sentences []string, breaks map[int]bool) []string {
	var segments []string
	var current []string
	for i, sentence := range sentences {
		if i > 0 && breaks[i] {
			segments = append(segments, strings.Join(current, " "))
			current = nil
		}
		current = append(current, sentence)
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, " "))
	}
	return segments
}

// mergeSmall folds segments shorter than minSize runes into their
// predecessor. A tiny first segment has no predecessor and folds forward
// into the second instead.
func mergeSmall(segments []string, minSize int) []string {
	if minSize <= 0 || len(segments) <= 1 {
		return segments
	}

	var merged []string
	for _, segment := range segments {
		if len(merged) > 0 && len([]rune(segment)) < minSize {
			merged[len(merged)-1] += " " + segment
			continue
		}
		merged = append(merged, segment)
	}
	if len(merged) > 1 && len([]rune(merged[0])) < minSize {
		merged[1] = merged[0] + " " + merged[1]
		merged = merged[1:]
	}
	return merged
}

// splitSentences cuts text on sentence terminators and newlines. A
// terminator only ends a sentence when followed by whitespace or the end of
// the text, so decimal points and version strings survive intact.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	flush := func(end int) {
		sentence := strings.TrimSpace(string(runes[start:end]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = end
	}

	for i, r := range runes {
		switch r {
		case '\n':
			flush(i + 1)
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush(i + 1)
			}
		}
	}
	flush(len(runes))
	return sentences
}

// percentile computes the p-th percentile with linear interpolation between
// the two nearest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(rank)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
