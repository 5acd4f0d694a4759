package chunker

import (
	"context"

	"github.com/calder-labs/vecpipe/internal/config"
)

// adaptiveFloor is the smallest window the adaptive mode will shrink to.
const adaptiveFloor = 500

// fixedWindow splits text into overlapping rune windows. Consecutive
// windows share overlap runes, so concatenating them with the overlap
// stripped reconstructs the original text exactly.
type fixedWindow struct {
	size     int
	overlap  int
	adaptive bool
}

func (f *fixedWindow) Name() string {
	return config.StrategyFixedWindow
}

func (f *fixedWindow) Split(_ context.Context, text string) ([]string, error) {
	runes := []rune(text)
	size, overlap := f.size, f.overlap
	if f.adaptive {
		size, overlap = adaptiveWindow(len(runes), size, overlap)
	}
	if len(runes) <= size {
		return []string{text}, nil
	}

	step := size - overlap
	var segments []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(runes) {
			segments = append(segments, string(runes[start:]))
			break
		}
		segments = append(segments, string(runes[start:end]))
	}
	return segments, nil
}

// adaptiveWindow scales the window to roughly a tenth of the text, floored
// at adaptiveFloor, and never grows beyond the configured size. Overlap
// shrinks in proportion so the shared region keeps its relative weight.
func adaptiveWindow(textLen, size, overlap int) (int, int) {
	target := textLen / 10
	if target < adaptiveFloor {
		target = adaptiveFloor
	}
	if target >= size {
		return size, overlap
	}
	return target, overlap * target / size
}
