package loader

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Front matter fences. A file opening with --- carries YAML metadata, one
// opening with +++ carries TOML.
const (
	yamlFence = "---"
	tomlFence = "+++"
)

var errUnterminatedFrontMatter = errors.New("unterminated front matter block")

// frontMatter is the optional structured header of a content file.
// Published is a pointer so that an absent flag defaults to published.
type frontMatter struct {
	Title      string   `yaml:"title" toml:"title"`
	Date       any      `yaml:"date" toml:"date"`
	Categories []string `yaml:"categories" toml:"categories"`
	Published  *bool    `yaml:"published" toml:"published"`
	Cover      string   `yaml:"cover" toml:"cover"`
	Image      string   `yaml:"image" toml:"image"`
}

// parseFrontMatter splits raw file content into metadata and body. Content
// without a leading fence is returned unchanged with empty metadata.
func parseFrontMatter(raw []byte) (frontMatter, []byte, error) {
	var fm frontMatter

	fence, start := openingFence(raw)
	if fence == "" {
		return fm, raw, nil
	}

	rest := raw[start:]
	blockEnd, bodyStart := closingFence(rest, fence)
	if blockEnd < 0 {
		return fm, nil, errUnterminatedFrontMatter
	}

	block := rest[:blockEnd]
	body := rest[bodyStart:]

	var err error
	switch fence {
	case yamlFence:
		err = yaml.Unmarshal(block, &fm)
	case tomlFence:
		err = toml.Unmarshal(block, &fm)
	}
	if err != nil {
		return frontMatter{}, nil, fmt.Errorf("decode front matter: %w", err)
	}
	return fm, body, nil
}

// openingFence reports the fence at the very start of raw and the offset just
// past its line. A fence must occupy the whole first line.
func openingFence(raw []byte) (string, int) {
	for _, fence := range []string{yamlFence, tomlFence} {
		if !bytes.HasPrefix(raw, []byte(fence)) {
			continue
		}
		i := len(fence)
		if i < len(raw) && raw[i] == '\r' {
			i++
		}
		if i < len(raw) && raw[i] == '\n' {
			return fence, i + 1
		}
	}
	return "", 0
}

// closingFence locates the line holding the closing fence inside rest,
// returning the block end offset and the body start offset, or (-1, -1) when
// the block never closes.
func closingFence(rest []byte, fence string) (int, int) {
	offset := 0
	for offset < len(rest) {
		nl := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		next := len(rest)
		if nl >= 0 {
			line = rest[offset : offset+nl]
			next = offset + nl + 1
		} else {
			line = rest[offset:]
		}

		if string(bytes.TrimRight(line, "\r")) == fence {
			return offset, next
		}
		if nl < 0 {
			break
		}
		offset = next
	}
	return -1, -1
}

// normalizeDate flattens the decoded date value into a string. YAML resolves
// bare dates to time.Time, TOML to LocalDate or LocalDateTime; quoted values
// arrive as strings and pass through untouched.
func normalizeDate(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case time.Time:
		if d.Hour() == 0 && d.Minute() == 0 && d.Second() == 0 && d.Nanosecond() == 0 {
			return d.Format("2006-01-02")
		}
		return d.Format(time.RFC3339)
	case toml.LocalDate:
		return d.String()
	case toml.LocalDateTime:
		return d.String()
	default:
		return fmt.Sprint(d)
	}
}
