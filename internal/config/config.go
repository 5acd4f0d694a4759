package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/calder-labs/vecpipe/internal/hashing"
)

// Run modes. Auto applies the fallback-threshold rule, incremental suppresses
// it (operator override), and full forces a rebuild regardless of the diff.
const (
	ModeAuto        = "auto"
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Chunking strategy names.
const (
	StrategyFixedWindow = "fixed_window"
	StrategySemantic    = "semantic"
)

// Semantic breakpoint statistics.
const (
	BreakpointPercentile    = "percentile"
	BreakpointStdDev        = "standard_deviation"
	BreakpointInterquartile = "interquartile"
	BreakpointGradient      = "gradient"
)

// ErrInvalid wraps all configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Duration wraps time.Duration so TOML values like "2s" or "500ms" decode
// through time.ParseDuration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the single typed configuration object for a pipeline run.
// It is validated once at construction; components receive the sub-structs
// they need and never re-read ambient state.
type Config struct {
	// HashAlgorithm selects the content fingerprint function used by both
	// the ledger and chunk hashing (sha256, sha1, md5, xxhash64).
	HashAlgorithm string `toml:"hash_algorithm"`

	Source    SourceConfig    `toml:"source"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Index     IndexConfig     `toml:"index"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Run       RunConfig       `toml:"run"`
}

// SourceConfig describes where documents come from.
type SourceConfig struct {
	// Dir is the root directory walked for local content files.
	Dir string `toml:"dir"`
	// Pattern is a glob matched against file base names (e.g. "*.md").
	Pattern string `toml:"pattern"`
	// RemoteURLs are fetched and appended without front matter parsing.
	RemoteURLs []string `toml:"remote_urls"`
	// BaseURL prefixes canonical URLs derived from relative paths.
	BaseURL string `toml:"base_url"`
	// ContentSuffix is stripped from relative paths when deriving canonical
	// URLs (typically the file extension).
	ContentSuffix string `toml:"content_suffix"`
	// PublishedOnly excludes documents whose front matter sets published=false.
	PublishedOnly bool `toml:"published_only"`
	// FetchConcurrency bounds parallel remote fetches.
	FetchConcurrency int `toml:"fetch_concurrency"`
	// FetchTimeout applies per remote request.
	FetchTimeout Duration `toml:"fetch_timeout"`
}

// ChunkingConfig selects and parameterizes the splitting strategy.
type ChunkingConfig struct {
	Strategy     string `toml:"strategy"`
	ChunkSize    int    `toml:"chunk_size"`
	ChunkOverlap int    `toml:"chunk_overlap"`
	// Adaptive shrinks the window for long documents so overlap stays
	// proportionate; short documents pass through unchunked.
	Adaptive bool `toml:"adaptive"`
	// BreakpointType picks the statistic the semantic strategy thresholds
	// adjacent-sentence distances with.
	BreakpointType      string  `toml:"breakpoint_type"`
	BreakpointThreshold float64 `toml:"breakpoint_threshold"`
	// MinChunkSize merges semantic segments smaller than this into their
	// predecessor instead of leaving tiny chunks.
	MinChunkSize int `toml:"min_chunk_size"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of openai, ollama, mock.
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	// Host overrides the provider endpoint (required for ollama, optional
	// for openai-compatible gateways).
	Host string `toml:"host"`
	// APIKey falls back to the OPENAI_API_KEY environment variable.
	APIKey    string `toml:"api_key"`
	CacheSize int    `toml:"cache_size"`
}

// IndexConfig describes the vector index target.
type IndexConfig struct {
	// Path is the SQLite database file backing the index.
	Path string `toml:"path"`
	// Collection is the named partition synchronized by a run.
	Collection string `toml:"collection"`
	// BatchSize groups embed+insert operations; 0 lets the optimizer choose.
	BatchSize int `toml:"batch_size"`
	// BatchPause is the minimum spacing between batches, respecting
	// embedding backend rate limits.
	BatchPause Duration `toml:"batch_pause"`
}

// LedgerConfig describes the checksum ledger file and its backups.
type LedgerConfig struct {
	Path string `toml:"path"`
	// MaxBackups bounds retained ledger backups; oldest are pruned.
	MaxBackups int `toml:"max_backups"`
	// MaxBackupAge marks backups stale for the health check.
	MaxBackupAge Duration `toml:"max_backup_age"`
	// FallbackThreshold switches a run to full rebuild when
	// (modified+deleted)/priorRecords exceeds it.
	FallbackThreshold float64 `toml:"fallback_threshold"`
}

// RunConfig holds per-invocation settings.
type RunConfig struct {
	Mode   string `toml:"mode"`
	DryRun bool   `toml:"dry_run"`
	// JobID defaults to a generated UUID when empty.
	JobID string `toml:"job_id"`
	// OutputDir receives job report files.
	OutputDir string `toml:"output_dir"`
}

// Default returns the baseline configuration. Callers overlay file and flag
// values on top of it before validating.
func Default() *Config {
	return &Config{
		HashAlgorithm: string(hashing.SHA256),
		Source: SourceConfig{
			Pattern:          "*.md",
			ContentSuffix:    ".md",
			FetchConcurrency: 4,
			FetchTimeout:     Duration(30 * time.Second),
		},
		Chunking: ChunkingConfig{
			Strategy:            StrategyFixedWindow,
			ChunkSize:           1000,
			ChunkOverlap:        100,
			BreakpointType:      BreakpointPercentile,
			BreakpointThreshold: 95,
			MinChunkSize:        200,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			CacheSize: 10000,
		},
		Index: IndexConfig{
			Path:       "vecpipe.db",
			Collection: "default",
			BatchPause: Duration(100 * time.Millisecond),
		},
		Ledger: LedgerConfig{
			Path:              "checksums.csv",
			MaxBackups:        5,
			MaxBackupAge:      Duration(7 * 24 * time.Hour),
			FallbackThreshold: 0.5,
		},
		Run: RunConfig{
			Mode:      ModeAuto,
			OutputDir: "reports",
		},
	}
}

// LoadFile decodes a TOML file over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values, out-of-range thresholds, and missing
// required fields before any run state is touched.
func (c *Config) Validate() error {
	if _, err := hashing.New(hashing.Algorithm(c.HashAlgorithm)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.Source.Dir == "" && len(c.Source.RemoteURLs) == 0 {
		return fmt.Errorf("%w: at least one of source.dir or source.remote_urls is required", ErrInvalid)
	}
	if c.Source.Pattern == "" {
		return fmt.Errorf("%w: source.pattern is required", ErrInvalid)
	}
	if c.Source.FetchConcurrency <= 0 {
		return fmt.Errorf("%w: source.fetch_concurrency must be positive", ErrInvalid)
	}
	if c.Source.FetchTimeout <= 0 {
		return fmt.Errorf("%w: source.fetch_timeout must be positive", ErrInvalid)
	}

	if err := c.validateChunking(); err != nil {
		return err
	}

	if c.Embedding.Provider == "" {
		return fmt.Errorf("%w: embedding.provider is required", ErrInvalid)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("%w: embedding.model is required", ErrInvalid)
	}

	if c.Index.Path == "" {
		return fmt.Errorf("%w: index.path is required", ErrInvalid)
	}
	if c.Index.Collection == "" {
		return fmt.Errorf("%w: index.collection is required", ErrInvalid)
	}
	if c.Index.BatchSize < 0 {
		return fmt.Errorf("%w: index.batch_size must not be negative", ErrInvalid)
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("%w: ledger.path is required", ErrInvalid)
	}
	if c.Ledger.MaxBackups < 1 {
		return fmt.Errorf("%w: ledger.max_backups must be at least 1", ErrInvalid)
	}
	if c.Ledger.FallbackThreshold < 0 || c.Ledger.FallbackThreshold > 1 {
		return fmt.Errorf("%w: ledger.fallback_threshold must be within [0, 1]", ErrInvalid)
	}

	switch c.Run.Mode {
	case ModeAuto, ModeIncremental, ModeFull:
	default:
		return fmt.Errorf("%w: unknown run.mode %q", ErrInvalid, c.Run.Mode)
	}
	if c.Run.OutputDir == "" {
		return fmt.Errorf("%w: run.output_dir is required", ErrInvalid)
	}

	return nil
}

func (c *Config) validateChunking() error {
	ch := c.Chunking

	switch ch.Strategy {
	case StrategyFixedWindow, StrategySemantic:
	default:
		return fmt.Errorf("%w: unknown chunking.strategy %q", ErrInvalid, ch.Strategy)
	}

	if ch.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunking.chunk_size must be positive", ErrInvalid)
	}
	if ch.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunking.chunk_overlap must not be negative", ErrInvalid)
	}
	if ch.ChunkOverlap >= ch.ChunkSize {
		return fmt.Errorf("%w: chunking.chunk_overlap must be smaller than chunk_size", ErrInvalid)
	}

	if ch.Strategy == StrategySemantic {
		if ch.MinChunkSize < 0 {
			return fmt.Errorf("%w: chunking.min_chunk_size must not be negative", ErrInvalid)
		}
		switch ch.BreakpointType {
		case BreakpointPercentile, BreakpointGradient:
			if ch.BreakpointThreshold <= 0 || ch.BreakpointThreshold > 100 {
				return fmt.Errorf("%w: %s threshold must be within (0, 100]", ErrInvalid, ch.BreakpointType)
			}
		case BreakpointStdDev, BreakpointInterquartile:
			if ch.BreakpointThreshold <= 0 {
				return fmt.Errorf("%w: %s threshold must be positive", ErrInvalid, ch.BreakpointType)
			}
		default:
			return fmt.Errorf("%w: unknown chunking.breakpoint_type %q", ErrInvalid, ch.BreakpointType)
		}
	}

	return nil
}
