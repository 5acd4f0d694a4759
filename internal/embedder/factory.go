package embedder

import (
	"fmt"
	"strings"

	"github.com/calder-labs/vecpipe/internal/config"
)

// New builds the configured embedding provider. The mock provider needs no
// credentials or network; openai falls back to the OPENAI_API_KEY environment
// variable when the configuration leaves the key empty.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Host, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg.Host, cfg.Model, cache)
	case ProviderMock:
		return NewMockProvider(0, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProviderEnabled, cfg.Provider)
	}
}
