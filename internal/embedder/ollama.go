package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOllamaHost is the OpenAI-compatible endpoint of a local Ollama
// server.
const DefaultOllamaHost = "http://localhost:11434/v1"

// OllamaProvider embeds through a local OpenAI-compatible server such as
// Ollama or LM Studio. These servers ignore authentication, so the client is
// built with a placeholder token.
type OllamaProvider struct {
	embedder embeddings.Embedder
	model    string
	host     string
	cache    *Cache
	retry    RetryConfig
	dim      int
	logger   *slog.Logger
}

// NewOllamaProvider creates an embedder against the given host. An empty host
// targets a local Ollama default install.
func NewOllamaProvider(host, model string, cache *Cache) (*OllamaProvider, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		return nil, fmt.Errorf("%w: ollama model is required", ErrNoProviderEnabled)
	}

	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}

	return &OllamaProvider{
		embedder: emb,
		model:    model,
		host:     host,
		cache:    cache,
		retry:    DefaultRetryConfig(),
		logger:   slog.Default().With("component", "ollama-embedder"),
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	p.logger.Debug("embedding batch", "host", p.host, "model", p.model, "texts", len(texts))

	out, err := batchThroughCache(ctx, p.cache, apiBatchSize, texts,
		func(ctx context.Context, page []string) ([][]float32, error) {
			vectors, err := retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
				return p.embedder.EmbedDocuments(ctx, page)
			})
			if err != nil {
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, p.retry.MaxRetries, err)
			}
			return vectors, nil
		})
	if err != nil {
		return nil, err
	}

	if p.dim == 0 && len(out) > 0 && out[0] != nil {
		p.dim = len(out[0])
	}
	return out, nil
}

// Dimension is 0 until the first embedding reveals the model's vector length.
func (p *OllamaProvider) Dimension() int {
	return p.dim
}

func (p *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (p *OllamaProvider) Model() string {
	return p.model
}

func (p *OllamaProvider) Close() error {
	return nil
}
