package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	// DefaultBatchSize is the largest number of texts sent in one call
	DefaultBatchSize = 96

	// DefaultTimeout bounds each provider call
	DefaultTimeout = 60 * time.Second

	// DefaultQueryCacheSize is the number of query vectors kept in memory
	DefaultQueryCacheSize = 1000
)

// ClientConfig configures the embedding client adapter
type ClientConfig struct {
	BatchSize      int
	Timeout        time.Duration
	QueryCacheSize int // 0 uses the default, negative disables caching
	Logger         *zap.Logger
}

// Client adapts a Provider to the document/query contract used by the sync
// engine and the retriever. Every failure is reported as
// types.ErrEmbeddingUnavailable. Retries are the caller's concern.
type Client struct {
	provider  Provider
	cache     *Cache
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient wraps provider
func NewClient(provider Provider, cfg ClientConfig) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var cache *Cache
	switch {
	case cfg.QueryCacheSize == 0:
		cache = NewCache(DefaultQueryCacheSize)
	case cfg.QueryCacheSize > 0:
		cache = NewCache(cfg.QueryCacheSize)
	}

	return &Client{
		provider:  provider,
		cache:     cache,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// EmbedDocuments embeds texts for storage, batching as needed.
// The returned slice has exactly one vector per input text.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %w: text at index %d is empty", types.ErrEmbeddingUnavailable, ErrEmptyText, i)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := c.call(ctx, texts[start:end], InputDocument)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}

	c.logger.Debug("embedded documents",
		zap.Int("count", len(texts)),
		zap.String("model", c.provider.Model()))

	return out, nil
}

// EmbedQuery embeds a single search query. Results are cached by model and
// text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, ErrEmptyText)
	}

	key := ComputeHash(c.provider.Model(), text)
	if c.cache != nil {
		if vec, ok := c.cache.Get(key); ok {
			return vec, nil
		}
	}

	vectors, err := c.call(ctx, []string{text}, InputQuery)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(key, vectors[0])
	}
	return vectors[0], nil
}

// call performs one provider request and validates its shape
func (c *Client) call(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vectors, err := c.provider.Embed(callCtx, texts, inputType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrEmbeddingUnavailable, c.provider.Name(), err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
			types.ErrEmbeddingUnavailable, c.provider.Name(), len(vectors), len(texts))
	}

	dim := c.provider.Dimension()
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				types.ErrEmbeddingUnavailable, i, len(vec), dim)
		}
	}

	return vectors, nil
}

// Dimension returns the provider's vector dimension
func (c *Client) Dimension() int {
	return c.provider.Dimension()
}

// Model returns the provider's model name
func (c *Client) Model() string {
	return c.provider.Model()
}

// ProviderName returns the provider's name
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Close releases the provider
func (c *Client) Close() error {
	return c.provider.Close()
}
