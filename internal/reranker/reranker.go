// Package reranker scores (query, passage) pairs with a hosted cross-encoder.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	ProviderVoyage = "voyage"
	ProviderJina   = "jina"
	ProviderNone   = "none"

	DefaultVoyageModel = "rerank-2"
	DefaultJinaModel   = "jina-reranker-v2-base-multilingual"

	VoyageRerankURL = "https://api.voyageai.com/v1/rerank"
	JinaRerankURL   = "https://api.jina.ai/v1/rerank"

	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 1024
)

// Result is the relevance of one input document
type Result struct {
	Index int     // Position in the docs slice passed to Rerank
	Score float64 // Higher is more relevant
}

// Reranker scores docs against query and returns at most topK results.
// Failures wrap types.ErrRerankUnavailable.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topK int) ([]Result, error)
	Name() string
}

// Config selects and configures a provider
type Config struct {
	Provider string // voyage, jina or none
	APIKey   string // Falls back to VOYAGE_API_KEY / JINA_API_KEY
	Model    string
	BaseURL  string // Overrides the provider endpoint
	Timeout  time.Duration
}

// New builds the configured reranker. Provider "" or "none" returns nil
// with no error; callers treat a nil Reranker as disabled.
func New(cfg Config) (Reranker, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var (
		key, model, url, resultsKey string
	)
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderVoyage:
		key, model, url, resultsKey = keyOrEnv(cfg.APIKey, "VOYAGE_API_KEY"), DefaultVoyageModel, VoyageRerankURL, "data"
	case ProviderJina:
		key, model, url, resultsKey = keyOrEnv(cfg.APIKey, "JINA_API_KEY"), DefaultJinaModel, JinaRerankURL, "results"
	default:
		return nil, fmt.Errorf("unsupported rerank provider %q", cfg.Provider)
	}

	if key == "" {
		return nil, fmt.Errorf("rerank provider %s: api key not set", cfg.Provider)
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}

	return &httpReranker{
		name:       cfg.Provider,
		apiKey:     key,
		model:      model,
		url:        url,
		resultsKey: resultsKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func keyOrEnv(key, env string) string {
	if key != "" {
		return key
	}
	return os.Getenv(env)
}

// httpReranker speaks the rerank API shared by Voyage and Jina. They differ
// only in the top-k field name and the results array key.
type httpReranker struct {
	name       string
	apiKey     string
	model      string
	url        string
	resultsKey string
	timeout    time.Duration
	httpClient *http.Client
}

type rerankItem struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

func (r *httpReranker) Name() string {
	return r.name
}

func (r *httpReranker) Rerank(ctx context.Context, query string, docs []string, topK int) ([]Result, error) {
	if len(docs) == 0 {
		return []Result{}, nil
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}

	results, err := r.call(ctx, query, docs, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrRerankUnavailable, r.name, err)
	}
	return results, nil
}

func (r *httpReranker) call(ctx context.Context, query string, docs []string, topK int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reqBody := map[string]interface{}{
		"model":     r.model,
		"query":     query,
		"documents": docs,
	}
	if r.name == ProviderVoyage {
		reqBody["top_k"] = topK
	} else {
		reqBody["top_n"] = topK
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var items []rerankItem
	if err := json.Unmarshal(raw[r.resultsKey], &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.resultsKey, err)
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(docs) {
			return nil, fmt.Errorf("result index %d out of range [0, %d)", it.Index, len(docs))
		}
		results = append(results, Result{Index: it.Index, Score: it.RelevanceScore})
	}
	return results, nil
}
