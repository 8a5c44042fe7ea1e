package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"
)

// Provider configuration
const (
	ProviderVoyage = "voyage"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultVoyageModel = "voyage-3"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Dimensions
	VoyageDimension = 1024
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Endpoints
	VoyageEmbeddingsURL = "https://api.voyageai.com/v1/embeddings"
	JinaEmbeddingsURL   = "https://api.jina.ai/v1/embeddings"
	OpenAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

	// Environment variables holding API keys
	EnvVoyageAPIKey = "VOYAGE_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 1024
)

// embeddingsResponse is the response shape shared by the Voyage, Jina and
// OpenAI embeddings endpoints
type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// httpProvider holds what every remote embeddings backend needs
type httpProvider struct {
	name       string
	apiKey     string
	model      string
	url        string
	dimension  int
	httpClient *http.Client
}

func newHTTPProvider(name, apiKey, model, url string, dimension int) *httpProvider {
	return &httpProvider{
		name:      name,
		apiKey:    apiKey,
		model:     model,
		url:       url,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// post sends reqBody and decodes an embeddingsResponse ordered by index
func (p *httpProvider) post(ctx context.Context, reqBody map[string]interface{}, n int) ([][]float32, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
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

	var apiResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(apiResp.Data))
	}

	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *httpProvider) Dimension() int {
	return p.dimension
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) Model() string {
	return p.model
}

func (p *httpProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// VoyageProvider implements Provider using the Voyage AI API
type VoyageProvider struct {
	*httpProvider
}

// NewVoyageProvider creates a new Voyage AI embedder
func NewVoyageProvider(apiKey, model string, dimension int) (*VoyageProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvVoyageAPIKey)
	}
	if model == "" {
		model = DefaultVoyageModel
	}
	if dimension <= 0 {
		dimension = VoyageDimension
	}
	return &VoyageProvider{newHTTPProvider(ProviderVoyage, apiKey, model, VoyageEmbeddingsURL, dimension)}, nil
}

// Embed sends one request with input_type set to document or query
func (v *VoyageProvider) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	return v.post(ctx, map[string]interface{}{
		"input":      texts,
		"model":      v.model,
		"input_type": string(inputType),
	}, len(texts))
}

// JinaProvider implements Provider using the Jina AI API
type JinaProvider struct {
	*httpProvider
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey, model string, dimension int) (*JinaProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	if dimension <= 0 {
		dimension = JinaDimension
	}
	return &JinaProvider{newHTTPProvider(ProviderJina, apiKey, model, JinaEmbeddingsURL, dimension)}, nil
}

// Embed maps the input type onto Jina's retrieval task names
func (j *JinaProvider) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	task := "retrieval.passage"
	if inputType == InputQuery {
		task = "retrieval.query"
	}
	return j.post(ctx, map[string]interface{}{
		"input": texts,
		"model": j.model,
		"task":  task,
	}, len(texts))
}

// OpenAIProvider implements Provider using the OpenAI API.
// OpenAI models are symmetric so the input type is ignored.
type OpenAIProvider struct {
	*httpProvider
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey, model string, dimension int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dimension <= 0 {
		dimension = OpenAIDimension
	}
	return &OpenAIProvider{newHTTPProvider(ProviderOpenAI, apiKey, model, OpenAIEmbeddingsURL, dimension)}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	return o.post(ctx, map[string]interface{}{
		"input": texts,
		"model": o.model,
	}, len(texts))
}

// LocalProvider produces deterministic pseudo-embeddings from a text hash.
// It needs no network and is meant for development and tests.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
	}
}

func (l *LocalProvider) Embed(ctx context.Context, texts []string, _ InputType) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = l.vector(text)
	}
	return vectors, nil
}

// vector expands sha256(text) into dimension values in [-1, 1] and
// normalizes the result
func (l *LocalProvider) vector(text string) []float32 {
	vec := make([]float32, l.dimension)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < l.dimension; i++ {
		off := (i % 8) * 4
		if i > 0 && off == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.LittleEndian.Uint32(block[off : off+4])
		vec[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	return NormalizeVector(vec)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Name() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
