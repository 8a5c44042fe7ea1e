// Package expander rewrites a search query into a keyword-rich form using an
// OpenAI-compatible chat completions endpoint.
package expander

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 15 * time.Second

	// EnvAPIKey is read when Config.APIKey is empty
	EnvAPIKey = "OPENAI_API_KEY"

	maxErrorBody    = 1024
	maxExpandedRune = 512
)

const systemPrompt = `Rewrite the user's search query for a document retrieval system.
Keep the original intent. Add close synonyms and the key terms a relevant passage would contain.
Reply with the rewritten query only, on one line, without quotes or commentary.`

// Expander rewrites a query. Failures wrap types.ErrExpansionUnavailable.
type Expander interface {
	Expand(ctx context.Context, query string) (string, error)
}

// Config configures the chat completions client
type Config struct {
	BaseURL   string // e.g. https://api.openai.com/v1 or a gateway's /v1
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Client implements Expander over /chat/completions
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a chat completions expander
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Expand returns the rewritten query
func (c *Client) Expand(ctx context.Context, query string) (string, error) {
	out, err := c.complete(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrExpansionUnavailable, err)
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return clean(chat.Choices[0].Message.Content)
}

// clean keeps the first non-empty line, strips wrapping quotes and caps length
func clean(s string) (string, error) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'`")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxExpandedRune {
			line = string(r[:maxExpandedRune])
		}
		return line, nil
	}
	return "", fmt.Errorf("empty completion")
}
