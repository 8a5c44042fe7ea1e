// Package gateway reads the corpus through an API gateway's storage routes:
// GET /storage/files and GET /storage/files/{id}/content, authenticated
// with an X-API-Key header.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/upstream"
)

const (
	DefaultListTimeout     = 30 * time.Second
	DefaultDownloadTimeout = 120 * time.Second
	DefaultMaxDownload     = 50 << 20

	// EnvURL and EnvKey are read when the config leaves them empty
	EnvURL = "API_GATEWAY_URL"
	EnvKey = "API_GATEWAY_KEY"

	headerAPIKey   = "X-API-Key"
	headerFileName = "X-File-Name"
	maxErrorBody   = 1024
)

// Config configures the gateway client
type Config struct {
	BaseURL         string
	APIKey          string
	ListTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxDownload     int64
	Limiter         *upstream.RateLimiter
	Logger          *zap.Logger
}

// Client implements upstream.Corpus over the gateway
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a gateway client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.MaxDownload <= 0 {
		cfg.MaxDownload = DefaultMaxDownload
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

type listResponse struct {
	Files []upstream.File `json:"files"`
}

// ListFiles returns every file across all category folders
func (c *Client) ListFiles(ctx context.Context) ([]upstream.File, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	resp, err := c.get(ctx, "/storage/files")
	if err != nil {
		return nil, upstream.Unavailable("list files", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, upstream.Unavailable("list files", fmt.Errorf("decode response: %w", err))
	}

	files := make([]upstream.File, 0, len(body.Files))
	for _, f := range body.Files {
		if f.ID == "" {
			c.logger.Warn("skipping listed file without id", zap.String("filename", f.Filename))
			continue
		}
		f.Category = upstream.NormalizeCategory(f.Category)
		files = append(files, f)
	}

	c.logger.Debug("listed gateway files", zap.Int("count", len(files)))
	return files, nil
}

// Download fetches a file's bytes, content type and filename
func (c *Client) Download(ctx context.Context, id string) (*upstream.Content, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	resp, err := c.get(ctx, "/storage/files/"+url.PathEscape(id)+"/content")
	if err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxDownload+1))
	if err != nil {
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > c.cfg.MaxDownload {
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("file exceeds %d bytes", c.cfg.MaxDownload))
	}

	contentType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := resp.Header.Get(headerFileName)
	if filename == "" {
		filename = id
	}

	return &upstream.Content{Data: data, ContentType: contentType, Filename: filename}, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.cfg.BaseURL, "/")+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if c.cfg.Limiter != nil {
			c.cfg.Limiter.Backoff(upstream.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", upstream.ErrNotFound, path)
	}
	return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
