// Package drive reads the corpus directly from Google Drive. Each immediate
// sub-folder of the root folder is a category; files directly under the
// root belong to upstream.DefaultCategory. Google Docs and Slides are
// exported as text/plain and Sheets as text/csv.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tharpep/knowledge-base/internal/upstream"
)

// Google Workspace MIME types
const (
	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"

	ExportMimeText = "text/plain"
	ExportMimeCSV  = "text/csv"
)

const (
	DefaultPageSize    = 100
	DefaultMaxDownload = 50 << 20

	listFields = "nextPageToken, files(id, name, mimeType, modifiedTime, size, trashed)"
	getFields  = "id, name, mimeType, size"
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Config configures the Drive corpus
type Config struct {
	RootFolderID string

	// OAuth client and a long-lived refresh token
	ClientID     string
	ClientSecret string
	RefreshToken string

	PageSize    int64
	MaxDownload int64
	Limiter     *upstream.RateLimiter
	Logger      *zap.Logger
}

// Client implements upstream.Corpus on the Drive v3 API
type Client struct {
	svc    *drive.Service
	cfg    Config
	logger *zap.Logger
}

// New authenticates with the refresh token flow and creates a client
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("drive corpus requires client id, client secret and refresh token")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{drive.DriveReadonlyScope},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewWithService(svc, cfg)
}

// NewWithService wraps an existing Drive service
func NewWithService(svc *drive.Service, cfg Config) (*Client, error) {
	if cfg.RootFolderID == "" {
		return nil, fmt.Errorf("drive root folder id is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxDownload <= 0 {
		cfg.MaxDownload = DefaultMaxDownload
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{svc: svc, cfg: cfg, logger: logger}, nil
}

// ListFiles lists root-level files and the files of every category folder
func (c *Client) ListFiles(ctx context.Context) ([]upstream.File, error) {
	folders, err := c.list(ctx, fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false",
		c.cfg.RootFolderID, MimeTypeFolder))
	if err != nil {
		return nil, upstream.Unavailable("list folders", err)
	}

	files, err := c.listFolder(ctx, c.cfg.RootFolderID, upstream.DefaultCategory)
	if err != nil {
		return nil, upstream.Unavailable("list root", err)
	}

	for _, folder := range folders {
		category := upstream.NormalizeCategory(folder.Name)
		inFolder, err := c.listFolder(ctx, folder.Id, category)
		if err != nil {
			return nil, upstream.Unavailable("list folder "+folder.Name, err)
		}
		files = append(files, inFolder...)
	}

	c.logger.Debug("listed drive files", zap.Int("folders", len(folders)), zap.Int("files", len(files)))
	return files, nil
}

func (c *Client) listFolder(ctx context.Context, folderID, category string) ([]upstream.File, error) {
	items, err := c.list(ctx, fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false",
		folderID, MimeTypeFolder))
	if err != nil {
		return nil, err
	}

	files := make([]upstream.File, 0, len(items))
	for _, f := range items {
		if f.Trashed {
			continue
		}
		files = append(files, upstream.File{
			ID:             f.Id,
			Filename:       f.Name,
			Category:       category,
			ModifiedMarker: f.ModifiedTime,
			MimeType:       f.MimeType,
			Size:           f.Size,
		})
	}
	return files, nil
}

func (c *Client) list(ctx context.Context, q string) ([]*drive.File, error) {
	var (
		out   []*drive.File
		token string
	)
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		call := c.svc.Files.List().
			Q(q).
			Fields(listFields).
			PageSize(c.cfg.PageSize).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}

		page, err := call.Do()
		if err != nil {
			return nil, c.classify(err)
		}
		out = append(out, page.Files...)

		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// Download fetches file bytes, exporting Google Workspace documents
func (c *Client) Download(ctx context.Context, id string) (*upstream.Content, error) {
	if err := c.wait(ctx); err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}
	meta, err := c.svc.Files.Get(id).Fields(getFields).Context(ctx).Do()
	if err != nil {
		return nil, upstream.Unavailable("download "+id, c.classify(err))
	}

	var (
		resp        *http.Response
		contentType = meta.MimeType
	)
	if err := c.wait(ctx); err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}
	switch meta.MimeType {
	case MimeTypeFolder:
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("%s is a folder", meta.Name))
	case MimeTypeGoogleDoc, MimeTypeGoogleSlides:
		contentType = ExportMimeText
		resp, err = c.svc.Files.Export(id, ExportMimeText).Context(ctx).Download()
	case MimeTypeGoogleSheet:
		contentType = ExportMimeCSV
		resp, err = c.svc.Files.Export(id, ExportMimeCSV).Context(ctx).Download()
	default:
		if meta.Size > c.cfg.MaxDownload {
			return nil, upstream.Unavailable("download "+id, fmt.Errorf("file exceeds %d bytes", c.cfg.MaxDownload))
		}
		resp, err = c.svc.Files.Get(id).Context(ctx).Download()
	}
	if err != nil {
		return nil, upstream.Unavailable("download "+id, c.classify(err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxDownload+1))
	if err != nil {
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > c.cfg.MaxDownload {
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("file exceeds %d bytes", c.cfg.MaxDownload))
	}

	return &upstream.Content{Data: data, ContentType: contentType, Filename: meta.Name}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.cfg.Limiter == nil {
		return nil
	}
	return c.cfg.Limiter.Wait(ctx)
}

// classify maps Drive API errors, recording rate limit backoff
func (c *Client) classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", upstream.ErrNotFound, err)
	case apiErr.Code == http.StatusTooManyRequests || isRateLimitReason(apiErr):
		if c.cfg.Limiter != nil {
			c.cfg.Limiter.Backoff(upstream.ParseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now()))
		}
	}
	return err
}

func isRateLimitReason(e *googleapi.Error) bool {
	if e.Code != http.StatusForbidden {
		return false
	}
	for _, item := range e.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
