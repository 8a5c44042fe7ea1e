// Package upstream defines the corpus capability the sync engine reads from.
//
// A Corpus lists the files of a category-partitioned document store and
// downloads their bytes. Implementations live in sub-packages:
//
//   - gateway: an HTTP API gateway exposing /storage/files
//   - drive: Google Drive v3, one sub-folder per category
//   - localfs: a local directory tree, one sub-directory per category
//
// Every implementation reports failures wrapped with
// types.ErrUpstreamUnavailable.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tharpep/knowledge-base/pkg/types"
)

// DefaultCategory is used for files that sit outside any category folder
const DefaultCategory = "general"

// File is one listed upstream document
type File struct {
	ID             string `json:"id"`
	Filename       string `json:"name"`
	Category       string `json:"category"`
	ModifiedMarker string `json:"modified_time"` // Opaque; compared for equality only
	MimeType       string `json:"mime_type"`
	Size           int64  `json:"size,omitempty"`
}

// Content is a downloaded document
type Content struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Corpus is the listing and download capability
type Corpus interface {
	ListFiles(ctx context.Context) ([]File, error)
	Download(ctx context.Context, id string) (*Content, error)
}

// ErrNotFound is returned by Download when the file no longer exists.
// It still wraps types.ErrUpstreamUnavailable.
var ErrNotFound = errors.New("file not found upstream")

// Unavailable wraps err as types.ErrUpstreamUnavailable for op
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrUpstreamUnavailable, op, err)
}

// NormalizeCategory lowercases and trims a folder name for use as a category
func NormalizeCategory(name string) string {
	c := strings.ToLower(strings.TrimSpace(name))
	if c == "" {
		return DefaultCategory
	}
	return c
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when absent or unparseable.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// FilterCategories keeps files whose category is in cats; nil keeps all
func FilterCategories(files []File, cats []string) []File {
	if len(cats) == 0 {
		return files
	}
	want := make(map[string]bool, len(cats))
	for _, c := range cats {
		want[NormalizeCategory(c)] = true
	}
	out := make([]File, 0, len(files))
	for _, f := range files {
		if want[f.Category] {
			out = append(out, f)
		}
	}
	return out
}
