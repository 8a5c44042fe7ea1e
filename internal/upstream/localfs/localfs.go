// Package localfs serves a local directory tree as a corpus. Each immediate
// sub-directory of the root is a category; files directly under the root
// belong to upstream.DefaultCategory. Hidden files and directories are
// skipped. The modified marker combines mtime and size.
package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tharpep/knowledge-base/internal/upstream"
)

// Corpus implements upstream.Corpus over a directory
type Corpus struct {
	root string
}

// New creates a corpus rooted at dir
func New(dir string) (*Corpus, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &Corpus{root: abs}, nil
}

// Root returns the absolute corpus directory
func (c *Corpus) Root() string {
	return c.root
}

// ListFiles walks the tree. File ids are slash-separated relative paths.
func (c *Corpus) ListFiles(ctx context.Context) ([]upstream.File, error) {
	var files []upstream.File

	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == c.root {
			return nil
		}
		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)

		files = append(files, upstream.File{
			ID:             id,
			Filename:       d.Name(),
			Category:       CategoryOf(id),
			ModifiedMarker: marker(info),
			MimeType:       mimeType(d.Name()),
			Size:           info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, upstream.Unavailable("walk "+c.root, err)
	}
	return files, nil
}

// Download reads the file with the given relative id
func (c *Corpus) Download(ctx context.Context, id string) (*upstream.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}
	p, err := c.resolve(id)
	if err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, upstream.Unavailable("download "+id, fmt.Errorf("%w: %s", upstream.ErrNotFound, id))
	}
	if err != nil {
		return nil, upstream.Unavailable("download "+id, err)
	}

	name := path.Base(id)
	return &upstream.Content{Data: data, ContentType: mimeType(name), Filename: name}, nil
}

// resolve maps an id to a path inside the root, rejecting escapes
func (c *Corpus) resolve(id string) (string, error) {
	clean := path.Clean("/" + id)
	if clean == "/" {
		return "", fmt.Errorf("empty file id")
	}
	return filepath.Join(c.root, filepath.FromSlash(clean[1:])), nil
}

// CategoryOf returns the category of a file id: its first directory, or
// the default category for files at the root
func CategoryOf(id string) string {
	if i := strings.IndexByte(id, '/'); i > 0 {
		return upstream.NormalizeCategory(id[:i])
	}
	return upstream.DefaultCategory
}

func marker(info fs.FileInfo) string {
	return info.ModTime().UTC().Format("2006-01-02T15:04:05.000000000Z") + "/" + strconv.FormatInt(info.Size(), 10)
}

func mimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.TrimSpace(strings.SplitN(t, ";", 2)[0])
	}
	return "application/octet-stream"
}

// isHidden reports dot-prefixed names other than . and ..
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
