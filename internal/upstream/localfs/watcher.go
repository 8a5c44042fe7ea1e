package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a batch of changes is emitted
const DefaultDebounce = 2 * time.Second

// Watcher reports batches of changed file ids under a corpus root
type Watcher struct {
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
}

// NewWatcher watches the corpus root and every non-hidden sub-directory
func NewWatcher(c *Corpus, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{root: c.root, debounce: debounce, fsw: fsw, logger: logger}
	if err := w.addTree(c.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// Run emits sorted, de-duplicated ids once no event has arrived for the
// debounce period. The channel closes when ctx is done or the watcher fails.
func (w *Watcher) Run(ctx context.Context) <-chan []string {
	out := make(chan []string)

	go func() {
		defer close(out)
		defer func() { _ = w.fsw.Close() }()

		pending := make(map[string]bool)
		timer := time.NewTimer(w.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if ids := w.handleEvent(ev); len(ids) > 0 {
					for _, id := range ids {
						pending[id] = true
					}
					timer.Reset(w.debounce)
				}

			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				batch := make([]string, 0, len(pending))
				for id := range pending {
					batch = append(batch, id)
				}
				sort.Strings(batch)
				pending = make(map[string]bool)

				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// handleEvent maps an fsnotify event to the file ids it touches. A new
// directory, created in place or moved in from outside the root, is added
// to the watch set and reported through the files already inside it.
func (w *Watcher) handleEvent(ev fsnotify.Event) []string {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if isHidden(part) {
			return nil
		}
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return nil
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			ids, err := w.filesUnder(ev.Name)
			if err != nil {
				w.logger.Warn("failed to list new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return ids
		}
	}

	return []string{filepath.ToSlash(rel)}
}

// filesUnder returns the ids of the regular, non-hidden files below dir
func (w *Watcher) filesUnder(dir string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	return ids, err
}

// Close stops watching. Run also closes the watcher when its context ends.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
