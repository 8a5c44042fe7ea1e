package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tharpep/knowledge-base/internal/extract"
	"github.com/tharpep/knowledge-base/internal/segmenter"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/upstream"
	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	DefaultWorkers     = 4
	DefaultFileTimeout = 2 * time.Minute
)

// ErrSyncInProgress is returned by Sync and Exclusive while another sync
// holds the engine
var ErrSyncInProgress = errors.New("sync already in progress")

// DocumentEmbedder embeds passages for storage
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// ExtractFunc turns downloaded bytes into text
type ExtractFunc func(data []byte, contentType, filename string) (string, error)

// Config wires the engine's capabilities
type Config struct {
	Store     storage.Store
	Corpus    upstream.Corpus
	Embedder  DocumentEmbedder
	Segmenter *segmenter.Segmenter // Default segmenter.DefaultConfig()
	Extract   ExtractFunc          // Default extract.Extract

	Workers     int           // Concurrent files (default 4)
	FileTimeout time.Duration // Per external call (default 2m)
	Retry       RetryConfig
	Logger      *zap.Logger
}

// Options controls one sync run
type Options struct {
	Force      bool     // Re-ingest files whose marker is unchanged
	Categories []string // Limit listing and removal detection; nil means all
}

// Engine reconciles the chunk index with the upstream corpus
type Engine struct {
	store       storage.Store
	corpus      upstream.Corpus
	embedder    DocumentEmbedder
	segmenter   *segmenter.Segmenter
	extract     ExtractFunc
	workers     int
	fileTimeout time.Duration
	retry       RetryConfig
	logger      *zap.Logger

	locks   *keyedMutex
	running runLock
}

// New creates a sync engine
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Corpus == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("syncer requires a store, a corpus and an embedder")
	}

	seg := cfg.Segmenter
	if seg == nil {
		var err error
		if seg, err = segmenter.New(segmenter.DefaultConfig()); err != nil {
			return nil, err
		}
	}
	extractFn := cfg.Extract
	if extractFn == nil {
		extractFn = extract.Extract
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:       cfg.Store,
		corpus:      cfg.Corpus,
		embedder:    cfg.Embedder,
		segmenter:   seg,
		extract:     extractFn,
		workers:     cfg.Workers,
		fileTimeout: cfg.FileTimeout,
		retry:       cfg.Retry.withDefaults(),
		logger:      logger,
		locks:       newKeyedMutex(),
	}, nil
}

// work is one file scheduled for ingestion
type work struct {
	file     upstream.File
	existing *types.SourceRecord // nil for new files
}

// plan is the diff between the listing and the registry
type plan struct {
	ingest    []work
	unchanged []upstream.File
	removed   []*types.SourceRecord
}

// diff classifies every listed file and every live registry record
func diff(files []upstream.File, records []*types.SourceRecord, opts Options) plan {
	byID := make(map[string]*types.SourceRecord, len(records))
	for _, rec := range records {
		byID[rec.SourceID] = rec
	}

	var p plan
	listed := make(map[string]bool, len(files))
	for _, f := range files {
		if listed[f.ID] {
			continue
		}
		listed[f.ID] = true

		rec, ok := byID[f.ID]
		switch {
		case !ok:
			p.ingest = append(p.ingest, work{file: f})
		case !opts.Force && rec.Status == types.SourceSynced && rec.ModifiedMarker == f.ModifiedMarker:
			p.unchanged = append(p.unchanged, f)
		default:
			p.ingest = append(p.ingest, work{file: f, existing: rec})
		}
	}

	var scope map[string]bool
	if len(opts.Categories) > 0 {
		scope = make(map[string]bool, len(opts.Categories))
		for _, c := range opts.Categories {
			scope[upstream.NormalizeCategory(c)] = true
		}
	}
	for _, rec := range records {
		if listed[rec.SourceID] || rec.Status == types.SourceDeleted {
			continue
		}
		if scope != nil && !scope[rec.Category] {
			continue
		}
		p.removed = append(p.removed, rec)
	}

	return p
}

// run accumulates a summary from concurrent workers
type run struct {
	mu      sync.Mutex
	summary types.SyncSummary
}

func (r *run) processed(chunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.FilesProcessed++
	r.summary.ChunksWritten += chunks
}

func (r *run) deleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.FilesDeleted++
}

func (r *run) failed(fe types.FileError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.FilesFailed++
	r.summary.PerFileErrors = append(r.summary.PerFileErrors, fe)
}

// Sync lists the corpus, ingests new and modified files, and tombstones
// removed ones. Per-file failures are reported in the summary; only a
// listing failure returns an error. Overlapping calls return
// ErrSyncInProgress, so a listing never commits over a newer one.
func (e *Engine) Sync(ctx context.Context, opts Options) (*types.SyncSummary, error) {
	if !e.running.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer e.running.Release()
	return e.reconcile(ctx, opts)
}

// Exclusive runs fn while no sync can start. It returns ErrSyncInProgress
// without calling fn when a sync is already running.
func (e *Engine) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.running.TryAcquire() {
		return ErrSyncInProgress
	}
	defer e.running.Release()
	return fn(ctx)
}

// reconcile is one sync run. The caller holds the run lock.
func (e *Engine) reconcile(ctx context.Context, opts Options) (*types.SyncSummary, error) {
	start := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
	files, err := e.corpus.ListFiles(listCtx)
	cancel()
	if err != nil {
		return nil, upstream.Unavailable("list files", err)
	}
	files = upstream.FilterCategories(files, opts.Categories)

	records, err := e.store.ListSources(ctx, storage.SourceFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load source registry: %w", err)
	}

	p := diff(files, records, opts)
	e.logger.Info("sync planned",
		zap.Int("listed", len(files)),
		zap.Int("ingest", len(p.ingest)),
		zap.Int("unchanged", len(p.unchanged)),
		zap.Int("removed", len(p.removed)),
		zap.Bool("forced", opts.Force))

	r := &run{summary: types.SyncSummary{
		FilesSkipped:  len(p.unchanged),
		PerFileErrors: []types.FileError{},
		Forced:        opts.Force,
	}}

	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, w := range p.ingest {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.ingest(ctx, w, r)
			return nil
		})
	}
	for _, rec := range p.removed {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.remove(ctx, rec, r)
			return nil
		})
	}
	_ = g.Wait()

	r.summary.Duration = time.Since(start)
	e.logger.Info("sync finished",
		zap.Int("processed", r.summary.FilesProcessed),
		zap.Int("skipped", r.summary.FilesSkipped),
		zap.Int("failed", r.summary.FilesFailed),
		zap.Int("deleted", r.summary.FilesDeleted),
		zap.Int("chunks_written", r.summary.ChunksWritten),
		zap.Duration("duration", r.summary.Duration))

	summary := r.summary
	return &summary, nil
}

// ingest runs download, extract, segment and embed outside any lock, then
// replaces the source's chunks and record in one transaction
func (e *Engine) ingest(ctx context.Context, w work, r *run) {
	if ctx.Err() != nil {
		return
	}
	f := w.file
	log := e.logger.With(zap.String("source_id", f.ID), zap.String("filename", f.Filename))

	chunks, stage, err := e.prepare(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("sync cancelled mid-file", zap.String("stage", string(stage)))
			return
		}
		e.recordFailure(ctx, f, stage, err, r, log)
		return
	}

	unlock := e.locks.Lock(f.ID)
	defer unlock()

	rec := &types.SourceRecord{
		SourceID:       f.ID,
		Filename:       f.Filename,
		Category:       f.Category,
		ModifiedMarker: f.ModifiedMarker,
		LastSynced:     time.Now().UTC(),
		ChunkCount:     len(chunks),
		Status:         types.SourceSynced,
	}

	err = storage.WithTransaction(ctx, e.store, func(tx storage.Tx) error {
		if _, err := tx.DeleteChunksBySource(ctx, f.ID); err != nil {
			return err
		}
		if err := tx.UpsertChunks(ctx, chunks); err != nil {
			return err
		}
		return tx.UpsertSource(ctx, rec)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("sync cancelled during commit")
			return
		}
		e.recordFailureLocked(ctx, f, types.StageCommit, fmt.Errorf("%w: %w", types.ErrInconsistentState, err), r, log)
		return
	}

	r.processed(len(chunks))
	log.Info("file synced", zap.Int("chunks", len(chunks)), zap.Bool("new", w.existing == nil))
}

// prepare produces the chunks for f, reporting the stage that failed
func (e *Engine) prepare(ctx context.Context, f upstream.File) ([]*types.Chunk, types.SyncStage, error) {
	content, err := retryWithBackoff(ctx, e.retry, func(ctx context.Context) (*upstream.Content, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
		defer cancel()
		return e.corpus.Download(callCtx, f.ID)
	})
	if err != nil {
		return nil, types.StageDownload, upstream.Unavailable("download", err)
	}

	filename := f.Filename
	if filename == "" {
		filename = content.Filename
	}
	text, err := e.extract(content.Data, content.ContentType, filename)
	if err != nil {
		if !errors.Is(err, types.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %w", types.ErrExtractionFailed, err)
		}
		return nil, types.StageExtract, err
	}

	if strings.TrimSpace(text) == "" {
		return []*types.Chunk{}, "", nil
	}

	segments := e.segmenter.Segment(text)
	texts := make([]string, 0, len(segments))
	kept := make([]segmenter.Segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		texts = append(texts, s.Text)
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return []*types.Chunk{}, "", nil
	}

	vectors, err := retryWithBackoff(ctx, e.retry, func(ctx context.Context) ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
		defer cancel()
		return e.embedder.EmbedDocuments(callCtx, texts)
	})
	if err != nil {
		if !errors.Is(err, types.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
		}
		return nil, types.StageEmbed, err
	}
	if len(vectors) != len(kept) {
		return nil, types.StageEmbed, fmt.Errorf("%w: expected %d vectors, got %d",
			types.ErrEmbeddingUnavailable, len(kept), len(vectors))
	}

	now := time.Now().UTC()
	chunks := make([]*types.Chunk, len(kept))
	for i, s := range kept {
		meta := map[string]string{
			types.MetaContentType: content.ContentType,
			types.MetaCharStart:   strconv.Itoa(s.Start),
			types.MetaCharEnd:     strconv.Itoa(s.End),
		}
		if s.Section != "" {
			meta[types.MetaSection] = s.Section
		}
		chunks[i] = &types.Chunk{
			ID:         uuid.NewString(),
			SourceID:   f.ID,
			Content:    s.Text,
			Embedding:  vectors[i],
			Filename:   filename,
			Category:   f.Category,
			ChunkIndex: i,
			Metadata:   meta,
			CreatedAt:  now,
		}
	}
	return chunks, "", nil
}

func (e *Engine) recordFailure(ctx context.Context, f upstream.File, stage types.SyncStage, cause error, r *run, log *zap.Logger) {
	unlock := e.locks.Lock(f.ID)
	defer unlock()
	e.recordFailureLocked(ctx, f, stage, cause, r, log)
}

// recordFailureLocked marks the record as error, keeping its marker and
// chunks. A file never seen before gets an error record with no marker so
// the next sync retries it. The caller holds the key lock.
func (e *Engine) recordFailureLocked(ctx context.Context, f upstream.File, stage types.SyncStage, cause error, r *run, log *zap.Logger) {
	log.Warn("file sync failed", zap.String("stage", string(stage)), zap.Error(cause))

	r.failed(types.FileError{
		SourceID: f.ID,
		Filename: f.Filename,
		Stage:    stage,
		Error:    cause.Error(),
	})

	rec, err := e.store.GetSource(ctx, f.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = &types.SourceRecord{
			SourceID: f.ID,
			Filename: f.Filename,
			Category: f.Category,
		}
	case err != nil:
		log.Error("failed to load source record", zap.Error(err))
		return
	}
	rec.Status = types.SourceError
	rec.LastError = fmt.Sprintf("%s: %v", stage, cause)

	if err := e.store.UpsertSource(ctx, rec); err != nil {
		log.Error("failed to record sync error", zap.Error(err))
	}
}

// remove deletes the chunks of a file gone upstream and tombstones it
func (e *Engine) remove(ctx context.Context, rec *types.SourceRecord, r *run) {
	if ctx.Err() != nil {
		return
	}
	log := e.logger.With(zap.String("source_id", rec.SourceID), zap.String("filename", rec.Filename))

	unlock := e.locks.Lock(rec.SourceID)
	defer unlock()

	n, err := e.tombstone(ctx, rec.SourceID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("file removal failed", zap.Error(err))
		r.failed(types.FileError{
			SourceID: rec.SourceID,
			Filename: rec.Filename,
			Stage:    types.StageDelete,
			Error:    err.Error(),
		})
		return
	}

	r.deleted()
	log.Info("file removed", zap.Int("chunks_deleted", n))
}

func (e *Engine) tombstone(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := storage.WithTransaction(ctx, e.store, func(tx storage.Tx) error {
		var err error
		if n, err = tx.DeleteChunksBySource(ctx, sourceID); err != nil {
			return err
		}
		return tx.MarkSourceDeleted(ctx, sourceID)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrInconsistentState, err)
	}
	return n, nil
}

// DeleteSource removes one file's chunks and tombstones its record. It
// returns storage.ErrNotFound for unknown ids.
func (e *Engine) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("%w: source id is required", types.ErrInvalidRequest)
	}

	unlock := e.locks.Lock(sourceID)
	defer unlock()

	if _, err := e.store.GetSource(ctx, sourceID); err != nil {
		return 0, err
	}

	n, err := e.tombstone(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	e.logger.Info("source deleted", zap.String("source_id", sourceID), zap.Int("chunks_deleted", n))
	return n, nil
}
