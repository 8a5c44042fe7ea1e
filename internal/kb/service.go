package kb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/expander"
	"github.com/tharpep/knowledge-base/internal/reranker"
	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/internal/segmenter"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/internal/upstream"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// Embedder is the embedding surface shared by sync and search. Both sides
// must use the same model so stored and query vectors are comparable.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// SearchDefaults are applied to requests that leave a field unset
type SearchDefaults struct {
	TopK          int
	CandidatePool int
	SparseWeight  *float64
	Threshold     *float64
	Rerank        bool
}

// SyncSettings tunes the sync engine
type SyncSettings struct {
	Workers     int
	FileTimeout time.Duration
	Retry       syncer.RetryConfig
}

// Config wires a Service
type Config struct {
	Store     storage.Store
	Corpus    upstream.Corpus
	Embedder  Embedder
	Reranker  reranker.Reranker // Optional
	Expander  expander.Expander // Optional
	Segmenter *segmenter.Segmenter

	Search SearchDefaults
	Sync   SyncSettings
	Logger *zap.Logger

	// Closers are released by Close after the store
	Closers []io.Closer
}

// Service is the single entry point used by the MCP server, the HTTP API
// and the CLI
type Service struct {
	store    storage.Store
	embedder Embedder
	engine   *syncer.Engine
	searcher *searcher.Searcher
	logger   *zap.Logger
	closers  []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, records the embedding space in the store and builds
// the sync engine and retriever
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Embedder == nil || cfg.Corpus == nil {
		return nil, fmt.Errorf("kb requires a store, a corpus and an embedder")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Store.EnsureEmbeddingSpace(ctx, cfg.Embedder.Model(), cfg.Embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("embedding space check failed: %w", err)
	}

	engine, err := syncer.New(syncer.Config{
		Store:       cfg.Store,
		Corpus:      cfg.Corpus,
		Embedder:    cfg.Embedder,
		Segmenter:   cfg.Segmenter,
		Workers:     cfg.Sync.Workers,
		FileTimeout: cfg.Sync.FileTimeout,
		Retry:       cfg.Sync.Retry,
		Logger:      logger.Named("sync"),
	})
	if err != nil {
		return nil, err
	}

	srch, err := searcher.New(searcher.Config{
		Index:         cfg.Store,
		Embedder:      cfg.Embedder,
		Reranker:      cfg.Reranker,
		Expander:      cfg.Expander,
		TopK:          cfg.Search.TopK,
		CandidatePool: cfg.Search.CandidatePool,
		SparseWeight:  cfg.Search.SparseWeight,
		Threshold:     cfg.Search.Threshold,
		Rerank:        cfg.Search.Rerank,
		Logger:        logger.Named("search"),
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		engine:   engine,
		searcher: srch,
		logger:   logger,
		closers:  cfg.Closers,
	}, nil
}

// Search runs hybrid retrieval
func (s *Service) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	return s.searcher.Search(ctx, req)
}

// Sync reconciles the index with the corpus. Overlapping calls return
// syncer.ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context, opts syncer.Options) (*types.SyncSummary, error) {
	if len(opts.Categories) > 0 {
		cats := make([]string, len(opts.Categories))
		for i, c := range opts.Categories {
			cats[i] = upstream.NormalizeCategory(c)
		}
		opts.Categories = cats
	}

	return s.engine.Sync(ctx, opts)
}

// Stats reports index contents. Model and dimension fall back to the
// configured embedder before the first chunk is written.
func (s *Service) Stats(ctx context.Context) (*types.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	if stats.EmbeddingModel == "" {
		stats.EmbeddingModel = s.embedder.Model()
	}
	if stats.EmbeddingDim == 0 {
		stats.EmbeddingDim = s.embedder.Dimension()
	}
	return stats, nil
}

// Clear wipes every chunk and source record. confirm must be true. It
// returns syncer.ErrSyncInProgress while a sync is running and keeps new
// syncs out until it is done; searches are never blocked.
func (s *Service) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("%w: clear requires confirmation", types.ErrInvalidRequest)
	}

	err := s.engine.Exclusive(ctx, func(ctx context.Context) error {
		if err := s.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear knowledge base: %w", err)
		}
		if err := s.store.EnsureEmbeddingSpace(ctx, s.embedder.Model(), s.embedder.Dimension()); err != nil {
			return fmt.Errorf("failed to restore embedding settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("knowledge base cleared")
	return nil
}

// DeleteSource removes one source's chunks and tombstones its record
func (s *Service) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	return s.engine.DeleteSource(ctx, strings.TrimSpace(sourceID))
}

// ListSources returns tracked sources matching filter
func (s *Service) ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown source status %q", types.ErrInvalidRequest, filter.Status)
	}
	if filter.Category != "" {
		filter.Category = upstream.NormalizeCategory(filter.Category)
	}

	return s.store.ListSources(ctx, filter)
}

// Close releases the store and any provider resources. Safe to call twice.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		errs := []error{s.store.Close()}
		for _, c := range s.closers {
			errs = append(errs, c.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
