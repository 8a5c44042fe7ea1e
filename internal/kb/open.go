package kb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/config"
	"github.com/tharpep/knowledge-base/internal/embedder"
	"github.com/tharpep/knowledge-base/internal/expander"
	"github.com/tharpep/knowledge-base/internal/reranker"
	"github.com/tharpep/knowledge-base/internal/segmenter"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/storage/postgres"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/internal/upstream"
	"github.com/tharpep/knowledge-base/internal/upstream/drive"
	"github.com/tharpep/knowledge-base/internal/upstream/gateway"
	"github.com/tharpep/knowledge-base/internal/upstream/localfs"
)

const memoryDB = ":memory:"

// Open builds a Service from configuration: store, embedder, optional
// reranker and expander, and the configured corpus
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	emb := embedder.NewClient(provider, embedder.ClientConfig{
		BatchSize:      cfg.Embedding.BatchSize,
		Timeout:        cfg.Embedding.Timeout.Std(),
		QueryCacheSize: cfg.Embedding.QueryCacheSize,
		Logger:         logger.Named("embedder"),
	})

	rr, err := reranker.New(reranker.Config{
		Provider: cfg.Rerank.Provider,
		APIKey:   cfg.Rerank.APIKey,
		Model:    cfg.Rerank.Model,
		BaseURL:  cfg.Rerank.BaseURL,
		Timeout:  cfg.Rerank.Timeout.Std(),
	})
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}

	var exp expander.Expander
	if cfg.Expansion.Enabled {
		exp = expander.New(expander.Config{
			BaseURL: cfg.Expansion.BaseURL,
			APIKey:  cfg.Expansion.APIKey,
			Model:   cfg.Expansion.Model,
			Timeout: cfg.Expansion.Timeout.Std(),
		})
	}

	corpus, err := OpenCorpus(ctx, cfg, logger)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	seg, err := segmenter.New(segmenter.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		Boundary:  segmenter.Boundary(cfg.Chunking.Boundary),
	})
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Database, emb.Dimension(), logger)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	sparse := cfg.Retrieval.SparseWeight
	svc, err := New(ctx, Config{
		Store:     store,
		Corpus:    corpus,
		Embedder:  emb,
		Reranker:  rr,
		Expander:  exp,
		Segmenter: seg,
		Search: SearchDefaults{
			TopK:          cfg.Retrieval.TopK,
			CandidatePool: cfg.Retrieval.CandidatePool,
			SparseWeight:  &sparse,
			Threshold:     cfg.Retrieval.Threshold,
			Rerank:        cfg.Retrieval.Rerank,
		},
		Sync: SyncSettings{
			Workers:     cfg.Sync.Workers,
			FileTimeout: cfg.Sync.FileTimeout.Std(),
			Retry: syncer.RetryConfig{
				MaxAttempts: cfg.Sync.RetryAttempts,
				BaseDelay:   cfg.Sync.RetryBaseDelay.Std(),
			},
		},
		Logger:  logger,
		Closers: []io.Closer{emb},
	})
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, err
	}

	logger.Info("knowledge base opened",
		zap.String("driver", cfg.Database.Driver),
		zap.String("upstream", cfg.Upstream.Kind),
		zap.String("embedding_provider", emb.ProviderName()),
		zap.String("embedding_model", emb.Model()),
		zap.Int("embedding_dimension", emb.Dimension()),
		zap.Bool("rerank", rr != nil),
		zap.Bool("expansion", exp != nil))
	return svc, nil
}

// OpenStore opens the configured chunk store. SQLite databases get their
// parent directory created; postgres needs the embedding dimension for its
// vector column.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, dimension int, logger *zap.Logger) (storage.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.DSN,
			Dimension:    dimension,
			MaxOpenConns: cfg.MaxOpenConns,
		}, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case config.DriverSQLite, "":
		path := cfg.Path
		if path != memoryDB {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err := storage.NewSQLiteStorage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenCorpus builds the configured upstream client. Remote corpora share one
// rate limiter across listing and downloads.
func OpenCorpus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (upstream.Corpus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	up := cfg.Upstream
	maxDownload := int64(up.MaxDownloadMB) << 20
	fileTimeout := cfg.Sync.FileTimeout.Std()

	limit := upstream.DefaultRateLimit
	if up.RequestsPerSecond > 0 {
		limit.RequestsPerSecond = up.RequestsPerSecond
	}
	if up.Burst > 0 {
		limit.BurstSize = up.Burst
	}

	switch up.Kind {
	case config.UpstreamGateway:
		c, err := gateway.New(gateway.Config{
			BaseURL:         up.Gateway.URL,
			APIKey:          up.Gateway.APIKey,
			ListTimeout:     fileTimeout,
			DownloadTimeout: fileTimeout,
			MaxDownload:     maxDownload,
			Limiter:         upstream.NewRateLimiter(limit),
			Logger:          logger.Named("gateway"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gateway client: %w", err)
		}
		return c, nil
	case config.UpstreamDrive:
		c, err := drive.New(ctx, drive.Config{
			RootFolderID: up.Drive.RootFolderID,
			ClientID:     up.Drive.ClientID,
			ClientSecret: up.Drive.ClientSecret,
			RefreshToken: up.Drive.RefreshToken,
			MaxDownload:  maxDownload,
			Limiter:      upstream.NewRateLimiter(limit),
			Logger:       logger.Named("drive"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize drive client: %w", err)
		}
		return c, nil
	case config.UpstreamLocalFS:
		c, err := localfs.New(up.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open local corpus: %w", err)
		}
		// Local reads are only throttled when a rate is configured
		if up.RequestsPerSecond > 0 {
			return upstream.WithRateLimit(c, upstream.NewRateLimiter(limit)), nil
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown upstream kind %q", up.Kind)
	}
}
