package storage

import (
	"context"
	"errors"

	"github.com/tharpep/knowledge-base/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when an embedding's length differs
	// from the dimension recorded for the store
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ChunkStore persists chunks and serves both retrieval channels
type ChunkStore interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []*types.Chunk) error
	DeleteChunksBySource(ctx context.Context, sourceID string) (int, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error)
	ListChunksBySource(ctx context.Context, sourceID string) ([]*types.Chunk, error)
	ClearChunks(ctx context.Context) error

	// Search operations
	SearchDense(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error)
	SearchLexical(ctx context.Context, query string, limit int, filter *SearchFilter) ([]LexicalResult, error)
}

// SourceRegistry tracks the sync state of every upstream file
type SourceRegistry interface {
	GetSource(ctx context.Context, sourceID string) (*types.SourceRecord, error)
	UpsertSource(ctx context.Context, rec *types.SourceRecord) error
	ListSources(ctx context.Context, filter SourceFilter) ([]*types.SourceRecord, error)
	MarkSourceDeleted(ctx context.Context, sourceID string) error
}

// Store is the full persistence surface used by the service
type Store interface {
	ChunkStore
	SourceRegistry

	// EnsureEmbeddingSpace records the embedding model and dimension, or
	// verifies they match what is already stored
	EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) error

	// Stats summarises chunk and source counts
	Stats(ctx context.Context) (*types.Stats, error)

	// Clear removes every chunk, source record and embedding setting
	Clear(ctx context.Context) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	ChunkStore
	SourceRegistry
}

// SearchFilter narrows both retrieval channels
type SearchFilter struct {
	Category  string   // Exact category match
	SourceIDs []string // Restrict to these sources
}

// SourceFilter narrows a source listing
type SourceFilter struct {
	Status   types.SourceStatus
	Category string
}

// DenseResult is one hit from vector similarity search
type DenseResult struct {
	ChunkID    string
	Similarity float64
}

// LexicalResult is one hit from full-text search
type LexicalResult struct {
	ChunkID string
	Score   float64 // Normalized to (0, 1], higher is better
}

// Keys in the store_meta table
const (
	MetaEmbeddingDimension = "embedding_dimension"
	MetaEmbeddingModel     = "embedding_model"
)
