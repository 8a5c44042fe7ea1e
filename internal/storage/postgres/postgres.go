// Package postgres implements storage.Store on PostgreSQL with pgvector.
//
// Dense search uses the pgvector cosine distance operator (<=>) over an HNSW
// index. Lexical search uses a generated tsvector column ranked with
// ts_rank_cd.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// Config holds connection pool settings
type Config struct {
	DSN             string
	Dimension       int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements storage.Store on PostgreSQL
type Store struct {
	db        *sql.DB
	dimension int
	logger    *zap.Logger
}

// Open connects, verifies the connection and initializes the schema
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("postgres store needs an embedding dimension")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewWithDB(db, cfg.Dimension, logger)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("database connection established", zap.Int("dimension", cfg.Dimension))
	return s, nil
}

// NewWithDB wraps an existing connection pool without touching the schema
func NewWithDB(db *sql.DB, dimension int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, dimension: dimension, logger: logger}
}

// InitSchema creates tables and indexes if they do not exist
func (s *Store) InitSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS kb_chunks (
			seq         BIGSERIAL UNIQUE,
			id          TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			fts         TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			source_id   TEXT NOT NULL,
			filename    TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source_id, chunk_index)
		);

		CREATE INDEX IF NOT EXISTS kb_chunks_embedding_idx
			ON kb_chunks USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS kb_chunks_fts_idx ON kb_chunks USING gin (fts);
		CREATE INDEX IF NOT EXISTS kb_chunks_source_idx ON kb_chunks (source_id);
		CREATE INDEX IF NOT EXISTS kb_chunks_category_idx ON kb_chunks (category);

		CREATE TABLE IF NOT EXISTS kb_sources (
			source_id       TEXT PRIMARY KEY,
			filename        TEXT NOT NULL DEFAULT '',
			category        TEXT NOT NULL DEFAULT '',
			modified_marker TEXT NOT NULL DEFAULT '',
			last_synced     TIMESTAMPTZ,
			chunk_count     INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			last_error      TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS kb_sources_category_idx ON kb_sources (category);
		CREATE INDEX IF NOT EXISTS kb_sources_status_idx ON kb_sources (status);

		CREATE TABLE IF NOT EXISTS kb_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`, s.dimension)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Info("database schema initialized")
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// executor is satisfied by both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// BeginTx starts a new transaction
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx, store: s}, nil
}

type pgTx struct {
	tx    *sql.Tx
	store *Store
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// args accumulates positional parameters for $n placeholders
type args []interface{}

func (a *args) add(v interface{}) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// vectorLiteral renders a pgvector text literal such as [1,0.5,-2]
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// tsQuery builds an OR-ed to_tsquery expression from letter/digit runs
func tsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return strings.Join(terms, " | ")
}

func filterSQL(a *args, filter *storage.SearchFilter) string {
	if filter == nil {
		return ""
	}
	var clause string
	if filter.Category != "" {
		clause += " AND category = " + a.add(filter.Category)
	}
	if len(filter.SourceIDs) > 0 {
		ph := make([]string, len(filter.SourceIDs))
		for i, id := range filter.SourceIDs {
			ph[i] = a.add(id)
		}
		clause += " AND source_id IN (" + strings.Join(ph, ",") + ")"
	}
	return clause
}

// Chunk operations

func upsertChunks(ctx context.Context, q executor, dimension int, chunks []*types.Chunk) error {
	now := time.Now().UTC()
	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid chunk %d: %w", i, err)
		}
		if len(c.Embedding) != dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d",
				storage.ErrDimensionMismatch, c.ID, len(c.Embedding), dimension)
		}
		meta := []byte("{}")
		if len(c.Metadata) > 0 {
			var err error
			if meta, err = json.Marshal(c.Metadata); err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO kb_chunks (id, content, embedding, source_id, filename, category, chunk_index, metadata, created_at)
			VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (source_id, chunk_index) DO UPDATE SET
				id = EXCLUDED.id,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				filename = EXCLUDED.filename,
				category = EXCLUDED.category,
				metadata = EXCLUDED.metadata,
				created_at = EXCLUDED.created_at`,
			c.ID, c.Content, vectorLiteral(c.Embedding), c.SourceID, c.Filename,
			c.Category, c.ChunkIndex, string(meta), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return storage.WithTransaction(ctx, s, func(tx storage.Tx) error {
		return tx.UpsertChunks(ctx, chunks)
	})
}

func deleteChunksBySource(ctx context.Context, q executor, sourceID string) (int, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM kb_chunks WHERE source_id = $1", sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) DeleteChunksBySource(ctx context.Context, sourceID string) (int, error) {
	return deleteChunksBySource(ctx, s.db, sourceID)
}

const chunkColumns = `id, content, embedding::text, source_id, filename, category, chunk_index, metadata::text, created_at`

func scanChunks(rows *sql.Rows) ([]*types.Chunk, error) {
	defer func() { _ = rows.Close() }()

	var out []*types.Chunk
	for rows.Next() {
		var (
			c         types.Chunk
			vec, meta string
		)
		if err := rows.Scan(&c.ID, &c.Content, &vec, &c.SourceID, &c.Filename,
			&c.Category, &c.ChunkIndex, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		emb, err := parseVector(vec)
		if err != nil {
			return nil, err
		}
		c.Embedding = emb
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func getChunks(ctx context.Context, q executor, ids []string) (map[string]*types.Chunk, error) {
	out := make(map[string]*types.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var a args
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = a.add(id)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM kb_chunks WHERE id IN (`+strings.Join(ph, ",")+`)`, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

func (s *Store) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunks(ctx, s.db, ids)
}

func listChunksBySource(ctx context.Context, q executor, sourceID string) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM kb_chunks WHERE source_id = $1 ORDER BY chunk_index`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return scanChunks(rows)
}

func (s *Store) ListChunksBySource(ctx context.Context, sourceID string) ([]*types.Chunk, error) {
	return listChunksBySource(ctx, s.db, sourceID)
}

func (s *Store) ClearChunks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kb_chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	return nil
}

// Search operations

func searchDense(ctx context.Context, q executor, dimension int, vector []float32, limit int, filter *storage.SearchFilter) ([]storage.DenseResult, error) {
	if limit <= 0 {
		return []storage.DenseResult{}, nil
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			storage.ErrDimensionMismatch, len(vector), dimension)
	}

	var a args
	vec := a.add(vectorLiteral(vector))
	query := `SELECT id, 1 - (embedding <=> ` + vec + `::vector) AS similarity FROM kb_chunks WHERE TRUE` +
		filterSQL(&a, filter) +
		` ORDER BY embedding <=> ` + vec + `::vector, seq LIMIT ` + a.add(limit)

	rows, err := q.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]storage.DenseResult, 0, limit)
	for rows.Next() {
		var r storage.DenseResult
		if err := rows.Scan(&r.ChunkID, &r.Similarity); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) SearchDense(ctx context.Context, vector []float32, limit int, filter *storage.SearchFilter) ([]storage.DenseResult, error) {
	return searchDense(ctx, s.db, s.dimension, vector, limit, filter)
}

func searchLexical(ctx context.Context, q executor, text string, limit int, filter *storage.SearchFilter) ([]storage.LexicalResult, error) {
	tsq := tsQuery(text)
	if tsq == "" || limit <= 0 {
		return []storage.LexicalResult{}, nil
	}

	var a args
	ph := a.add(tsq)
	query := `SELECT id, ts_rank_cd(fts, to_tsquery('english', ` + ph + `)) AS rank FROM kb_chunks` +
		` WHERE fts @@ to_tsquery('english', ` + ph + `)` +
		filterSQL(&a, filter) +
		` ORDER BY rank DESC, seq LIMIT ` + a.add(limit)

	rows, err := q.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute full-text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]storage.LexicalResult, 0, limit)
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		results = append(results, storage.LexicalResult{ChunkID: id, Score: rank / (1 + rank)})
	}
	return results, rows.Err()
}

func (s *Store) SearchLexical(ctx context.Context, query string, limit int, filter *storage.SearchFilter) ([]storage.LexicalResult, error) {
	return searchLexical(ctx, s.db, query, limit, filter)
}

// Source registry operations

const sourceColumns = `source_id, filename, category, modified_marker, last_synced, chunk_count, status, last_error`

func scanSource(scan func(dest ...interface{}) error) (*types.SourceRecord, error) {
	var (
		rec        types.SourceRecord
		lastSynced sql.NullTime
		status     string
	)
	if err := scan(&rec.SourceID, &rec.Filename, &rec.Category, &rec.ModifiedMarker,
		&lastSynced, &rec.ChunkCount, &status, &rec.LastError); err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		rec.LastSynced = lastSynced.Time
	}
	rec.Status = types.SourceStatus(status)
	return &rec, nil
}

func getSource(ctx context.Context, q executor, sourceID string) (*types.SourceRecord, error) {
	rec, err := scanSource(q.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM kb_sources WHERE source_id = $1`, sourceID).Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", sourceID, err)
	}
	return rec, nil
}

func (s *Store) GetSource(ctx context.Context, sourceID string) (*types.SourceRecord, error) {
	return getSource(ctx, s.db, sourceID)
}

func upsertSource(ctx context.Context, q executor, rec *types.SourceRecord) error {
	if rec.SourceID == "" {
		return fmt.Errorf("%w: source id is required", types.ErrInvalidRequest)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown source status %q", types.ErrInvalidRequest, rec.Status)
	}

	var lastSynced interface{}
	if !rec.LastSynced.IsZero() {
		lastSynced = rec.LastSynced.UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO kb_sources (`+sourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			category = EXCLUDED.category,
			modified_marker = EXCLUDED.modified_marker,
			last_synced = EXCLUDED.last_synced,
			chunk_count = EXCLUDED.chunk_count,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error`,
		rec.SourceID, rec.Filename, rec.Category, rec.ModifiedMarker,
		lastSynced, rec.ChunkCount, string(rec.Status), rec.LastError)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", rec.SourceID, err)
	}
	return nil
}

func (s *Store) UpsertSource(ctx context.Context, rec *types.SourceRecord) error {
	return upsertSource(ctx, s.db, rec)
}

func listSources(ctx context.Context, q executor, filter storage.SourceFilter) ([]*types.SourceRecord, error) {
	var a args
	query := `SELECT ` + sourceColumns + ` FROM kb_sources WHERE TRUE`
	if filter.Status != "" {
		query += " AND status = " + a.add(string(filter.Status))
	}
	if filter.Category != "" {
		query += " AND category = " + a.add(filter.Category)
	}
	query += " ORDER BY source_id"

	rows, err := q.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error) {
	return listSources(ctx, s.db, filter)
}

func markSourceDeleted(ctx context.Context, q executor, sourceID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE kb_sources SET status = $1, chunk_count = 0, last_error = '', last_synced = $2 WHERE source_id = $3`,
		string(types.SourceDeleted), time.Now().UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to mark source %s deleted: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSourceDeleted(ctx context.Context, sourceID string) error {
	return markSourceDeleted(ctx, s.db, sourceID)
}

// EnsureEmbeddingSpace verifies the configured model and dimension against
// the schema and the recorded model
func (s *Store) EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) error {
	if dimension != s.dimension {
		return fmt.Errorf("%w: schema has vector(%d), configured %d",
			storage.ErrDimensionMismatch, s.dimension, dimension)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kb_meta WHERE key = $1`, storage.MetaEmbeddingModel).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read embedding model: %w", err)
	case stored != model:
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_chunks`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: store has %s, configured %s", storage.ErrModelMismatch, stored, model)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_meta (key, value) VALUES ($1, $2), ($3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		storage.MetaEmbeddingModel, model, storage.MetaEmbeddingDimension, strconv.Itoa(dimension))
	if err != nil {
		return fmt.Errorf("failed to record embedding space: %w", err)
	}
	return nil
}

// Stats summarises chunk and source counts
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{
		SourcesByStatus:  make(map[types.SourceStatus]int),
		ChunksByCategory: make(map[string]int),
		EmbeddingDim:     s.dimension,
		Backend:          "postgres",
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_chunks`).Scan(&stats.TotalChunks); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	if err := scanCounts(ctx, s.db, `SELECT status, COUNT(*) FROM kb_sources GROUP BY status`, func(k string, n int) {
		stats.SourcesByStatus[types.SourceStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := scanCounts(ctx, s.db, `SELECT category, COUNT(*) FROM kb_chunks GROUP BY category`, func(k string, n int) {
		stats.ChunksByCategory[k] = n
	}); err != nil {
		return nil, err
	}

	err := s.db.QueryRowContext(ctx, `SELECT value FROM kb_meta WHERE key = $1`, storage.MetaEmbeddingModel).Scan(&stats.EmbeddingModel)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	var bytes int64
	if err := s.db.QueryRowContext(ctx, `SELECT pg_total_relation_size('kb_chunks')`).Scan(&bytes); err == nil {
		stats.IndexSizeMB = float64(bytes) / (1024 * 1024)
	}

	return stats, nil
}

func scanCounts(ctx context.Context, q executor, query string, fn func(string, int)) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}

// Clear removes every chunk, source record and embedding setting
func (s *Store) Clear(ctx context.Context) error {
	return storage.WithTransaction(ctx, s, func(tx storage.Tx) error {
		pt := tx.(*pgTx)
		for _, stmt := range []string{"DELETE FROM kb_chunks", "DELETE FROM kb_sources", "DELETE FROM kb_meta"} {
			if _, err := pt.tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear: %w", err)
			}
		}
		return nil
	})
}

// Transaction methods

func (t *pgTx) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return upsertChunks(ctx, t.tx, t.store.dimension, chunks)
}

func (t *pgTx) DeleteChunksBySource(ctx context.Context, sourceID string) (int, error) {
	return deleteChunksBySource(ctx, t.tx, sourceID)
}

func (t *pgTx) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunks(ctx, t.tx, ids)
}

func (t *pgTx) ListChunksBySource(ctx context.Context, sourceID string) ([]*types.Chunk, error) {
	return listChunksBySource(ctx, t.tx, sourceID)
}

func (t *pgTx) ClearChunks(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM kb_chunks")
	return err
}

func (t *pgTx) SearchDense(ctx context.Context, vector []float32, limit int, filter *storage.SearchFilter) ([]storage.DenseResult, error) {
	return searchDense(ctx, t.tx, t.store.dimension, vector, limit, filter)
}

func (t *pgTx) SearchLexical(ctx context.Context, query string, limit int, filter *storage.SearchFilter) ([]storage.LexicalResult, error) {
	return searchLexical(ctx, t.tx, query, limit, filter)
}

func (t *pgTx) GetSource(ctx context.Context, sourceID string) (*types.SourceRecord, error) {
	return getSource(ctx, t.tx, sourceID)
}

func (t *pgTx) UpsertSource(ctx context.Context, rec *types.SourceRecord) error {
	return upsertSource(ctx, t.tx, rec)
}

func (t *pgTx) ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error) {
	return listSources(ctx, t.tx, filter)
}

func (t *pgTx) MarkSourceDeleted(ctx context.Context, sourceID string) error {
	return markSourceDeleted(ctx, t.tx, sourceID)
}

var _ storage.Store = (*Store)(nil)
