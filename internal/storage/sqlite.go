package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tharpep/knowledge-base/pkg/types"
)

// ErrModelMismatch is returned when the configured embedding model differs
// from the model that produced the stored vectors
var ErrModelMismatch = errors.New("embedding model mismatch")

// maxINParams bounds the number of placeholders in one IN (...) clause
const maxINParams = 500

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db *sql.DB

	// vecMissing is set once vec_distance_cosine turns out to be unavailable
	vecMissing atomic.Bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Single writer connection: commits are visible to the next query
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Chunk operations

const chunkColumns = `c.id, c.content, c.embedding, c.source_id, c.filename, c.category, c.chunk_index, c.metadata, c.created_at`

// upsertChunksWithQuerier inserts chunks, replacing any existing chunk at
// the same (source_id, chunk_index)
func upsertChunksWithQuerier(ctx context.Context, q querier, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim, err := embeddingDimension(ctx, q)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chunks (id, content, embedding, source_id, filename, category, chunk_index, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, chunk_index) DO UPDATE SET
			id = excluded.id,
			content = excluded.content,
			embedding = excluded.embedding,
			filename = excluded.filename,
			category = excluded.category,
			metadata = excluded.metadata,
			created_at = excluded.created_at
	`

	now := time.Now().UTC()
	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return fmt.Errorf("invalid chunk %d: %w", i, err)
		}

		if dim == 0 {
			dim = len(chunk.Embedding)
			if err := setMeta(ctx, q, MetaEmbeddingDimension, strconv.Itoa(dim)); err != nil {
				return err
			}
		}
		if len(chunk.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d",
				ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), dim)
		}

		meta, err := encodeMetadata(chunk.Metadata)
		if err != nil {
			return err
		}
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}

		_, err = q.ExecContext(ctx, query,
			chunk.ID, chunk.Content, serializeVector(chunk.Embedding),
			chunk.SourceID, chunk.Filename, chunk.Category, chunk.ChunkIndex,
			meta, chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	return nil
}

func (s *SQLiteStorage) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return WithTransaction(ctx, s, func(tx Tx) error {
		return tx.UpsertChunks(ctx, chunks)
	})
}

func deleteChunksBySourceWithQuerier(ctx context.Context, q querier, sourceID string) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE source_id = ?", sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", sourceID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) DeleteChunksBySource(ctx context.Context, sourceID string) (int, error) {
	return deleteChunksBySourceWithQuerier(ctx, s.db, sourceID)
}

// getChunksWithQuerier fetches chunks by id. Missing ids are absent from
// the map.
func getChunksWithQuerier(ctx context.Context, q querier, ids []string) (map[string]*types.Chunk, error) {
	out := make(map[string]*types.Chunk, len(ids))

	for start := 0; start < len(ids); start += maxINParams {
		end := start + maxINParams
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		query := `SELECT ` + chunkColumns + ` FROM chunks c WHERE c.id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, args...)
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
	}

	return out, nil
}

func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunksWithQuerier(ctx, s.db, ids)
}

func listChunksBySourceWithQuerier(ctx context.Context, q querier, sourceID string) ([]*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks c WHERE c.source_id = ? ORDER BY c.chunk_index`
	rows, err := q.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return scanChunks(rows)
}

func (s *SQLiteStorage) ListChunksBySource(ctx context.Context, sourceID string) ([]*types.Chunk, error) {
	return listChunksBySourceWithQuerier(ctx, s.db, sourceID)
}

func clearChunksWithQuerier(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ClearChunks(ctx context.Context) error {
	return clearChunksWithQuerier(ctx, s.db)
}

// scanChunks reads every row and closes rows
func scanChunks(rows *sql.Rows) ([]*types.Chunk, error) {
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		var (
			c    types.Chunk
			blob []byte
			meta string
		)
		if err := rows.Scan(&c.ID, &c.Content, &blob, &c.SourceID, &c.Filename,
			&c.Category, &c.ChunkIndex, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Embedding = deserializeVector(blob)
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		c.Metadata = md
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Search operations

func (s *SQLiteStorage) SearchDense(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error) {
	return s.searchDenseWithQuerier(ctx, s.db, vector, limit, filter)
}

func (s *SQLiteStorage) SearchLexical(ctx context.Context, query string, limit int, filter *SearchFilter) ([]LexicalResult, error) {
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

func getSourceWithQuerier(ctx context.Context, q querier, sourceID string) (*types.SourceRecord, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE source_id = ?`
	rec, err := scanSource(q.QueryRowContext(ctx, query, sourceID).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", sourceID, err)
	}
	return rec, nil
}

func (s *SQLiteStorage) GetSource(ctx context.Context, sourceID string) (*types.SourceRecord, error) {
	return getSourceWithQuerier(ctx, s.db, sourceID)
}

func upsertSourceWithQuerier(ctx context.Context, q querier, rec *types.SourceRecord) error {
	if rec.SourceID == "" {
		return fmt.Errorf("%w: source id is required", types.ErrInvalidRequest)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown source status %q", types.ErrInvalidRequest, rec.Status)
	}

	query := `
		INSERT INTO sources (source_id, filename, category, modified_marker, last_synced, chunk_count, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			filename = excluded.filename,
			category = excluded.category,
			modified_marker = excluded.modified_marker,
			last_synced = excluded.last_synced,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			last_error = excluded.last_error
	`
	var lastSynced interface{}
	if !rec.LastSynced.IsZero() {
		lastSynced = rec.LastSynced.UTC()
	}

	_, err := q.ExecContext(ctx, query,
		rec.SourceID, rec.Filename, rec.Category, rec.ModifiedMarker,
		lastSynced, rec.ChunkCount, string(rec.Status), rec.LastError)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", rec.SourceID, err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertSource(ctx context.Context, rec *types.SourceRecord) error {
	return upsertSourceWithQuerier(ctx, s.db, rec)
}

func listSourcesWithQuerier(ctx context.Context, q querier, filter SourceFilter) ([]*types.SourceRecord, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY source_id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SourceRecord
	for rows.Next() {
		rec, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListSources(ctx context.Context, filter SourceFilter) ([]*types.SourceRecord, error) {
	return listSourcesWithQuerier(ctx, s.db, filter)
}

func markSourceDeletedWithQuerier(ctx context.Context, q querier, sourceID string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE sources SET status = ?, chunk_count = 0, last_error = '', last_synced = ? WHERE source_id = ?`,
		string(types.SourceDeleted), time.Now().UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to mark source %s deleted: %w", sourceID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) MarkSourceDeleted(ctx context.Context, sourceID string) error {
	return markSourceDeletedWithQuerier(ctx, s.db, sourceID)
}

// Store metadata

func getMeta(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// embeddingDimension returns the recorded dimension, or 0 when none is set
func embeddingDimension(ctx context.Context, q querier) (int, error) {
	v, ok, err := getMeta(ctx, q, MetaEmbeddingDimension)
	if err != nil || !ok {
		return 0, err
	}
	dim, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", v, err)
	}
	return dim, nil
}

// EnsureEmbeddingSpace records model and dimension on first use. A change is
// accepted only while the store holds no chunks.
func (s *SQLiteStorage) EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	storedDim, err := embeddingDimension(ctx, tx)
	if err != nil {
		return err
	}
	storedModel, _, err := getMeta(ctx, tx, MetaEmbeddingModel)
	if err != nil {
		return err
	}

	if (storedDim != 0 && storedDim != dimension) || (storedModel != "" && storedModel != model) {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			if storedDim != dimension {
				return fmt.Errorf("%w: store has %d, configured %d", ErrDimensionMismatch, storedDim, dimension)
			}
			return fmt.Errorf("%w: store has %s, configured %s", ErrModelMismatch, storedModel, model)
		}
	}

	if err := setMeta(ctx, tx, MetaEmbeddingDimension, strconv.Itoa(dimension)); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, MetaEmbeddingModel, model); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats returns chunk and source counts plus database size
func (s *SQLiteStorage) Stats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{
		SourcesByStatus:  make(map[types.SourceStatus]int),
		ChunksByCategory: make(map[string]int),
		Backend:          "sqlite-" + BuildMode,
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.TotalChunks); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM sources GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.SourcesByStatus[types.SourceStatus(status)] = n
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM chunks GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ChunksByCategory[category] = n
	}
	_ = rows.Close()

	if stats.EmbeddingDim, err = embeddingDimension(ctx, s.db); err != nil {
		return nil, err
	}
	if stats.EmbeddingModel, _, err = getMeta(ctx, s.db, MetaEmbeddingModel); err != nil {
		return nil, err
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return stats, nil
}

// Clear removes all chunks, source records and embedding settings
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM chunks", "DELETE FROM sources", "DELETE FROM store_meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear: %w", err)
		}
	}
	return tx.Commit()
}

// Transaction methods - delegate to the *WithQuerier helpers using t.tx

func (t *sqliteTx) UpsertChunks(ctx context.Context, chunks []*types.Chunk) error {
	return upsertChunksWithQuerier(ctx, t.tx, chunks)
}

func (t *sqliteTx) DeleteChunksBySource(ctx context.Context, sourceID string) (int, error) {
	return deleteChunksBySourceWithQuerier(ctx, t.tx, sourceID)
}

func (t *sqliteTx) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	return getChunksWithQuerier(ctx, t.tx, ids)
}

func (t *sqliteTx) ListChunksBySource(ctx context.Context, sourceID string) ([]*types.Chunk, error) {
	return listChunksBySourceWithQuerier(ctx, t.tx, sourceID)
}

func (t *sqliteTx) ClearChunks(ctx context.Context) error {
	return clearChunksWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) SearchDense(ctx context.Context, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error) {
	return t.storage.searchDenseWithQuerier(ctx, t.tx, vector, limit, filter)
}

func (t *sqliteTx) SearchLexical(ctx context.Context, query string, limit int, filter *SearchFilter) ([]LexicalResult, error) {
	return searchLexical(ctx, t.tx, query, limit, filter)
}

func (t *sqliteTx) GetSource(ctx context.Context, sourceID string) (*types.SourceRecord, error) {
	return getSourceWithQuerier(ctx, t.tx, sourceID)
}

func (t *sqliteTx) UpsertSource(ctx context.Context, rec *types.SourceRecord) error {
	return upsertSourceWithQuerier(ctx, t.tx, rec)
}

func (t *sqliteTx) ListSources(ctx context.Context, filter SourceFilter) ([]*types.SourceRecord, error) {
	return listSourcesWithQuerier(ctx, t.tx, filter)
}

func (t *sqliteTx) MarkSourceDeleted(ctx context.Context, sourceID string) error {
	return markSourceDeletedWithQuerier(ctx, t.tx, sourceID)
}
