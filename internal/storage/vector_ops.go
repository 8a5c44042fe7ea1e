package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// maxFTSTerms caps the number of OR-terms sent to FTS5
const maxFTSTerms = 64

// searchDenseWithQuerier ranks chunks by cosine similarity, descending, with
// ties broken by insertion order
func (s *SQLiteStorage) searchDenseWithQuerier(ctx context.Context, q querier, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error) {
	if limit <= 0 {
		return []DenseResult{}, nil
	}

	dim, err := embeddingDimension(ctx, q)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []DenseResult{}, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", ErrDimensionMismatch, len(vector), dim)
	}

	if VectorExtensionAvailable && !s.vecMissing.Load() {
		results, err := searchDenseOptimized(ctx, q, vector, limit, filter)
		if err == nil {
			return results, nil
		}
		if !isMissingFunction(err) {
			return nil, err
		}
		s.vecMissing.Store(true)
	}

	return searchDenseFallback(ctx, q, vector, limit, filter)
}

// searchDenseOptimized computes distance in SQL with sqlite-vec
func searchDenseOptimized(ctx context.Context, q querier, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error) {
	query := `
		SELECT c.id, 1.0 - vec_distance_cosine(c.embedding, ?) AS similarity
		FROM chunks c
		WHERE 1=1
	`
	args := []interface{}{serializeVector(vector)}
	query, args = applySearchFilter(query, args, filter)
	query += " ORDER BY similarity DESC, c.seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]DenseResult, 0, limit)
	for rows.Next() {
		var r DenseResult
		if err := rows.Scan(&r.ChunkID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchDenseFallback scans all candidate embeddings and ranks them in Go
func searchDenseFallback(ctx context.Context, q querier, vector []float32, limit int, filter *SearchFilter) ([]DenseResult, error) {
	query := `SELECT c.id, c.embedding FROM chunks c WHERE 1=1`
	query, args := applySearchFilter(query, nil, filter)
	query += " ORDER BY c.seq ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]DenseResult, 0, 256)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		emb := deserializeVector(blob)
		if len(emb) != len(vector) {
			continue
		}
		candidates = append(candidates, DenseResult{ChunkID: id, Similarity: cosineSimilarity(vector, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive in seq order, so a stable sort keeps insertion order on ties
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// searchLexical performs BM25 full-text search using FTS5
func searchLexical(ctx context.Context, q querier, query string, limit int, filter *SearchFilter) ([]LexicalResult, error) {
	match := ftsQuery(query)
	if match == "" || limit <= 0 {
		return []LexicalResult{}, nil
	}

	sqlQuery := `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts
		INNER JOIN chunks c ON c.seq = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{match}
	sqlQuery, args = applySearchFilter(sqlQuery, args, filter)

	// BM25 in FTS5 is negative; lower is better
	sqlQuery += " ORDER BY score ASC, c.seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]LexicalResult, 0, limit)
	for rows.Next() {
		var id string
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, err
		}
		results = append(results, LexicalResult{ChunkID: id, Score: normalizeBM25(bm25)})
	}
	return results, rows.Err()
}

// applySearchFilter adds WHERE clause filters on the chunks alias c
func applySearchFilter(query string, args []interface{}, filter *SearchFilter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}

	if filter.Category != "" {
		query += " AND c.category = ?"
		args = append(args, filter.Category)
	}

	if len(filter.SourceIDs) > 0 {
		query += " AND c.source_id IN (" + placeholders(len(filter.SourceIDs)) + ")"
		for _, id := range filter.SourceIDs {
			args = append(args, id)
		}
	}

	return query, args
}

// normalizeBM25 maps an FTS5 bm25 value to [0, 1), higher is better
func normalizeBM25(score float64) float64 {
	a := math.Abs(score)
	return a / (1.0 + a)
}

// ftsQuery turns free text into a safe FTS5 expression: every letter/digit
// run becomes a quoted term and terms are OR-ed. User input can never reach
// FTS5 as syntax.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
		if len(terms) == maxFTSTerms {
			break
		}
	}
	return strings.Join(terms, " OR ")
}

func isMissingFunction(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such function")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper used by other backends
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper used by other backends
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

