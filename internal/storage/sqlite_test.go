package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharpep/knowledge-base/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func makeChunk(sourceID string, index int, content string, vec []float32) *types.Chunk {
	return &types.Chunk{
		ID:         fmt.Sprintf("%s-%d", sourceID, index),
		SourceID:   sourceID,
		Content:    content,
		Embedding:  vec,
		Filename:   sourceID + ".md",
		Category:   "general",
		ChunkIndex: index,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	s := setupTestDB(t)

	version, err := SchemaVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, s.db))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, s.db))
	version, err := SchemaVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	require.NoError(t, ApplyMigrations(ctx, s.db))
	version, err = SchemaVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestUpsertChunks_AndGet(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c := makeChunk("doc1", 0, "Refunds are processed within 14 days.", []float32{1, 0, 0})
	c.Metadata = map[string]string{"section": "Billing"}
	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{c}))

	got, err := s.GetChunks(ctx, []string{c.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	stored := got[c.ID]
	assert.Equal(t, c.Content, stored.Content)
	assert.Equal(t, c.Embedding, stored.Embedding)
	assert.Equal(t, "doc1", stored.SourceID)
	assert.Equal(t, "Billing", stored.Metadata["section"])
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestUpsertChunks_ReplacesSamePosition(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("doc1", 0, "old text", []float32{1, 0})}))

	replacement := makeChunk("doc1", 0, "new text", []float32{0, 1})
	replacement.ID = "doc1-0-v2"
	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{replacement}))

	chunks, err := s.ListChunksBySource(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new text", chunks[0].Content)

	// Lexical index follows the update
	hits, err := s.SearchLexical(ctx, "old", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.SearchLexical(ctx, "new", 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpsertChunks_DimensionMismatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("doc1", 0, "a", []float32{1, 0, 0})}))

	err := s.UpsertChunks(ctx, []*types.Chunk{
		makeChunk("doc2", 0, "b", []float32{1, 0, 0}),
		makeChunk("doc2", 1, "c", []float32{1, 0}),
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// The whole batch rolled back
	chunks, err := s.ListChunksBySource(ctx, "doc2")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUpsertChunks_Invalid(t *testing.T) {
	s := setupTestDB(t)
	err := s.UpsertChunks(context.Background(), []*types.Chunk{{ID: "x", SourceID: "s", Content: "c"}})
	assert.Error(t, err)
}

func TestDeleteChunksBySource(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{
		makeChunk("doc1", 0, "alpha", []float32{1, 0}),
		makeChunk("doc1", 1, "beta", []float32{0, 1}),
		makeChunk("doc2", 0, "alpha beta", []float32{1, 1}),
	}))

	n, err := s.DeleteChunksBySource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := s.SearchLexical(ctx, "alpha", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc2-0", hits[0].ChunkID)

	n, err = s.DeleteChunksBySource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSearchDense(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{
		makeChunk("a", 0, "x", []float32{1, 0, 0}),
		makeChunk("b", 0, "y", []float32{0.9, 0.1, 0}),
		makeChunk("c", 0, "z", []float32{0, 0, 1}),
		makeChunk("d", 0, "w", []float32{1, 0, 0}), // ties with a, inserted later
	}))

	results, err := s.SearchDense(ctx, []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a-0", results[0].ChunkID)
	assert.Equal(t, "d-0", results[1].ChunkID)
	assert.Equal(t, "b-0", results[2].ChunkID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, results[1].Similarity, results[2].Similarity)
}

func TestSearchDense_Filter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	hr := makeChunk("hr", 0, "leave", []float32{1, 0})
	hr.Category = "hr"
	eng := makeChunk("eng", 0, "deploy", []float32{1, 0})
	eng.Category = "engineering"
	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{hr, eng}))

	results, err := s.SearchDense(ctx, []float32{1, 0}, 10, &SearchFilter{Category: "hr"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hr-0", results[0].ChunkID)

	results, err = s.SearchDense(ctx, []float32{1, 0}, 10, &SearchFilter{SourceIDs: []string{"eng"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "eng-0", results[0].ChunkID)
}

func TestSearchDense_EmptyAndMismatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	results, err := s.SearchDense(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("a", 0, "x", []float32{1, 0})}))
	_, err = s.SearchDense(ctx, []float32{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	results, err = s.SearchDense(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchLexical(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{
		makeChunk("a", 0, "Expense reports are due monthly.", []float32{1, 0}),
		makeChunk("b", 0, "Expense expense expense policy for travel.", []float32{0, 1}),
		makeChunk("c", 0, "Parental leave lasts sixteen weeks.", []float32{1, 1}),
	}))

	hits, err := s.SearchLexical(ctx, "expense", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b-0", hits[0].ChunkID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.Less(t, h.Score, 1.0)
	}

	// Porter stemming matches inflections
	hits, err = s.SearchLexical(ctx, "lasting", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c-0", hits[0].ChunkID)
}

func TestSearchLexical_HostileInput(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("a", 0, "travel NEAR policy", []float32{1})}))

	for _, q := range []string{`"unbalanced`, `policy AND (`, `NOT`, `*`, `col:value`, `'; DROP TABLE chunks; --`} {
		_, err := s.SearchLexical(ctx, q, 10, nil)
		assert.NoError(t, err, q)
	}

	hits, err := s.SearchLexical(ctx, "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"refund policy", `"refund" OR "policy"`},
		{`a "quoted" AND b*`, `"a" OR "quoted" OR "and" OR "b"`},
		{"Policy policy POLICY", `"policy"`},
		{"größe 2024", `"größe" OR "2024"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ftsQuery(tt.in))
		})
	}
}

func TestSourceRegistry(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.GetSource(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	rec := &types.SourceRecord{
		SourceID:       "doc1",
		Filename:       "handbook.pdf",
		Category:       "hr",
		ModifiedMarker: "2024-05-01T10:00:00Z",
		LastSynced:     now,
		ChunkCount:     4,
		Status:         types.SourceSynced,
	}
	require.NoError(t, s.UpsertSource(ctx, rec))

	got, err := s.GetSource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, rec.ModifiedMarker, got.ModifiedMarker)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, types.SourceSynced, got.Status)
	assert.True(t, now.Equal(got.LastSynced))

	rec.Status = types.SourceError
	rec.LastError = "extract: corrupt pdf"
	require.NoError(t, s.UpsertSource(ctx, rec))
	got, err = s.GetSource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, types.SourceError, got.Status)
	assert.Equal(t, "extract: corrupt pdf", got.LastError)

	require.NoError(t, s.MarkSourceDeleted(ctx, "doc1"))
	got, err = s.GetSource(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, got.Tombstoned())
	assert.Equal(t, 0, got.ChunkCount)

	assert.ErrorIs(t, s.MarkSourceDeleted(ctx, "missing"), ErrNotFound)

	err = s.UpsertSource(ctx, &types.SourceRecord{SourceID: "x", Status: "bogus"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestListSources_Filter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for _, rec := range []*types.SourceRecord{
		{SourceID: "a", Category: "hr", Status: types.SourceSynced},
		{SourceID: "b", Category: "hr", Status: types.SourceError},
		{SourceID: "c", Category: "eng", Status: types.SourceSynced},
	} {
		require.NoError(t, s.UpsertSource(ctx, rec))
	}

	all, err := s.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	synced, err := s.ListSources(ctx, SourceFilter{Status: types.SourceSynced})
	require.NoError(t, err)
	assert.Len(t, synced, 2)

	hr, err := s.ListSources(ctx, SourceFilter{Category: "hr", Status: types.SourceError})
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, "b", hr[0].SourceID)
}

func TestWithTransaction_RollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("doc1", 0, "original", []float32{1, 0})}))
	require.NoError(t, s.UpsertSource(ctx, &types.SourceRecord{SourceID: "doc1", ModifiedMarker: "v1", Status: types.SourceSynced, ChunkCount: 1}))

	boom := errors.New("commit refused")
	err := WithTransaction(ctx, s, func(tx Tx) error {
		if _, err := tx.DeleteChunksBySource(ctx, "doc1"); err != nil {
			return err
		}
		if err := tx.UpsertChunks(ctx, []*types.Chunk{makeChunk("doc1", 0, "replacement", []float32{0, 1})}); err != nil {
			return err
		}
		if err := tx.UpsertSource(ctx, &types.SourceRecord{SourceID: "doc1", ModifiedMarker: "v2", Status: types.SourceSynced, ChunkCount: 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	chunks, err := s.ListChunksBySource(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "original", chunks[0].Content)

	rec, err := s.GetSource(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.ModifiedMarker)

	hits, err := s.SearchLexical(ctx, "replacement", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestWithTransaction_Commits(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	err := WithTransaction(ctx, s, func(tx Tx) error {
		if err := tx.UpsertChunks(ctx, []*types.Chunk{makeChunk("doc1", 0, "hello world", []float32{1, 0})}); err != nil {
			return err
		}
		// Reads inside the transaction see its writes
		hits, err := tx.SearchDense(ctx, []float32{1, 0}, 5, nil)
		if err != nil {
			return err
		}
		if len(hits) != 1 {
			return fmt.Errorf("expected 1 hit, got %d", len(hits))
		}
		return tx.UpsertSource(ctx, &types.SourceRecord{SourceID: "doc1", Status: types.SourceSynced, ChunkCount: 1})
	})
	require.NoError(t, err)

	hits, err := s.SearchLexical(ctx, "world", 5, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEnsureEmbeddingSpace(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureEmbeddingSpace(ctx, "voyage-3", 2))
	require.NoError(t, s.EnsureEmbeddingSpace(ctx, "voyage-3", 2))

	// Empty store accepts a change
	require.NoError(t, s.EnsureEmbeddingSpace(ctx, "voyage-3", 3))

	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{makeChunk("a", 0, "x", []float32{1, 0, 0})}))

	assert.ErrorIs(t, s.EnsureEmbeddingSpace(ctx, "voyage-3", 4), ErrDimensionMismatch)
	assert.ErrorIs(t, s.EnsureEmbeddingSpace(ctx, "jina-embeddings-v3", 3), ErrModelMismatch)
}

func TestStatsAndClear(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureEmbeddingSpace(ctx, "local-hash", 2))
	hr := makeChunk("a", 0, "x", []float32{1, 0})
	hr.Category = "hr"
	require.NoError(t, s.UpsertChunks(ctx, []*types.Chunk{
		hr,
		makeChunk("b", 0, "y", []float32{0, 1}),
		makeChunk("b", 1, "z", []float32{1, 1}),
	}))
	require.NoError(t, s.UpsertSource(ctx, &types.SourceRecord{SourceID: "a", Status: types.SourceSynced}))
	require.NoError(t, s.UpsertSource(ctx, &types.SourceRecord{SourceID: "b", Status: types.SourceSynced}))
	require.NoError(t, s.UpsertSource(ctx, &types.SourceRecord{SourceID: "c", Status: types.SourceError}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.SourcesByStatus[types.SourceSynced])
	assert.Equal(t, 1, stats.SourcesByStatus[types.SourceError])
	assert.Equal(t, 3, stats.TotalSources())
	assert.Equal(t, 1, stats.ChunksByCategory["hr"])
	assert.Equal(t, 2, stats.ChunksByCategory["general"])
	assert.Equal(t, "local-hash", stats.EmbeddingModel)
	assert.Equal(t, 2, stats.EmbeddingDim)
	assert.Equal(t, "sqlite-"+BuildMode, stats.Backend)

	require.NoError(t, s.Clear(ctx))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)
	assert.Equal(t, 0, stats.TotalSources())
	assert.Equal(t, 0, stats.EmbeddingDim)

	hits, err := s.SearchLexical(ctx, "x", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
