package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/pkg/types"
)

func newMockStore(t *testing.T, dim int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, dim, nil), mock
}

func TestVectorLiteral(t *testing.T) {
	v := []float32{1, 0.5, -0.25, 0}
	lit := vectorLiteral(v)
	assert.Equal(t, "[1,0.5,-0.25,0]", lit)

	back, err := parseVector(lit)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	empty, err := parseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseVector("[1,x]")
	assert.Error(t, err)
}

func TestTSQuery(t *testing.T) {
	assert.Equal(t, "refund | policy", tsQuery("Refund policy? refund!"))
	assert.Equal(t, "", tsQuery("  ?! "))
	assert.Equal(t, "o | reilly", tsQuery("O'Reilly"))
}

func TestSearchDense(t *testing.T) {
	s, mock := newMockStore(t, 2)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, 1 - (embedding <=> $1::vector) AS similarity FROM kb_chunks WHERE TRUE AND category = $2`) +
		`.*` + regexp.QuoteMeta(`ORDER BY embedding <=> $1::vector, seq LIMIT $3`)).
		WithArgs("[1,0]", "general", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "similarity"}).
			AddRow("c1", 0.9).
			AddRow("c2", 0.4))

	got, err := s.SearchDense(ctx, []float32{1, 0}, 5, &storage.SearchFilter{Category: "general"})
	require.NoError(t, err)
	assert.Equal(t, []storage.DenseResult{{ChunkID: "c1", Similarity: 0.9}, {ChunkID: "c2", Similarity: 0.4}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchDenseDimensionMismatch(t *testing.T) {
	s, mock := newMockStore(t, 3)

	_, err := s.SearchDense(context.Background(), []float32{1, 0}, 5, nil)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchLexical(t *testing.T) {
	s, mock := newMockStore(t, 2)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`ts_rank_cd(fts, to_tsquery('english', $1))`) +
		`.*` + regexp.QuoteMeta(`AND source_id IN ($2,$3) ORDER BY rank DESC, seq LIMIT $4`)).
		WithArgs("refund | window", "a", "b", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rank"}).
			AddRow("c1", 1.0).
			AddRow("c2", 0.25))

	got, err := s.SearchLexical(ctx, "refund window", 10, &storage.SearchFilter{SourceIDs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ChunkID)
	assert.InDelta(t, 0.5, got[0].Score, 1e-9)
	assert.InDelta(t, 0.2, got[1].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchLexicalNoTerms(t *testing.T) {
	s, mock := newMockStore(t, 2)

	got, err := s.SearchLexical(context.Background(), "?!", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunksCommits(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kb_chunks`)).
		WithArgs("c1", "hello", "[0.5,0.25]", "src", "a.md", "general", 0, "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.UpsertChunks(context.Background(), []*types.Chunk{{
		ID: "c1", SourceID: "src", Content: "hello", Embedding: []float32{0.5, 0.25},
		Filename: "a.md", Category: "general",
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunksRollsBack(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kb_chunks`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.UpsertChunks(context.Background(), []*types.Chunk{{
		ID: "c1", SourceID: "src", Content: "hello", Embedding: []float32{0.5, 0.25},
	}})
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunksWrongDimension(t *testing.T) {
	s, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.UpsertChunks(context.Background(), []*types.Chunk{{
		ID: "c1", SourceID: "src", Content: "hello", Embedding: []float32{0.5, 0.25},
	}})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceNotFound(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM kb_sources WHERE source_id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}))

	_, err := s.GetSource(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSourcesFiltered(t *testing.T) {
	s, mock := newMockStore(t, 2)

	cols := []string{"source_id", "filename", "category", "modified_marker", "last_synced", "chunk_count", "status", "last_error"}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE TRUE AND status = $1 ORDER BY source_id`)).
		WithArgs("error").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s1", "a.pdf", "general", "", nil, 0, "error", "extract: bad pdf"))

	got, err := s.ListSources(context.Background(), storage.SourceFilter{Status: types.SourceError})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.SourceError, got[0].Status)
	assert.Equal(t, "extract: bad pdf", got[0].LastError)
	assert.True(t, got[0].LastSynced.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSourceDeletedNotFound(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE kb_sources SET status = $1`)).
		WithArgs("deleted", sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkSourceDeleted(context.Background(), "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSourceRejectsUnknownStatus(t *testing.T) {
	s, mock := newMockStore(t, 2)

	err := s.UpsertSource(context.Background(), &types.SourceRecord{SourceID: "s1", Status: "pending"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureEmbeddingSpace(t *testing.T) {
	t.Run("schema dimension differs", func(t *testing.T) {
		s, _ := newMockStore(t, 1024)
		err := s.EnsureEmbeddingSpace(context.Background(), "voyage-3", 384)
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	})

	t.Run("model change with data", func(t *testing.T) {
		s, mock := newMockStore(t, 2)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kb_meta`)).
			WithArgs(storage.MetaEmbeddingModel).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("voyage-3"))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM kb_chunks`)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		err := s.EnsureEmbeddingSpace(context.Background(), "jina-embeddings-v3", 2)
		assert.ErrorIs(t, err, storage.ErrModelMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first use records model", func(t *testing.T) {
		s, mock := newMockStore(t, 2)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kb_meta`)).
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kb_meta`)).
			WithArgs(storage.MetaEmbeddingModel, "voyage-3", storage.MetaEmbeddingDimension, "2").
			WillReturnResult(sqlmock.NewResult(0, 2))

		require.NoError(t, s.EnsureEmbeddingSpace(context.Background(), "voyage-3", 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
