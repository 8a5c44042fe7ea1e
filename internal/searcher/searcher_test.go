package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharpep/knowledge-base/internal/reranker"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// mockIndex serves fixed channel results and records calls
type mockIndex struct {
	mu           sync.Mutex
	dense        []storage.DenseResult
	lexical      []storage.LexicalResult
	chunks       map[string]*types.Chunk
	lexicalErr   error
	denseCalls   int
	lexicalCalls int
	lastLimit    int
	lastFilter   *storage.SearchFilter
	lastLexQuery string
}

func (m *mockIndex) SearchDense(ctx context.Context, vector []float32, limit int, filter *storage.SearchFilter) ([]storage.DenseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denseCalls++
	m.lastLimit = limit
	m.lastFilter = filter
	if len(m.dense) > limit {
		return m.dense[:limit], nil
	}
	return m.dense, nil
}

func (m *mockIndex) SearchLexical(ctx context.Context, query string, limit int, filter *storage.SearchFilter) ([]storage.LexicalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lexicalCalls++
	m.lastLexQuery = query
	if m.lexicalErr != nil {
		return nil, m.lexicalErr
	}
	if len(m.lexical) > limit {
		return m.lexical[:limit], nil
	}
	return m.lexical, nil
}

func (m *mockIndex) GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error) {
	out := make(map[string]*types.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type mockEmbedder struct {
	mu      sync.Mutex
	err     error
	queries []string
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, text)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{1, 0, 0}, nil
}

type mockReranker struct {
	scores []float64 // by document index
	err    error
	query  string
	docs   []string
	calls  int
}

func (m *mockReranker) Name() string { return "mock" }

func (m *mockReranker) Rerank(ctx context.Context, query string, docs []string, topK int) ([]reranker.Result, error) {
	m.calls++
	m.query = query
	m.docs = docs
	if m.err != nil {
		return nil, m.err
	}
	out := make([]reranker.Result, 0, len(docs))
	for i := range docs {
		if i < len(m.scores) {
			out = append(out, reranker.Result{Index: i, Score: m.scores[i]})
		}
	}
	return out, nil
}

type mockExpander struct {
	out string
	err error
}

func (m *mockExpander) Expand(ctx context.Context, query string) (string, error) {
	return m.out, m.err
}

// corpusIndex builds an index with chunks c1..cN
func corpusIndex(n int) *mockIndex {
	idx := &mockIndex{chunks: make(map[string]*types.Chunk)}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("c%d", i)
		idx.chunks[id] = &types.Chunk{
			ID:         id,
			SourceID:   "src-" + id,
			Content:    "text of " + id,
			Filename:   id + ".md",
			Category:   "general",
			ChunkIndex: i - 1,
		}
	}
	return idx
}

func denseOf(ids ...string) []storage.DenseResult {
	out := make([]storage.DenseResult, len(ids))
	for i, id := range ids {
		out[i] = storage.DenseResult{ChunkID: id, Similarity: 1 - float64(i)*0.1}
	}
	return out
}

func lexicalOf(ids ...string) []storage.LexicalResult {
	out := make([]storage.LexicalResult, len(ids))
	for i, id := range ids {
		out[i] = storage.LexicalResult{ChunkID: id, Score: 1 / float64(i+2)}
	}
	return out
}

func chunkIDs(results []types.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func newSearcher(t *testing.T, cfg Config) *Searcher {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func f64(v float64) *float64 { return &v }
func boolPtr(v bool) *bool   { return &v }

func TestNewRequiresIndexAndEmbedder(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Index: &mockIndex{}, Embedder: &mockEmbedder{}, SparseWeight: f64(-1)})
	assert.Error(t, err)
}

func TestFuse(t *testing.T) {
	t.Run("plain rrf", func(t *testing.T) {
		fused := fuse(denseOf("a", "b", "c"), lexicalOf("c", "d"), 1)
		require.Len(t, fused, 4)

		byID := map[string]*candidate{}
		for _, c := range fused {
			byID[c.chunkID] = c
		}
		assert.InDelta(t, 1.0/63+1.0/61, byID["c"].fused, 1e-12)
		assert.InDelta(t, 1.0/61, byID["a"].fused, 1e-12)
		assert.InDelta(t, 1.0/62, byID["d"].fused, 1e-12)
		assert.Equal(t, 3, byID["c"].denseRank)
		assert.Equal(t, 1, byID["c"].lexicalRank)

		assert.Equal(t, "c", fused[0].chunkID)
		assert.Equal(t, "a", fused[1].chunkID)
	})

	t.Run("ties keep dense then lexical order", func(t *testing.T) {
		fused := fuse(denseOf("a", "b"), lexicalOf("x", "y"), 1)
		ids := make([]string, len(fused))
		for i, c := range fused {
			ids[i] = c.chunkID
		}
		// a and x tie at 1/61, b and y at 1/62
		assert.Equal(t, []string{"a", "x", "b", "y"}, ids)
	})

	t.Run("sparse weight scales lexical term", func(t *testing.T) {
		fused := fuse(denseOf("a"), lexicalOf("b"), 0.5)
		require.Len(t, fused, 2)
		assert.Equal(t, "a", fused[0].chunkID)
		assert.InDelta(t, 0.5/61, fused[1].fused, 1e-12)
	})

	t.Run("duplicates within a channel count once", func(t *testing.T) {
		fused := fuse(denseOf("a", "a"), nil, 1)
		require.Len(t, fused, 1)
		assert.InDelta(t, 1.0/61, fused[0].fused, 1e-12)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, fuse(nil, nil, 1))
	})
}

func TestFusionIsDeterministic(t *testing.T) {
	idx := corpusIndex(10)
	idx.dense = denseOf("c1", "c2", "c3", "c4", "c5", "c6")
	idx.lexical = lexicalOf("c7", "c8", "c3", "c9", "c10", "c1")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	first, err := s.Search(context.Background(), Request{Query: "q", TopK: 10})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Search(context.Background(), Request{Query: "q", TopK: 10})
		require.NoError(t, err)
		assert.Equal(t, chunkIDs(first.Results), chunkIDs(again.Results))
	}
	assert.Equal(t, []string{"c3", "c1", "c7", "c2", "c8", "c4", "c9", "c5", "c10", "c6"}, chunkIDs(first.Results))
}

func TestSearchResultProvenance(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "c2")
	idx.lexical = lexicalOf("c2", "c3")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	top := resp.Results[0]
	assert.Equal(t, "c2", top.ChunkID)
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, []types.Channel{types.ChannelDense, types.ChannelLexical}, top.Channels)
	assert.Equal(t, 2, top.DenseRank)
	assert.Equal(t, 1, top.LexicalRank)
	assert.Equal(t, top.FusedScore, top.Score)
	assert.False(t, top.Reranked)
	assert.Equal(t, "text of c2", top.Text)
	assert.Equal(t, "src-c2", top.SourceID)
	assert.Equal(t, "c2.md", top.Filename)
	assert.NoError(t, top.Validate())

	last := resp.Results[2]
	assert.True(t, last.HasChannel(types.ChannelLexical))
	assert.False(t, last.HasChannel(types.ChannelDense))
	assert.Equal(t, 3, last.Rank)

	assert.Equal(t, 2, resp.DenseCandidates)
	assert.Equal(t, 2, resp.LexicalCandidates)
}

func TestSparseWeightZeroSkipsLexical(t *testing.T) {
	idx := corpusIndex(4)
	idx.dense = denseOf("c1", "c2")
	idx.lexical = lexicalOf("c3", "c4")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)

	assert.Equal(t, 0, idx.lexicalCalls)
	assert.Equal(t, 1, idx.denseCalls)
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(resp.Results))
	for _, r := range resp.Results {
		assert.Equal(t, []types.Channel{types.ChannelDense}, r.Channels)
	}
}

func TestSparseWeightZeroFromConfig(t *testing.T) {
	idx := corpusIndex(2)
	idx.dense = denseOf("c1")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, SparseWeight: f64(0)})

	_, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.lexicalCalls)

	_, err = s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.lexicalCalls)
}

func TestRerankReordersResults(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "c2", "c3")
	rr := &mockReranker{scores: []float64{0.1, 0.9, 0.5}}
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "  refund policy ", SparseWeight: f64(0)})
	require.NoError(t, err)

	assert.True(t, resp.Reranked)
	assert.Equal(t, "refund policy", rr.query)
	assert.Equal(t, []string{"text of c1", "text of c2", "text of c3"}, rr.docs)
	assert.Equal(t, []string{"c2", "c3", "c1"}, chunkIDs(resp.Results))

	top := resp.Results[0]
	assert.True(t, top.Reranked)
	assert.Equal(t, 0.9, top.Score)
	assert.Equal(t, 0.9, top.RerankScore)
	assert.InDelta(t, 1.0/62, top.FusedScore, 1e-12)
	assert.Equal(t, 1, top.Rank)
}

func TestRerankTiesKeepFusionOrder(t *testing.T) {
	idx := corpusIndex(4)
	idx.dense = denseOf("c1", "c2", "c3", "c4")
	rr := &mockReranker{scores: []float64{0.5, 0.7, 0.5, 0.7}}
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c4", "c1", "c3"}, chunkIDs(resp.Results))
}

func TestRerankFailureFallsBackToFusion(t *testing.T) {
	idx := corpusIndex(4)
	idx.dense = denseOf("c1", "c2", "c3")
	idx.lexical = lexicalOf("c3", "c4")
	rr := &mockReranker{err: fmt.Errorf("%w: 503", types.ErrRerankUnavailable)}

	withRerank := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})
	without := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	got, err := withRerank.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	want, err := without.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, 1, rr.calls)
	assert.False(t, got.Reranked)
	assert.Contains(t, got.Degraded, DegradedRerank)
	assert.Equal(t, chunkIDs(want.Results), chunkIDs(got.Results))
	for i := range got.Results {
		assert.Equal(t, want.Results[i].Score, got.Results[i].Score)
		assert.False(t, got.Results[i].Reranked)
	}
}

func TestRerankOutOfRangeIndexFallsBack(t *testing.T) {
	idx := corpusIndex(2)
	idx.dense = denseOf("c1", "c2")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: &badIndexReranker{}, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)
	assert.False(t, resp.Reranked)
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(resp.Results))
}

func TestRerankEmptyResultKeepsFusionOrder(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "c2", "c3")
	rr := &mockReranker{}
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)

	assert.Equal(t, 1, rr.calls)
	assert.False(t, resp.Reranked)
	assert.Contains(t, resp.Degraded, DegradedRerank)
	assert.Equal(t, []string{"c1", "c2", "c3"}, chunkIDs(resp.Results))
	for _, r := range resp.Results {
		assert.False(t, r.Reranked)
		assert.Equal(t, r.FusedScore, r.Score)
	}
}

func TestRerankPartialResultStillReranks(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "c2", "c3")
	rr := &mockReranker{scores: []float64{0.2}}
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)

	assert.True(t, resp.Reranked)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, []string{"c1", "c2", "c3"}, chunkIDs(resp.Results))
	assert.True(t, resp.Results[0].Reranked)
	assert.False(t, resp.Results[1].Reranked)
}

type badIndexReranker struct{}

func (badIndexReranker) Name() string { return "bad" }

func (badIndexReranker) Rerank(ctx context.Context, query string, docs []string, topK int) ([]reranker.Result, error) {
	return []reranker.Result{{Index: 0, Score: 1}, {Index: 7, Score: 2}}, nil
}

func TestRerankDisabledPerRequest(t *testing.T) {
	idx := corpusIndex(2)
	idx.dense = denseOf("c1", "c2")
	rr := &mockReranker{scores: []float64{0.1, 0.9}}
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})

	resp, err := s.Search(context.Background(), Request{Query: "q", Rerank: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, 0, rr.calls)
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(resp.Results))
}

func TestThresholdFilter(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "c2", "c3")

	t.Run("fused score", func(t *testing.T) {
		s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})
		resp, err := s.Search(context.Background(), Request{
			Query:               "q",
			SparseWeight:        f64(0),
			SimilarityThreshold: f64(1.0 / 62),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2"}, chunkIDs(resp.Results))
		for _, r := range resp.Results {
			assert.GreaterOrEqual(t, r.Score, 1.0/62)
		}
	})

	t.Run("rerank score", func(t *testing.T) {
		rr := &mockReranker{scores: []float64{0.2, 0.8, 0.6}}
		s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Reranker: rr, Rerank: true})
		resp, err := s.Search(context.Background(), Request{
			Query:               "q",
			SparseWeight:        f64(0),
			SimilarityThreshold: f64(0.5),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2", "c3"}, chunkIDs(resp.Results))
		assert.Equal(t, []int{1, 2}, []int{resp.Results[0].Rank, resp.Results[1].Rank})
	})

	t.Run("config default", func(t *testing.T) {
		s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}, Threshold: f64(1.0 / 61)})
		resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, chunkIDs(resp.Results))
	})
}

func TestTopKAndPool(t *testing.T) {
	idx := corpusIndex(30)
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i+1)
	}
	idx.dense = denseOf(ids...)
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultTopK)
	assert.Equal(t, DefaultCandidatePool, idx.lastLimit)

	resp, err = s.Search(context.Background(), Request{Query: "q", TopK: 25})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 25)
	assert.Equal(t, 25, idx.lastLimit, "pool grows to cover top_k")

	_, err = s.Search(context.Background(), Request{Query: "q", TopK: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxTopK, idx.lastLimit)

	_, err = s.Search(context.Background(), Request{Query: "q", CandidatePool: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, idx.lastLimit)
}

func TestCategoryFilterPassedToChannels(t *testing.T) {
	idx := corpusIndex(1)
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	_, err := s.Search(context.Background(), Request{Query: "q", Category: " Projects "})
	require.NoError(t, err)
	require.NotNil(t, idx.lastFilter)
	assert.Equal(t, "projects", idx.lastFilter.Category)

	_, err = s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Nil(t, idx.lastFilter)
}

func TestEmptyChannelsReturnEmptyResults(t *testing.T) {
	s := newSearcher(t, Config{Index: corpusIndex(0), Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "nothing matches"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestHydrationSkipsDeletedChunks(t *testing.T) {
	idx := corpusIndex(3)
	idx.dense = denseOf("c1", "gone", "c3")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "q", SparseWeight: f64(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c3"}, chunkIDs(resp.Results))
	assert.Equal(t, 2, resp.Results[1].Rank)
}

func TestEmbeddingFailureFailsQuery(t *testing.T) {
	idx := corpusIndex(1)
	idx.lexical = lexicalOf("c1")

	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{err: errors.New("timeout")}})
	_, err := s.Search(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
}

func TestLexicalFailureDegradesToDense(t *testing.T) {
	idx := corpusIndex(2)
	idx.dense = denseOf("c1")
	idx.lexical = lexicalOf("c2")
	idx.lexicalErr = errors.New("fts5: syntax error")
	s := newSearcher(t, Config{Index: idx, Embedder: &mockEmbedder{}})

	resp, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, chunkIDs(resp.Results))
	assert.Contains(t, resp.Degraded, DegradedLexical)
}

func TestInvalidRequests(t *testing.T) {
	s := newSearcher(t, Config{Index: corpusIndex(0), Embedder: &mockEmbedder{}})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{Query: "   "}},
		{"negative top_k", Request{Query: "q", TopK: -1}},
		{"negative pool", Request{Query: "q", CandidatePool: -3}},
		{"negative sparse weight", Request{Query: "q", SparseWeight: f64(-0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, types.ErrInvalidRequest)
		})
	}
}

func TestQueryExpansion(t *testing.T) {
	t.Run("expanded query drives both channels", func(t *testing.T) {
		idx := corpusIndex(1)
		emb := &mockEmbedder{}
		s := newSearcher(t, Config{Index: idx, Embedder: emb, Expander: &mockExpander{out: "refund return window policy"}})

		resp, err := s.Search(context.Background(), Request{Query: "refunds?", ExpandQuery: true})
		require.NoError(t, err)
		assert.Equal(t, "refunds?", resp.Query)
		assert.Equal(t, "refund return window policy", resp.SearchQuery)
		assert.Equal(t, []string{"refund return window policy"}, emb.queries)
		assert.Equal(t, "refund return window policy", idx.lastLexQuery)
	})

	t.Run("failure keeps original query", func(t *testing.T) {
		idx := corpusIndex(1)
		emb := &mockEmbedder{}
		s := newSearcher(t, Config{Index: idx, Embedder: emb, Expander: &mockExpander{err: types.ErrExpansionUnavailable}})

		resp, err := s.Search(context.Background(), Request{Query: "refunds?", ExpandQuery: true})
		require.NoError(t, err)
		assert.Equal(t, "refunds?", resp.SearchQuery)
		assert.Equal(t, []string{"refunds?"}, emb.queries)
		assert.Contains(t, resp.Degraded, DegradedExpansion)
	})

	t.Run("blank output keeps original query", func(t *testing.T) {
		s := newSearcher(t, Config{Index: corpusIndex(1), Embedder: &mockEmbedder{}, Expander: &mockExpander{out: "  "}})
		resp, err := s.Search(context.Background(), Request{Query: "refunds?", ExpandQuery: true})
		require.NoError(t, err)
		assert.Equal(t, "refunds?", resp.SearchQuery)
	})

	t.Run("no expander configured", func(t *testing.T) {
		s := newSearcher(t, Config{Index: corpusIndex(1), Embedder: &mockEmbedder{}})
		resp, err := s.Search(context.Background(), Request{Query: "refunds?", ExpandQuery: true})
		require.NoError(t, err)
		assert.Equal(t, "refunds?", resp.SearchQuery)
		assert.Contains(t, resp.Degraded, DegradedExpansion)
	})

	t.Run("not requested", func(t *testing.T) {
		emb := &mockEmbedder{}
		s := newSearcher(t, Config{Index: corpusIndex(1), Embedder: emb, Expander: &mockExpander{out: "other"}})
		_, err := s.Search(context.Background(), Request{Query: "refunds?"})
		require.NoError(t, err)
		assert.Equal(t, []string{"refunds?"}, emb.queries)
	})
}
