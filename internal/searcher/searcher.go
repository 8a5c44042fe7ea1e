package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tharpep/knowledge-base/internal/expander"
	"github.com/tharpep/knowledge-base/internal/reranker"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/pkg/types"
)

const (
	DefaultTopK          = 5
	MaxTopK              = 50
	DefaultCandidatePool = 20
	MaxCandidatePool     = 200
	DefaultSparseWeight  = 1.0

	// RRFConstant is k in score = sum 1/(k + rank)
	RRFConstant = 60
)

// Degradations reported in Response.Degraded
const (
	DegradedLexical   = "lexical"
	DegradedRerank    = "rerank"
	DegradedExpansion = "expansion"
)

// QueryEmbedder embeds search queries
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the read side of the chunk store
type Index interface {
	SearchDense(ctx context.Context, vector []float32, limit int, filter *storage.SearchFilter) ([]storage.DenseResult, error)
	SearchLexical(ctx context.Context, query string, limit int, filter *storage.SearchFilter) ([]storage.LexicalResult, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*types.Chunk, error)
}

// Config holds the retriever's capabilities and defaults
type Config struct {
	Index    Index
	Embedder QueryEmbedder
	Reranker reranker.Reranker // Optional
	Expander expander.Expander // Optional

	TopK          int      // Default 5
	CandidatePool int      // Per-channel bound, default 20
	SparseWeight  *float64 // Lexical weight, default 1.0; 0 disables lexical
	Rerank        bool     // Rerank by default when a reranker is set
	Threshold     *float64 // Default minimum final score
	Logger        *zap.Logger
}

// Request contains parameters for a search operation
type Request struct {
	Query               string
	TopK                int
	Category            string
	SimilarityThreshold *float64
	SparseWeight        *float64
	Rerank              *bool
	ExpandQuery         bool
	CandidatePool       int
}

// Response contains search results and metadata
type Response struct {
	Query             string
	SearchQuery       string // Query sent to the channels; differs when expanded
	Results           []types.SearchResult
	DenseCandidates   int
	LexicalCandidates int
	Reranked          bool
	Degraded          []string
	Duration          time.Duration
}

// Searcher fuses dense and lexical retrieval with optional reranking
type Searcher struct {
	index    Index
	embedder QueryEmbedder
	reranker reranker.Reranker
	expander expander.Expander

	topK         int
	pool         int
	sparseWeight float64
	rerank       bool
	threshold    *float64
	logger       *zap.Logger
}

// New creates a Searcher
func New(cfg Config) (*Searcher, error) {
	if cfg.Index == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("searcher requires an index and a query embedder")
	}

	s := &Searcher{
		index:        cfg.Index,
		embedder:     cfg.Embedder,
		reranker:     cfg.Reranker,
		expander:     cfg.Expander,
		topK:         cfg.TopK,
		pool:         cfg.CandidatePool,
		sparseWeight: DefaultSparseWeight,
		rerank:       cfg.Rerank,
		threshold:    cfg.Threshold,
		logger:       cfg.Logger,
	}
	if s.topK <= 0 {
		s.topK = DefaultTopK
	}
	if s.topK > MaxTopK {
		s.topK = MaxTopK
	}
	if s.pool <= 0 {
		s.pool = DefaultCandidatePool
	}
	if cfg.SparseWeight != nil {
		if *cfg.SparseWeight < 0 {
			return nil, fmt.Errorf("sparse weight must be >= 0, got %v", *cfg.SparseWeight)
		}
		s.sparseWeight = *cfg.SparseWeight
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// resolved is a Request with every default applied
type resolved struct {
	Request
	topK         int
	pool         int
	sparseWeight float64
	rerank       bool
	threshold    *float64
}

func (s *Searcher) resolve(req Request) (resolved, error) {
	r := resolved{Request: req}
	r.Query = strings.TrimSpace(req.Query)
	if r.Query == "" {
		return r, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidRequest)
	}

	switch {
	case req.TopK < 0:
		return r, fmt.Errorf("%w: top_k must be positive", types.ErrInvalidRequest)
	case req.TopK == 0:
		r.topK = s.topK
	case req.TopK > MaxTopK:
		r.topK = MaxTopK
	default:
		r.topK = req.TopK
	}

	switch {
	case req.CandidatePool < 0:
		return r, fmt.Errorf("%w: candidate pool must be positive", types.ErrInvalidRequest)
	case req.CandidatePool == 0:
		r.pool = s.pool
	case req.CandidatePool > MaxCandidatePool:
		r.pool = MaxCandidatePool
	default:
		r.pool = req.CandidatePool
	}
	if r.pool < r.topK {
		r.pool = r.topK
	}

	r.sparseWeight = s.sparseWeight
	if req.SparseWeight != nil {
		if *req.SparseWeight < 0 {
			return r, fmt.Errorf("%w: sparse weight must be >= 0", types.ErrInvalidRequest)
		}
		r.sparseWeight = *req.SparseWeight
	}

	r.rerank = s.rerank
	if req.Rerank != nil {
		r.rerank = *req.Rerank
	}

	r.threshold = s.threshold
	if req.SimilarityThreshold != nil {
		r.threshold = req.SimilarityThreshold
	}
	r.Category = strings.ToLower(strings.TrimSpace(req.Category))
	return r, nil
}

// Search runs the hybrid retrieval pipeline for one query
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	resp := &Response{Query: r.Query, SearchQuery: r.Query}
	if r.ExpandQuery {
		resp.SearchQuery = s.expand(ctx, r.Query, resp)
	}

	var filter *storage.SearchFilter
	if r.Category != "" {
		filter = &storage.SearchFilter{Category: r.Category}
	}

	var (
		dense   []storage.DenseResult
		lexical []storage.LexicalResult
		lexErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := s.embedder.EmbedQuery(gctx, resp.SearchQuery)
		if err != nil {
			if !errors.Is(err, types.ErrEmbeddingUnavailable) {
				err = fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
			}
			return err
		}
		dense, err = s.index.SearchDense(gctx, vector, r.pool, filter)
		if err != nil {
			return fmt.Errorf("dense search failed: %w", err)
		}
		return nil
	})
	if r.sparseWeight > 0 {
		g.Go(func() error {
			lexical, lexErr = s.index.SearchLexical(gctx, resp.SearchQuery, r.pool, filter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if lexErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("lexical search failed, using dense results only", zap.Error(lexErr))
		lexical = nil
		resp.Degraded = append(resp.Degraded, DegradedLexical)
	}
	resp.DenseCandidates = len(dense)
	resp.LexicalCandidates = len(lexical)

	fused := fuse(dense, lexical, r.sparseWeight)
	if len(fused) > r.pool {
		fused = fused[:r.pool]
	}

	hits, err := s.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	if r.rerank && s.reranker != nil && len(hits) > 0 {
		scored, err := s.rerankHits(ctx, r.Query, hits)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("rerank failed, keeping fusion order",
				zap.String("reranker", s.reranker.Name()), zap.Error(err))
			resp.Degraded = append(resp.Degraded, DegradedRerank)
		case scored == 0:
			s.logger.Warn("reranker scored no candidates, keeping fusion order",
				zap.String("reranker", s.reranker.Name()), zap.Int("candidates", len(hits)))
			resp.Degraded = append(resp.Degraded, DegradedRerank)
		default:
			resp.Reranked = true
		}
	}

	results := make([]types.SearchResult, 0, r.topK)
	for _, h := range hits {
		if len(results) == r.topK {
			break
		}
		if r.threshold != nil && h.score() < *r.threshold {
			continue
		}
		results = append(results, h.result(len(results)+1))
	}
	resp.Results = results
	resp.Duration = time.Since(start)

	s.logger.Debug("search complete",
		zap.String("query", r.Query),
		zap.Int("dense", resp.DenseCandidates),
		zap.Int("lexical", resp.LexicalCandidates),
		zap.Int("results", len(results)),
		zap.Bool("reranked", resp.Reranked),
		zap.Duration("duration", resp.Duration))

	return resp, nil
}

// expand rewrites query, falling back to the original on any failure
func (s *Searcher) expand(ctx context.Context, query string, resp *Response) string {
	if s.expander == nil {
		s.logger.Warn("query expansion requested but no expander is configured")
		resp.Degraded = append(resp.Degraded, DegradedExpansion)
		return query
	}
	expanded, err := s.expander.Expand(ctx, query)
	expanded = strings.TrimSpace(expanded)
	if err != nil || expanded == "" {
		s.logger.Warn("query expansion failed, using original query", zap.Error(err))
		resp.Degraded = append(resp.Degraded, DegradedExpansion)
		return query
	}
	return expanded
}

// candidate is one chunk in the fused list
type candidate struct {
	chunkID     string
	fused       float64
	denseRank   int
	lexicalRank int
}

// fuse combines both channels with Reciprocal Rank Fusion. Candidates are
// first laid out in dense order followed by lexical-only items, then stably
// sorted by fused score, so equal scores keep that order.
func fuse(dense []storage.DenseResult, lexical []storage.LexicalResult, sparseWeight float64) []*candidate {
	byID := make(map[string]*candidate, len(dense)+len(lexical))
	order := make([]*candidate, 0, len(dense)+len(lexical))

	get := func(id string) *candidate {
		c, ok := byID[id]
		if !ok {
			c = &candidate{chunkID: id}
			byID[id] = c
			order = append(order, c)
		}
		return c
	}

	for i, d := range dense {
		c := get(d.ChunkID)
		if c.denseRank != 0 {
			continue
		}
		c.denseRank = i + 1
		c.fused += 1.0 / float64(RRFConstant+c.denseRank)
	}
	for i, l := range lexical {
		c := get(l.ChunkID)
		if c.lexicalRank != 0 {
			continue
		}
		c.lexicalRank = i + 1
		c.fused += sparseWeight / float64(RRFConstant+c.lexicalRank)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].fused > order[j].fused
	})
	return order
}

// hit is a hydrated candidate
type hit struct {
	*candidate
	chunk       *types.Chunk
	rerankScore float64
	reranked    bool
}

func (h *hit) score() float64 {
	if h.reranked {
		return h.rerankScore
	}
	return h.fused
}

func (h *hit) result(rank int) types.SearchResult {
	channels := make([]types.Channel, 0, 2)
	if h.denseRank > 0 {
		channels = append(channels, types.ChannelDense)
	}
	if h.lexicalRank > 0 {
		channels = append(channels, types.ChannelLexical)
	}
	return types.SearchResult{
		ChunkID:     h.chunkID,
		Rank:        rank,
		Score:       h.score(),
		FusedScore:  h.fused,
		RerankScore: h.rerankScore,
		Reranked:    h.reranked,
		Channels:    channels,
		DenseRank:   h.denseRank,
		LexicalRank: h.lexicalRank,
		Text:        h.chunk.Content,
		SourceID:    h.chunk.SourceID,
		Filename:    h.chunk.Filename,
		Category:    h.chunk.Category,
		ChunkIndex:  h.chunk.ChunkIndex,
		Metadata:    h.chunk.Metadata,
	}
}

// hydrate loads chunk bodies in fused order. Chunks deleted since retrieval
// are skipped.
func (s *Searcher) hydrate(ctx context.Context, fused []*candidate) ([]*hit, error) {
	if len(fused) == 0 {
		return []*hit{}, nil
	}
	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.chunkID
	}
	chunks, err := s.index.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	hits := make([]*hit, 0, len(fused))
	for _, c := range fused {
		chunk, ok := chunks[c.chunkID]
		if !ok {
			continue
		}
		hits = append(hits, &hit{candidate: c, chunk: chunk})
	}
	return hits, nil
}

// rerankHits scores hits against the original query, reorders them in
// place and returns how many were scored. Hits the reranker did not score
// keep fusion order after the scored ones.
func (s *Searcher) rerankHits(ctx context.Context, query string, hits []*hit) (int, error) {
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.chunk.Content
	}

	scored, err := s.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		return 0, err
	}
	if len(scored) == 0 {
		return 0, nil
	}
	for _, r := range scored {
		if r.Index < 0 || r.Index >= len(hits) {
			return 0, fmt.Errorf("%w: index %d out of range", types.ErrRerankUnavailable, r.Index)
		}
	}
	for _, r := range scored {
		hits[r.Index].rerankScore = r.Score
		hits[r.Index].reranked = true
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.reranked != b.reranked {
			return a.reranked
		}
		return a.reranked && a.rerankScore > b.rerankScore
	})
	return len(scored), nil
}
