package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Service defines the knowledge base operations served over HTTP
type Service interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	Sync(ctx context.Context, opts syncer.Options) (*types.SyncSummary, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Clear(ctx context.Context, confirm bool) error
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error)
}

// SearchRequest is the body of POST /v1/kb/search
type SearchRequest struct {
	Query               string   `json:"query" validate:"required"`
	TopK                int      `json:"top_k,omitempty" validate:"gte=0,lte=50"`
	Category            string   `json:"category,omitempty" validate:"max=128"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty" validate:"omitempty,gte=0"`
	SparseWeight        *float64 `json:"sparse_weight,omitempty" validate:"omitempty,gte=0"`
	Rerank              *bool    `json:"rerank,omitempty"`
	ExpandQuery         bool     `json:"expand_query,omitempty"`
	CandidatePool       int      `json:"candidate_pool,omitempty" validate:"gte=0,lte=200"`
}

// SyncRequest is the optional body of POST /v1/kb/sync
type SyncRequest struct {
	Force      bool     `json:"force"`
	Categories []string `json:"categories,omitempty" validate:"omitempty,dive,required,max=128"`
}

// SearchResultResponse is one cited passage
type SearchResultResponse struct {
	Rank        int               `json:"rank"`
	ChunkID     string            `json:"chunk_id"`
	Score       float64           `json:"score"`
	FusedScore  float64           `json:"fused_score"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
	Channels    []types.Channel   `json:"channels"`
	DenseRank   int               `json:"dense_rank,omitempty"`
	LexicalRank int               `json:"lexical_rank,omitempty"`
	Text        string            `json:"text"`
	SourceID    string            `json:"source_id"`
	Filename    string            `json:"filename"`
	Category    string            `json:"category"`
	ChunkIndex  int               `json:"chunk_index"`
	Section     string            `json:"section,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SearchResponse is returned by POST /v1/kb/search
type SearchResponse struct {
	Query       string                 `json:"query"`
	SearchQuery string                 `json:"search_query,omitempty"`
	Results     []SearchResultResponse `json:"results"`
	Reranked    bool                   `json:"reranked"`
	Degraded    []string               `json:"degraded,omitempty"`
	DurationMS  int64                  `json:"duration_ms"`
}

// StatsResponse is returned by GET /v1/kb/stats
type StatsResponse struct {
	*types.Stats
	TotalSources int `json:"total_sources"`
}

// SourceResponse represents a source record in API responses
type SourceResponse struct {
	SourceID       string             `json:"source_id"`
	Filename       string             `json:"filename"`
	Category       string             `json:"category"`
	ModifiedMarker string             `json:"modified_marker"`
	Status         types.SourceStatus `json:"status"`
	ChunkCount     int                `json:"chunk_count"`
	LastSynced     string             `json:"last_synced,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
}

// Handler serves the knowledge base HTTP API
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = WriteOK(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSearch handles POST /v1/kb/search
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		_ = WriteBadRequest(w, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	resp, err := h.svc.Search(r.Context(), searcher.Request{
		Query:               req.Query,
		TopK:                req.TopK,
		Category:            req.Category,
		SimilarityThreshold: req.SimilarityThreshold,
		SparseWeight:        req.SparseWeight,
		Rerank:              req.Rerank,
		ExpandQuery:         req.ExpandQuery,
		CandidatePool:       req.CandidatePool,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	out := SearchResponse{
		Query:      resp.Query,
		Results:    make([]SearchResultResponse, 0, len(resp.Results)),
		Reranked:   resp.Reranked,
		Degraded:   resp.Degraded,
		DurationMS: resp.Duration.Milliseconds(),
	}
	if resp.SearchQuery != resp.Query {
		out.SearchQuery = resp.SearchQuery
	}
	for _, res := range resp.Results {
		item := SearchResultResponse{
			Rank:        res.Rank,
			ChunkID:     res.ChunkID,
			Score:       res.Score,
			FusedScore:  res.FusedScore,
			Channels:    res.Channels,
			DenseRank:   res.DenseRank,
			LexicalRank: res.LexicalRank,
			Text:        res.Text,
			SourceID:    res.SourceID,
			Filename:    res.Filename,
			Category:    res.Category,
			ChunkIndex:  res.ChunkIndex,
			Section:     res.Metadata[types.MetaSection],
			Metadata:    res.Metadata,
		}
		if res.Reranked {
			score := res.RerankScore
			item.RerankScore = &score
		}
		out.Results = append(out.Results, item)
	}

	h.logger.Debug("search served",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("results", len(out.Results)),
		zap.Int64("duration_ms", out.DurationMS))
	_ = WriteOK(w, out)
}

// HandleSync handles POST /v1/kb/sync
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		_ = WriteBadRequest(w, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := ValidateStruct(&req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("sync requested",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Bool("force", req.Force),
		zap.Strings("categories", req.Categories))

	summary, err := h.svc.Sync(r.Context(), syncer.Options{Force: req.Force, Categories: req.Categories})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = WriteOK(w, summary)
}

// HandleStats handles GET /v1/kb/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = WriteOK(w, StatsResponse{Stats: stats, TotalSources: stats.TotalSources()})
}

// HandleClear handles DELETE /v1/kb?confirm=true
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if !confirm {
		_ = WriteBadRequest(w, "Clearing the knowledge base requires confirm=true", map[string]interface{}{
			"param": "confirm",
		})
		return
	}

	if err := h.svc.Clear(r.Context(), true); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("knowledge base cleared", zap.String("request_id", middleware.GetReqID(r.Context())))
	_ = WriteJSON(w, http.StatusOK, SuccessResponse{Message: "Knowledge base cleared"})
}

// HandleDeleteSource handles DELETE /v1/kb/sources/{id}. Ids may contain
// slashes, so the route captures the rest of the path.
func (h *Handler) HandleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.TrimSpace(sourceID) == "" {
		_ = WriteBadRequest(w, "Invalid source id", nil)
		return
	}

	n, err := h.svc.DeleteSource(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = WriteNotFound(w, "Source not found")
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = WriteOK(w, map[string]interface{}{
		"source_id":      sourceID,
		"chunks_deleted": n,
	})
}

// HandleListSources handles GET /v1/kb/sources?status=&category=
func (h *Handler) HandleListSources(w http.ResponseWriter, r *http.Request) {
	var filter storage.SourceFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := types.ParseSourceStatus(s)
		if err != nil {
			_ = WriteBadRequest(w, "Invalid status", map[string]interface{}{
				"param":   "status",
				"allowed": []types.SourceStatus{types.SourceSynced, types.SourceError, types.SourceDeleted},
			})
			return
		}
		filter.Status = status
	}
	filter.Category = r.URL.Query().Get("category")

	records, err := h.svc.ListSources(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	sources := make([]SourceResponse, 0, len(records))
	for _, rec := range records {
		src := SourceResponse{
			SourceID:       rec.SourceID,
			Filename:       rec.Filename,
			Category:       rec.Category,
			ModifiedMarker: rec.ModifiedMarker,
			Status:         rec.Status,
			ChunkCount:     rec.ChunkCount,
			LastError:      rec.LastError,
		}
		if !rec.LastSynced.IsZero() {
			src.LastSynced = rec.LastSynced.Format(time.RFC3339)
		}
		sources = append(sources, src)
	}
	_ = WriteOK(w, sources)
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
