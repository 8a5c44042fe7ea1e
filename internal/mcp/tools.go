package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeSyncInProgress       = -32001 // Another sync is already running
	ErrorCodeSourceNotFound       = -32002 // No source record with that id
	ErrorCodeUpstreamUnavailable  = -32003 // Document store could not be listed
	ErrorCodeEmptyQuery           = -32004 // Query parameter is empty
	ErrorCodeEmbeddingUnavailable = -32005 // Query could not be embedded
)

// maxReportedErrors caps per-file errors echoed in a sync response
const maxReportedErrors = 10

// handleSearch handles the search_knowledge_base tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	req := searcher.Request{
		Query:               query,
		TopK:                topK,
		Category:            getStringDefault(args, "category", ""),
		SimilarityThreshold: getFloatPtr(args, "similarity_threshold"),
		SparseWeight:        getFloatPtr(args, "sparse_weight"),
		Rerank:              getBoolPtr(args, "rerank"),
		ExpandQuery:         getBoolDefault(args, "expand_query", false),
		CandidatePool:       getIntDefault(args, "candidate_pool", 0),
	}

	resp, err := s.svc.Search(ctx, req)
	if err != nil {
		return nil, serviceError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		item := map[string]interface{}{
			"rank":        r.Rank,
			"score":       round(r.Score),
			"fused_score": round(r.FusedScore),
			"channels":    r.Channels,
			"text":        r.Text,
			"source_id":   r.SourceID,
			"filename":    r.Filename,
			"category":    r.Category,
			"chunk_index": r.ChunkIndex,
		}
		if r.Reranked {
			item["rerank_score"] = round(r.RerankScore)
		}
		if section := r.Metadata[types.MetaSection]; section != "" {
			item["section"] = section
		}
		if len(r.Metadata) > 0 {
			item["metadata"] = r.Metadata
		}
		results = append(results, item)
	}

	response := map[string]interface{}{
		"query":       resp.Query,
		"results":     results,
		"total":       len(results),
		"reranked":    resp.Reranked,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if resp.SearchQuery != resp.Query {
		response["search_query"] = resp.SearchQuery
	}
	if len(resp.Degraded) > 0 {
		response["degraded"] = resp.Degraded
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSync handles the sync_knowledge_base tool invocation
func (s *Server) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	categories, err := getStringSlice(args, "categories")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "categories must be an array of strings", map[string]interface{}{
			"param":  "categories",
			"reason": err.Error(),
		})
	}

	opts := syncer.Options{
		Force:      getBoolDefault(args, "force", false),
		Categories: categories,
	}
	s.logger.Info("sync requested", zap.Bool("force", opts.Force), zap.Strings("categories", categories))

	summary, err := s.svc.Sync(ctx, opts)
	if err != nil {
		return nil, serviceError("sync failed", err)
	}

	response := map[string]interface{}{
		"files_processed": summary.FilesProcessed,
		"files_skipped":   summary.FilesSkipped,
		"files_failed":    summary.FilesFailed,
		"files_deleted":   summary.FilesDeleted,
		"chunks_written":  summary.ChunksWritten,
		"forced":          summary.Forced,
		"duration_ms":     summary.Duration.Milliseconds(),
	}

	if n := len(summary.PerFileErrors); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = summary.PerFileErrors[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = summary.PerFileErrors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStats handles the knowledge_base_stats tool invocation
func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return nil, serviceError("failed to get stats", err)
	}

	response := map[string]interface{}{
		"total_chunks":        stats.TotalChunks,
		"total_sources":       stats.TotalSources(),
		"sources_by_status":   stats.SourcesByStatus,
		"chunks_by_category":  stats.ChunksByCategory,
		"embedding_model":     stats.EmbeddingModel,
		"embedding_dimension": stats.EmbeddingDim,
		"index_size_mb":       fmt.Sprintf("%.2f", stats.IndexSizeMB),
		"backend":             stats.Backend,
	}

	if getBoolDefault(args, "include_sources", true) {
		filter := storage.SourceFilter{
			Status:   types.SourceStatus(getStringDefault(args, "status", "")),
			Category: getStringDefault(args, "category", ""),
		}
		records, err := s.svc.ListSources(ctx, filter)
		if err != nil {
			return nil, serviceError("failed to list sources", err)
		}

		sources := make([]map[string]interface{}, 0, len(records))
		for _, rec := range records {
			src := map[string]interface{}{
				"source_id":   rec.SourceID,
				"filename":    rec.Filename,
				"category":    rec.Category,
				"status":      rec.Status,
				"chunk_count": rec.ChunkCount,
			}
			if !rec.LastSynced.IsZero() {
				src["last_synced"] = rec.LastSynced.Format(time.RFC3339)
			}
			if rec.LastError != "" {
				src["last_error"] = rec.LastError
			}
			sources = append(sources, src)
		}
		response["sources"] = sources
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClear handles the clear_knowledge_base tool invocation
func (s *Server) handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	if !getBoolDefault(args, "confirm", false) {
		return nil, newMCPError(ErrorCodeInvalidParams, "confirm must be true to clear the knowledge base", map[string]interface{}{
			"param":  "confirm",
			"reason": "missing or false",
		})
	}

	if err := s.svc.Clear(ctx, true); err != nil {
		return nil, serviceError("clear failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": true,
		"message": "Knowledge base cleared. Run sync_knowledge_base to rebuild it.",
	})), nil
}

// handleDeleteSource handles the delete_source tool invocation
func (s *Server) handleDeleteSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	sourceID, _ := args["source_id"].(string)
	if strings.TrimSpace(sourceID) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "source_id parameter is required", map[string]interface{}{
			"param":  "source_id",
			"reason": "missing or empty",
		})
	}

	n, err := s.svc.DeleteSource(ctx, sourceID)
	if err != nil {
		return nil, serviceError("delete failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted":        true,
		"source_id":      sourceID,
		"chunks_deleted": n,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// serviceError maps a service failure onto an MCP error code
func serviceError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		code = ErrorCodeInvalidParams
	case errors.Is(err, storage.ErrNotFound):
		code = ErrorCodeSourceNotFound
	case errors.Is(err, syncer.ErrSyncInProgress):
		code = ErrorCodeSyncInProgress
	case errors.Is(err, types.ErrUpstreamUnavailable):
		code = ErrorCodeUpstreamUnavailable
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		code = ErrorCodeEmbeddingUnavailable
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
		"kind":  types.Classify(err),
	})
}

// arguments returns the call's argument map; tools without required
// parameters may be called with none
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// round keeps scores readable in tool output
func round(f float64) float64 {
	return float64(int64(f*1e6+0.5)) / 1e6
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getBoolPtr extracts an optional boolean parameter
func getBoolPtr(args map[string]interface{}, key string) *bool {
	if val, ok := args[key].(bool); ok {
		return &val
	}
	return nil
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatPtr extracts an optional number parameter
func getFloatPtr(args map[string]interface{}, key string) *float64 {
	switch val := args[key].(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	}
	return nil
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch vals := raw.(type) {
	case []string:
		return vals, nil
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("element %v is not a string", v)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
}
