package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tharpep/knowledge-base/internal/searcher"
	"github.com/tharpep/knowledge-base/internal/storage"
	"github.com/tharpep/knowledge-base/internal/syncer"
	"github.com/tharpep/knowledge-base/pkg/types"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*searcher.Response), args.Error(1)
}

func (m *mockService) Sync(ctx context.Context, opts syncer.Options) (*types.SyncSummary, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SyncSummary), args.Error(1)
}

func (m *mockService) Stats(ctx context.Context) (*types.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Stats), args.Error(1)
}

func (m *mockService) Clear(ctx context.Context, confirm bool) error {
	return m.Called(ctx, confirm).Error(0)
}

func (m *mockService) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	args := m.Called(ctx, sourceID)
	return args.Int(0), args.Error(1)
}

func (m *mockService) ListSources(ctx context.Context, filter storage.SourceFilter) ([]*types.SourceRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.SourceRecord), args.Error(1)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %T", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func newTestServer() (*Server, *mockService) {
	svc := &mockService{}
	return NewServer(svc, "test", nil), svc
}

func TestNewServer(t *testing.T) {
	s, _ := newTestServer()
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.svc)
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcp.Tool{searchTool(), syncTool(), statsTool(), clearTool(), deleteSourceTool()}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type)
		assert.NotEmpty(t, tool.Description)
		for _, req := range tool.InputSchema.Required {
			assert.Contains(t, tool.InputSchema.Properties, req, "%s requires undeclared %s", tool.Name, req)
		}
	}
	assert.Equal(t, []string{
		"search_knowledge_base", "sync_knowledge_base", "knowledge_base_stats",
		"clear_knowledge_base", "delete_source",
	}, names)
}

func TestHandleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("maps request and results", func(t *testing.T) {
		s, svc := newTestServer()
		threshold := 0.2
		rerank := false
		svc.On("Search", ctx, searcher.Request{
			Query:               "refund window",
			TopK:                3,
			Category:            "general",
			SimilarityThreshold: &threshold,
			Rerank:              &rerank,
			ExpandQuery:         true,
		}).Return(&searcher.Response{
			Query:       "refund window",
			SearchQuery: "refund window days policy",
			Results: []types.SearchResult{{
				ChunkID:    "c1",
				Rank:       1,
				Score:      0.0327868852,
				FusedScore: 0.0327868852,
				Channels:   []types.Channel{types.ChannelDense, types.ChannelLexical},
				Text:       "Refunds are issued within 14 days.",
				SourceID:   "src-1",
				Filename:   "refunds.md",
				Category:   "general",
				Metadata: map[string]string{
					types.MetaSection:     "Policies > Refunds",
					types.MetaContentType: "text/markdown",
					types.MetaCharStart:   "120",
					types.MetaCharEnd:     "154",
				},
			}},
			Degraded: []string{searcher.DegradedExpansion},
			Duration: 15 * time.Millisecond,
		}, nil)

		res, err := s.handleSearch(ctx, callRequest("search_knowledge_base", map[string]interface{}{
			"query":                "refund window",
			"top_k":                float64(3),
			"category":             "general",
			"similarity_threshold": 0.2,
			"rerank":               false,
			"expand_query":         true,
		}))
		require.NoError(t, err)
		svc.AssertExpectations(t)

		out := decodeResult(t, res)
		assert.Equal(t, "refund window days policy", out["search_query"])
		assert.Equal(t, []interface{}{"expansion"}, out["degraded"])
		assert.Equal(t, float64(1), out["total"])

		results := out["results"].([]interface{})
		require.Len(t, results, 1)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "refunds.md", first["filename"])
		assert.Equal(t, "src-1", first["source_id"])
		assert.Equal(t, "Policies > Refunds", first["section"])
		meta := first["metadata"].(map[string]interface{})
		assert.Equal(t, "text/markdown", meta["content_type"])
		assert.Equal(t, "120", meta["char_start"])
		assert.Equal(t, "154", meta["char_end"])
		assert.Equal(t, []interface{}{"dense", "lexical"}, first["channels"])
		assert.NotContains(t, first, "rerank_score")
		assert.InDelta(t, 0.032787, first["score"], 1e-6)
	})

	t.Run("empty query", func(t *testing.T) {
		s, svc := newTestServer()
		_, err := s.handleSearch(ctx, callRequest("search_knowledge_base", map[string]interface{}{"query": "  "}))
		requireMCPError(t, err, ErrorCodeEmptyQuery)
		svc.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	})

	t.Run("top_k out of range", func(t *testing.T) {
		s, _ := newTestServer()
		_, err := s.handleSearch(ctx, callRequest("search_knowledge_base", map[string]interface{}{
			"query": "x",
			"top_k": float64(searcher.MaxTopK + 1),
		}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})

	t.Run("embedding failure", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Search", ctx, mock.Anything).Return(nil, fmt.Errorf("%w: timeout", types.ErrEmbeddingUnavailable))

		_, err := s.handleSearch(ctx, callRequest("search_knowledge_base", map[string]interface{}{"query": "x"}))
		mcpErr := requireMCPError(t, err, ErrorCodeEmbeddingUnavailable)
		data := mcpErr.Data.(map[string]interface{})
		assert.Equal(t, types.CodeEmbeddingUnavailable, data["kind"])
	})

	t.Run("invalid arguments", func(t *testing.T) {
		s, _ := newTestServer()
		req := mcp.CallToolRequest{}
		req.Params.Arguments = "not a map"
		_, err := s.handleSearch(ctx, req)
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

func TestHandleSync(t *testing.T) {
	ctx := context.Background()

	t.Run("summary with capped errors", func(t *testing.T) {
		s, svc := newTestServer()
		errs := make([]types.FileError, 12)
		for i := range errs {
			errs[i] = types.FileError{SourceID: fmt.Sprintf("f%d", i), Stage: types.StageExtract, Error: "bad pdf"}
		}
		svc.On("Sync", ctx, syncer.Options{Force: true, Categories: []string{"projects"}}).Return(&types.SyncSummary{
			FilesProcessed: 3,
			FilesSkipped:   5,
			FilesFailed:    12,
			ChunksWritten:  9,
			PerFileErrors:  errs,
			Forced:         true,
		}, nil)

		res, err := s.handleSync(ctx, callRequest("sync_knowledge_base", map[string]interface{}{
			"force":      true,
			"categories": []interface{}{"projects"},
		}))
		require.NoError(t, err)

		out := decodeResult(t, res)
		assert.Equal(t, float64(3), out["files_processed"])
		assert.Equal(t, float64(12), out["files_failed"])
		assert.Equal(t, float64(12), out["error_count"])
		assert.Len(t, out["errors"], maxReportedErrors)
		assert.Equal(t, true, out["forced"])
	})

	t.Run("no arguments", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Sync", ctx, syncer.Options{}).Return(&types.SyncSummary{PerFileErrors: []types.FileError{}}, nil)

		res, err := s.handleSync(ctx, callRequest("sync_knowledge_base", nil))
		require.NoError(t, err)
		out := decodeResult(t, res)
		assert.NotContains(t, out, "errors")
	})

	t.Run("bad categories", func(t *testing.T) {
		s, _ := newTestServer()
		_, err := s.handleSync(ctx, callRequest("sync_knowledge_base", map[string]interface{}{
			"categories": []interface{}{"ok", 3.0},
		}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})

	t.Run("already running", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Sync", ctx, mock.Anything).Return(nil, syncer.ErrSyncInProgress)
		_, err := s.handleSync(ctx, callRequest("sync_knowledge_base", nil))
		requireMCPError(t, err, ErrorCodeSyncInProgress)
	})

	t.Run("listing failure", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Sync", ctx, mock.Anything).Return(nil, fmt.Errorf("%w: list files: 503", types.ErrUpstreamUnavailable))
		_, err := s.handleSync(ctx, callRequest("sync_knowledge_base", nil))
		requireMCPError(t, err, ErrorCodeUpstreamUnavailable)
	})
}

func TestHandleStats(t *testing.T) {
	ctx := context.Background()
	stats := &types.Stats{
		TotalChunks:      7,
		SourcesByStatus:  map[types.SourceStatus]int{types.SourceSynced: 2, types.SourceError: 1},
		ChunksByCategory: map[string]int{"general": 7},
		EmbeddingModel:   "voyage-3",
		EmbeddingDim:     1024,
		IndexSizeMB:      1.234,
		Backend:          "sqlite-purego",
	}

	t.Run("with sources", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Stats", ctx).Return(stats, nil)
		svc.On("ListSources", ctx, storage.SourceFilter{Status: types.SourceError}).Return([]*types.SourceRecord{{
			SourceID:  "f1",
			Filename:  "scan.pdf",
			Category:  "general",
			Status:    types.SourceError,
			LastError: "extract: no text",
		}}, nil)

		res, err := s.handleStats(ctx, callRequest("knowledge_base_stats", map[string]interface{}{"status": "error"}))
		require.NoError(t, err)

		out := decodeResult(t, res)
		assert.Equal(t, float64(7), out["total_chunks"])
		assert.Equal(t, float64(3), out["total_sources"])
		assert.Equal(t, "1.23", out["index_size_mb"])
		assert.Equal(t, "voyage-3", out["embedding_model"])

		sources := out["sources"].([]interface{})
		require.Len(t, sources, 1)
		src := sources[0].(map[string]interface{})
		assert.Equal(t, "scan.pdf", src["filename"])
		assert.Equal(t, "extract: no text", src["last_error"])
		assert.NotContains(t, src, "last_synced")
	})

	t.Run("without sources", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Stats", ctx).Return(stats, nil)

		res, err := s.handleStats(ctx, callRequest("knowledge_base_stats", map[string]interface{}{"include_sources": false}))
		require.NoError(t, err)
		assert.NotContains(t, decodeResult(t, res), "sources")
		svc.AssertNotCalled(t, "ListSources", mock.Anything, mock.Anything)
	})

	t.Run("invalid status", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Stats", ctx).Return(stats, nil)
		svc.On("ListSources", ctx, mock.Anything).Return(nil, fmt.Errorf("%w: unknown source status", types.ErrInvalidRequest))

		_, err := s.handleStats(ctx, callRequest("knowledge_base_stats", map[string]interface{}{"status": "bogus"}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

func TestHandleClear(t *testing.T) {
	ctx := context.Background()

	t.Run("requires confirm", func(t *testing.T) {
		for _, args := range []map[string]interface{}{nil, {"confirm": false}, {"confirm": "yes"}} {
			s, svc := newTestServer()
			_, err := s.handleClear(ctx, callRequest("clear_knowledge_base", args))
			requireMCPError(t, err, ErrorCodeInvalidParams)
			svc.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything)
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("Clear", ctx, true).Return(nil)

		res, err := s.handleClear(ctx, callRequest("clear_knowledge_base", map[string]interface{}{"confirm": true}))
		require.NoError(t, err)
		assert.Equal(t, true, decodeResult(t, res)["cleared"])
		svc.AssertExpectations(t)
	})
}

func TestHandleDeleteSource(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("DeleteSource", ctx, "f1").Return(4, nil)

		res, err := s.handleDeleteSource(ctx, callRequest("delete_source", map[string]interface{}{"source_id": "f1"}))
		require.NoError(t, err)
		out := decodeResult(t, res)
		assert.Equal(t, float64(4), out["chunks_deleted"])
		assert.Equal(t, "f1", out["source_id"])
	})

	t.Run("missing id", func(t *testing.T) {
		s, _ := newTestServer()
		_, err := s.handleDeleteSource(ctx, callRequest("delete_source", map[string]interface{}{}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})

	t.Run("unknown id", func(t *testing.T) {
		s, svc := newTestServer()
		svc.On("DeleteSource", ctx, "nope").Return(0, storage.ErrNotFound)
		_, err := s.handleDeleteSource(ctx, callRequest("delete_source", map[string]interface{}{"source_id": "nope"}))
		requireMCPError(t, err, ErrorCodeSourceNotFound)
	})
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"f":    2.5,
		"i":    7,
		"b":    true,
		"s":    "text",
		"list": []string{"a", "b"},
	}

	assert.Equal(t, 2, getIntDefault(args, "f", 0))
	assert.Equal(t, 7, getIntDefault(args, "i", 0))
	assert.Equal(t, 9, getIntDefault(args, "missing", 9))

	require.NotNil(t, getFloatPtr(args, "f"))
	assert.Equal(t, 2.5, *getFloatPtr(args, "f"))
	assert.Equal(t, 7.0, *getFloatPtr(args, "i"))
	assert.Nil(t, getFloatPtr(args, "s"))

	require.NotNil(t, getBoolPtr(args, "b"))
	assert.True(t, *getBoolPtr(args, "b"))
	assert.Nil(t, getBoolPtr(args, "missing"))

	list, err := getStringSlice(args, "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)
	_, err = getStringSlice(args, "s")
	assert.Error(t, err)

	assert.Equal(t, 0.123457, round(0.1234567))
}
