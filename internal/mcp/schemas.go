package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tharpep/knowledge-base/internal/searcher"
)

// searchTool returns the tool definition for search_knowledge_base
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_knowledge_base",
		Description: "Search the knowledge base with hybrid semantic and keyword retrieval. Results cite filename and source id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question or keywords",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of passages to return",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one category (top-level folder), e.g. 'projects'",
				},
				"similarity_threshold": map[string]interface{}{
					"type":        "number",
					"description": "Drop results whose final score is below this value",
					"minimum":     0.0,
				},
				"sparse_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the keyword channel in fusion; 0 searches embeddings only",
					"minimum":     0.0,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Reorder fused candidates with the cross-encoder when one is configured",
				},
				"expand_query": map[string]interface{}{
					"type":        "boolean",
					"description": "Rewrite the query with an LLM before retrieval when expansion is configured",
					"default":     false,
				},
				"candidate_pool": map[string]interface{}{
					"type":        "integer",
					"description": "Candidates fetched per channel before fusion",
					"default":     searcher.DefaultCandidatePool,
					"minimum":     1,
					"maximum":     searcher.MaxCandidatePool,
				},
			},
			Required: []string{"query"},
		},
	}
}

// syncTool returns the tool definition for sync_knowledge_base
func syncTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_knowledge_base",
		Description: "Bring the index up to date with the document store: ingest new and modified files, remove deleted ones",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-ingest every file even when unchanged",
					"default":     false,
				},
				"categories": map[string]interface{}{
					"type":        "array",
					"description": "Only sync these categories; omit for all",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}
}

// statsTool returns the tool definition for knowledge_base_stats
func statsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "knowledge_base_stats",
		Description: "Report chunk and source counts, the embedding model and the tracked source files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"include_sources": map[string]interface{}{
					"type":        "boolean",
					"description": "List tracked source files",
					"default":     true,
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Only list sources with this status",
					"enum":        []string{"synced", "error", "deleted"},
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Only list sources in this category",
				},
			},
		},
	}
}

// clearTool returns the tool definition for clear_knowledge_base
func clearTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_knowledge_base",
		Description: "Delete every chunk and source record. The next sync re-ingests everything.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"confirm": map[string]interface{}{
					"type":        "boolean",
					"description": "Must be true",
				},
			},
			Required: []string{"confirm"},
		},
	}
}

// deleteSourceTool returns the tool definition for delete_source
func deleteSourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_source",
		Description: "Remove one source file's chunks from the index and mark it deleted",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source_id": map[string]interface{}{
					"type":        "string",
					"description": "Upstream file id as reported by knowledge_base_stats",
				},
			},
			Required: []string{"source_id"},
		},
	}
}
