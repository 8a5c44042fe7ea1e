// Package mcp implements the Model Context Protocol (MCP) server for the
// knowledge base.
//
// The server exposes five tools to assistants:
//   - search_knowledge_base: hybrid retrieval with citations
//   - sync_knowledge_base: incremental sync against the document store
//   - knowledge_base_stats: counts, embedding settings and tracked sources
//   - clear_knowledge_base: wipe the index (requires confirm)
//   - delete_source: drop one file from the index
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries the protocol, so every log line goes to stderr.
//
// # Basic Usage
//
//	knowledge-base mcp
//
// # Tool: search_knowledge_base
//
//	Request:
//	{
//	  "name": "search_knowledge_base",
//	  "arguments": {
//	    "query": "how long do refunds take",
//	    "top_k": 5,
//	    "category": "general"
//	  }
//	}
//
//	Response:
//	{
//	  "query": "how long do refunds take",
//	  "reranked": true,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.913,
//	      "fused_score": 0.032787,
//	      "rerank_score": 0.913,
//	      "channels": ["dense", "lexical"],
//	      "filename": "refunds.md",
//	      "source_id": "1AbC...",
//	      "category": "general",
//	      "chunk_index": 0,
//	      "section": "Refunds",
//	      "text": "Refunds are issued within 14 days..."
//	    }
//	  ],
//	  "total": 1,
//	  "duration_ms": 182
//	}
//
// When the reranker or expander fails the response lists the stage under
// "degraded" and falls back to fusion order or the original query.
//
// # Tool: sync_knowledge_base
//
//	Request:
//	{"name": "sync_knowledge_base", "arguments": {"force": false, "categories": ["projects"]}}
//
//	Response:
//	{
//	  "files_processed": 3,
//	  "files_skipped": 41,
//	  "files_failed": 1,
//	  "files_deleted": 0,
//	  "chunks_written": 27,
//	  "errors": [{"source_id": "...", "filename": "scan.pdf", "stage": "extract", "error": "..."}],
//	  "duration_ms": 5120
//	}
//
// Per-file failures never fail the call. Only a listing failure does.
//
// # Error Codes
//
//	-32602  Invalid params (bad top_k, missing confirm, unknown status)
//	-32603  Internal error
//	-32001  Sync already in progress
//	-32002  Source not found
//	-32003  Upstream unavailable
//	-32004  Empty query
//	-32005  Embedding unavailable
//
// Error data carries the underlying message and its classification:
//
//	{"code": -32003, "message": "sync failed",
//	 "data": {"error": "upstream unavailable: list files: ...", "kind": "upstream_unavailable"}}
package mcp
