// Package types provides shared type definitions for the knowledge-base service.
//
// This package defines the domain types exchanged between the sync engine,
// the chunk store and the hybrid retriever, plus the error taxonomy every
// component reports through.
//
// # Core Types
//
// Chunk is a bounded span of extracted document text, the unit of embedding
// and retrieval:
//
//	chunk := &types.Chunk{
//	    ID:         uuid.NewString(),
//	    SourceID:   "1AbC...",
//	    Content:    "Refunds are issued within 14 days...",
//	    Filename:   "policies.md",
//	    Category:   "general",
//	    ChunkIndex: 3,
//	}
//
// SourceRecord tracks the sync state of one upstream file. Records removed
// upstream are kept as tombstones (Status == SourceDeleted) rather than
// purged:
//
//	rec := &types.SourceRecord{
//	    SourceID:       "1AbC...",
//	    ModifiedMarker: "2024-05-01T10:00:00Z",
//	    Status:         types.SourceSynced,
//	}
//
// # Search Results
//
// SearchResult carries the final score and enough provenance to cite the
// passage (filename, source id, chunk position) and to explain which
// retrieval channels surfaced it:
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%d. %s#%d (%.4f) via %v\n",
//	        r.Rank, r.Filename, r.ChunkIndex, r.Score, r.Channels)
//	}
//
// # Errors
//
// Capability failures are sentinel errors wrapped with %w:
//
//	if errors.Is(err, types.ErrEmbeddingUnavailable) {
//	    // query cannot proceed without a vector
//	}
//
// Classify maps any error to a stable string code for API and MCP responses.
package types
