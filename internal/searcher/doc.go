// Package searcher implements hybrid retrieval over the chunk store.
//
// A query runs through these stages:
//
//  1. Optional query expansion. Any failure keeps the original query.
//  2. Query embedding. Failure fails the query with
//     types.ErrEmbeddingUnavailable.
//  3. Dense and lexical retrieval, fetched concurrently. Each channel
//     returns at most CandidatePool items and honours the category filter.
//     The lexical channel is skipped when the sparse weight is 0.
//  4. Reciprocal Rank Fusion with k=60 and 1-based ranks. The lexical term
//     is multiplied by the sparse weight.
//  5. Optional cross-encoder rerank of the fused top CandidatePool against
//     the original query. Any failure keeps the fusion order.
//  6. Threshold on the final score, then truncation to TopK.
//
// # Basic Usage
//
//	s, err := searcher.New(searcher.Config{
//	    Index:    store,
//	    Embedder: embedClient,
//	    Reranker: rr,
//	    Rerank:   true,
//	})
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:    "what is the refund window?",
//	    TopK:     5,
//	    Category: "policies",
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s#%d %.4f\n", r.Rank, r.Filename, r.ChunkIndex, r.Score)
//	}
//
// # Determinism
//
// Fusion lays candidates out in dense order followed by lexical-only items
// and sorts them stably, so identical inputs always produce identical
// output. Reranking sorts stably too, so equal rerank scores keep fusion
// order.
//
// # Scores
//
// Score is the rerank score when the result was reranked and the fused RRF
// score otherwise. Fused scores are small: an item ranked first in both
// channels scores 2/61. Thresholds should be chosen with that scale in mind.
//
// # Degradation
//
// Rerank, expansion and lexical failures never fail a query. They are
// logged at Warn and listed in Response.Degraded.
package searcher
