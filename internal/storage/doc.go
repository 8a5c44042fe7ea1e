// Package storage provides SQLite-based persistence for the knowledge base.
//
// The storage layer manages:
//   - Chunks with their embeddings and provenance
//   - The FTS5 lexical index over chunk content
//   - The source registry (per-file sync state)
//   - Store-wide embedding settings
//
// # Database Schema
//
// Tables:
//   - chunks: chunk text, embedding blob, source id, category, position
//   - chunks_fts: FTS5 external-content index over chunks.content
//   - sources: one row per upstream file (marker, status, chunk count)
//   - store_meta: embedding model and dimension
//   - schema_version: applied migrations (semver)
//
// chunks_fts is kept in sync by triggers, so every write to chunks updates
// both retrieval channels in the same statement.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.knowledge-base/kb.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	hits, err := db.SearchDense(ctx, queryVec, 20, &storage.SearchFilter{Category: "policies"})
//
// # Transactions
//
// Replacing a file's chunks must be atomic. WithTransaction commits on
// success and rolls back on error:
//
//	err := storage.WithTransaction(ctx, db, func(tx storage.Tx) error {
//	    if _, err := tx.DeleteChunksBySource(ctx, id); err != nil {
//	        return err
//	    }
//	    if err := tx.UpsertChunks(ctx, chunks); err != nil {
//	        return err
//	    }
//	    return tx.UpsertSource(ctx, rec)
//	})
//
// The database runs in WAL mode with a single connection. Inside a
// transaction use only the Tx; calling the Store from fn would wait for the
// connection fn already holds.
//
// # Dense Search
//
// Embeddings are stored as little-endian float32 blobs. Built with the
// sqlite_vec tag, similarity is computed in SQL by vec_distance_cosine; if
// the function is not registered the store falls back to computing cosine
// similarity in Go. Results are ordered by similarity descending, ties by
// insertion order.
//
// # Lexical Search
//
// Query text is split into letter and digit runs, each run is quoted, and
// the terms are OR-ed, so user input is never interpreted as FTS5 syntax.
// Scores come from bm25() and are normalized to [0, 1).
//
// # Build Modes
//
//	go build ./...                               // modernc.org/sqlite, pure Go
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...  // mattn/go-sqlite3
//
// BuildMode reports which one is compiled in.
package storage
