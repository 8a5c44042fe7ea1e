// Package syncer keeps the chunk index consistent with the upstream corpus.
//
// A sync run lists the corpus, diffs the listing against the source registry
// and classifies every file as new, unchanged, modified or removed. New and
// modified files are downloaded, extracted, segmented and embedded by a
// bounded worker pool; the result replaces the file's previous chunks and
// registry record in a single transaction. Removed files lose their chunks
// and keep a tombstone record.
//
// Failures are isolated per file. A file that fails before its transaction
// keeps its previous chunks and marker and is marked status=error, so the
// next sync retries it. Only a listing failure aborts a run.
//
// Work on the same source id is serialised by a keyed mutex; no lock is
// held while talking to the corpus or the embedding provider.
//
// Usage:
//
//	engine, err := syncer.New(syncer.Config{
//	    Store:    store,
//	    Corpus:   corpus,
//	    Embedder: embedClient,
//	    Workers:  4,
//	    Logger:   logger,
//	})
//	summary, err := engine.Sync(ctx, syncer.Options{})
package syncer
