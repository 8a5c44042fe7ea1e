// Package embedder turns text into dense vectors for the knowledge base.
//
// The package has two layers. A Provider talks to one embedding backend
// (Voyage AI, Jina AI, OpenAI, or a local hash model) and makes exactly one
// request per call. A Client wraps a Provider with the contract the rest of
// the service relies on: batching, input types, shape validation, per-call
// timeouts and a query cache.
//
// # Basic Usage
//
//	provider, err := embedder.New(embedder.Config{Provider: "voyage"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := embedder.NewClient(provider, embedder.ClientConfig{})
//	defer client.Close()
//
//	// Chunk text, embedded with input_type=document
//	vectors, err := client.EmbedDocuments(ctx, texts)
//
//	// Search text, embedded with input_type=query
//	qvec, err := client.EmbedQuery(ctx, "refund policy for annual plans")
//
// # Batching
//
// EmbedDocuments splits its input into batches of at most BatchSize texts
// (96 by default) and concatenates the results in input order.
//
// # Provider Selection
//
// With an empty Config.Provider the first provider whose API key is set in
// the environment is used:
//
//  1. VOYAGE_API_KEY → Voyage AI (voyage-3, 1024 dimensions)
//  2. JINA_API_KEY → Jina AI (jina-embeddings-v3, 1024 dimensions)
//  3. OPENAI_API_KEY → OpenAI (text-embedding-3-small, 1536 dimensions)
//  4. Else → local hash provider (384 dimensions, offline)
//
// Config.BaseURL points a remote provider at a different endpoint, such as
// an internal gateway.
//
// # Caching
//
// Query vectors are cached in an LRU keyed by sha256 of model and text.
// Document vectors are never cached.
//
// # Error Handling
//
// Every Client failure wraps types.ErrEmbeddingUnavailable: transport
// errors, non-2xx responses, malformed JSON, a vector count that does not
// match the input, a vector with the wrong dimension, or a timeout.
//
//	if errors.Is(err, types.ErrEmbeddingUnavailable) {
//	    // retry later; the client itself never retries
//	}
package embedder
