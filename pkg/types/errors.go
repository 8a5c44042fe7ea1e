package types

import "errors"

// Capability failures. Callers wrap these with %w and inspect with errors.Is.
var (
	// ErrUpstreamUnavailable means the corpus listing/download capability
	// could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrExtractionFailed means text could not be extracted from a file.
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrEmbeddingUnavailable means the embedding capability failed or
	// returned malformed output.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrRerankUnavailable means the rerank capability failed. Never fatal.
	ErrRerankUnavailable = errors.New("rerank unavailable")
	// ErrExpansionUnavailable means query expansion failed. Never fatal.
	ErrExpansionUnavailable = errors.New("query expansion unavailable")
	// ErrInconsistentState means an atomic replace could not commit and was
	// rolled back.
	ErrInconsistentState = errors.New("inconsistent state")
	// ErrInvalidRequest means caller input failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// Domain errors for type validation
var (
	ErrInvalidChunkID    = errors.New("invalid chunk ID")
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrMissingProvenance = errors.New("source provenance is required")
	ErrEmptyContent      = errors.New("content cannot be empty")
)

// Error codes returned by Classify
const (
	CodeUpstreamUnavailable  = "upstream_unavailable"
	CodeExtractionFailed     = "extraction_failed"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeRerankUnavailable    = "rerank_unavailable"
	CodeExpansionUnavailable = "expansion_unavailable"
	CodeInconsistentState    = "inconsistent_state"
	CodeInvalidRequest       = "invalid_request"
	CodeInternal             = "internal"
)

var classified = []struct {
	err  error
	code string
}{
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrInconsistentState, CodeInconsistentState},
	{ErrEmbeddingUnavailable, CodeEmbeddingUnavailable},
	{ErrUpstreamUnavailable, CodeUpstreamUnavailable},
	{ErrExtractionFailed, CodeExtractionFailed},
	{ErrRerankUnavailable, CodeRerankUnavailable},
	{ErrExpansionUnavailable, CodeExpansionUnavailable},
}

// Classify maps an error to a stable code for API responses
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classified {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
