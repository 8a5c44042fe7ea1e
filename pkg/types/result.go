package types

// Channel identifies a retrieval channel that surfaced a candidate
type Channel string

const (
	ChannelDense   Channel = "dense"
	ChannelLexical Channel = "lexical"
)

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	ChunkID string
	Rank    int // Position in result set (1-based)

	// Scoring
	Score       float64 // Final score: rerank score when reranked, else fused score
	FusedScore  float64
	RerankScore float64
	Reranked    bool

	// Provenance
	Channels    []Channel
	DenseRank   int // 1-based, 0 when absent from the dense channel
	LexicalRank int // 1-based, 0 when absent from the lexical channel

	// Citation
	Text       string
	SourceID   string
	Filename   string
	Category   string
	ChunkIndex int
	Metadata   map[string]string
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.SourceID == "" {
		return ErrMissingProvenance
	}

	if sr.Text == "" {
		return ErrEmptyContent
	}

	return nil
}

// HasChannel reports whether the result was surfaced by ch
func (sr *SearchResult) HasChannel(ch Channel) bool {
	for _, c := range sr.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
