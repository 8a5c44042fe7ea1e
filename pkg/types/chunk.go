package types

import (
	"errors"
	"time"
)

// Chunk metadata keys
const (
	MetaContentType = "content_type"
	MetaCharStart   = "char_start"
	MetaCharEnd     = "char_end"
	MetaSection     = "section" // Markdown heading path, absent outside headings
)

// Chunk is a contiguous slice of a source document's extracted text together
// with its embedding and provenance.
type Chunk struct {
	// Identification
	ID       string // UUID
	SourceID string

	// Content
	Content   string
	Embedding []float32

	// Provenance
	Filename   string
	Category   string
	ChunkIndex int // Position within the source file (0-based)

	// Metadata
	Metadata  map[string]string
	CreatedAt time.Time
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.ChunkIndex < 0 {
		return errors.New("chunk index must be non-negative")
	}

	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if c.ID == "" {
		return errors.New("chunk ID is required")
	}

	if c.SourceID == "" {
		return errors.New("source ID is required")
	}

	if len(c.Embedding) == 0 {
		return errors.New("embedding is required")
	}

	return nil
}

// TokenEstimate estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) TokenEstimate() int {
	return len(c.Content) / 4
}
