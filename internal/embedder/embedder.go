package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// InputType tells asymmetric embedding models which side of retrieval a
// text is on
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Provider is a single embedding backend. Implementations make exactly one
// remote call per Embed and never retry.
type Provider interface {
	// Embed returns one vector per text, in input order
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Name returns the provider name
	Name() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the provider
	Close() error
}

// Cache provides in-memory LRU caching of query embeddings
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 1000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](1000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get returns a copy of the cached vector so callers cannot mutate the entry
func (c *Cache) Get(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a vector in cache with automatic LRU eviction
func (c *Cache) Set(key string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes the cache key for text embedded by model
func ComputeHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
