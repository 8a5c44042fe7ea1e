package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeDeserializeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, float32(math.Pi), math.MaxFloat32}
	blob := SerializeVector(vec)
	assert.Len(t, blob, len(vec)*4)
	assert.Equal(t, vec, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNormalizeBM25(t *testing.T) {
	assert.Equal(t, 0.0, normalizeBM25(0))
	assert.Greater(t, normalizeBM25(-10), normalizeBM25(-1))
	assert.Less(t, normalizeBM25(-1e6), 1.0)
}

func TestIsMissingFunction(t *testing.T) {
	assert.True(t, isMissingFunction(errString("SQL logic error: no such function: vec_distance_cosine (1)")))
	assert.False(t, isMissingFunction(errString("database is locked")))
	assert.False(t, isMissingFunction(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
