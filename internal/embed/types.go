// Package embed generates dense vector embeddings for text chunks.
//
// The process holds a single shared Embedder instance; all index
// pipelines batch their chunk texts through it.
package embed

import (
	"context"
	"math"
	"sync"
)

// Embedding constants.
const (
	// Dimensions is the embedding dimension for all vectors.
	Dimensions = 384

	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

var (
	sharedOnce sync.Once
	shared     Embedder
)

// Shared returns the process-wide embedder instance, creating it on
// first use.
func Shared() Embedder {
	sharedOnce.Do(func() {
		shared = NewHashEmbedder()
	})
	return shared
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
