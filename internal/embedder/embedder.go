// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector does not have the dimension
// the provider or the index declares.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder defines the interface for text embedding services.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// KnownDimensions maps embedding model names to their output dimension.
var KnownDimensions = map[string]int{
	"BAAI/bge-large-en-v1.5": 1024,
	"BAAI/bge-base-en-v1.5":  768,
	"BAAI/bge-small-en-v1.5": 384,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"snowflake-arctic-embed": 1024,
}

// DimensionFor returns the known dimension of a model, or fallback when the
// model is not listed.
func DimensionFor(model string, fallback int) int {
	if dim, ok := KnownDimensions[model]; ok {
		return dim
	}
	return fallback
}

// CheckDimension verifies that vec has exactly want components.
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
