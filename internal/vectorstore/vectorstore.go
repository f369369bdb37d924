// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
	"strconv"
)

// Payload keys every stored passage carries.
const (
	PayloadContent = "content"
	PayloadSource  = "source"
	PayloadPage    = "page"
)

// Chunk represents a passage with its embedding, as written by ingestion
type Chunk struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Page     *int              `json:"page,omitempty"` // 0-based page index, nil when the source has no pages
	Vector   []float32         `json:"vector"`         // Dense vector from the embedding model
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult represents a search result from the vector store
type SearchResult struct {
	ID       string
	Content  string
	Source   string
	Page     *int
	Score    float32 // cosine similarity
	Vector   []float32
	Metadata map[string]string
}

// Index is the read side of a vector store used at query time.
// Implementations must be safe for concurrent use.
type Index interface {
	// Search returns up to topK passages ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)

	// Dimension reports the vector size the index was built with.
	Dimension(ctx context.Context) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// parsePage interprets a page value stored as text.
func parsePage(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
