package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/knoguchi/cyberrag/internal/embedder"
)

// MemoryStore is an exact (brute-force) cosine index held in memory.
// It backs local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	chunks    []Chunk
}

// NewMemoryStore creates an empty in-memory index of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension}
}

// Add appends chunks to the index. Vectors must match the index dimension.
func (s *MemoryStore) Add(chunks ...Chunk) error {
	for i, c := range chunks {
		if err := embedder.CheckDimension(c.Vector, s.dimension); err != nil {
			return fmt.Errorf("chunk %d (%s): %w", i, c.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// LoadFile adds the chunks stored in a JSON array file, as written by an
// offline export of the index. Every vector must match the index dimension.
func (s *MemoryStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("memory index: read %s: %w", path, err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("memory index: parse %s: %w", path, err)
	}
	if err := s.Add(chunks...); err != nil {
		return fmt.Errorf("memory index: %s: %w", path, err)
	}
	return nil
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Search scores every chunk and returns the topK most similar.
// Equal scores keep insertion order.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := embedder.CheckDimension(vector, s.dimension); err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := make([]SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		results = append(results, SearchResult{
			ID:       c.ID,
			Content:  c.Content,
			Source:   c.Source,
			Page:     c.Page,
			Score:    CosineSimilarity(vector, c.Vector),
			Vector:   c.Vector,
			Metadata: c.Metadata,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK >= 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Dimension returns the configured dimension.
func (s *MemoryStore) Dimension(context.Context) (int, error) {
	return s.dimension, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// CosineSimilarity computes the cosine similarity between two vectors
// Returns a value between -1 and 1, where 1 means identical direction
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

var _ Index = (*MemoryStore)(nil)
