package reranker

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limited bounds the number of concurrent Score calls on a shared scorer.
// Callers beyond the limit queue until a slot frees or their context ends.
type Limited struct {
	inner Scorer
	sem   *semaphore.Weighted
}

// NewLimited wraps s so that at most n Score calls run at once.
// n <= 0 serialises all calls.
func NewLimited(s Scorer, n int) *Limited {
	if n <= 0 {
		n = 1
	}
	return &Limited{inner: s, sem: semaphore.NewWeighted(int64(n))}
}

// Score waits for a slot and delegates to the wrapped scorer.
func (l *Limited) Score(ctx context.Context, query string, documents []string) ([]float32, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for reranker slot: %w", err)
	}
	defer l.sem.Release(1)

	return l.inner.Score(ctx, query, documents)
}

// Warmup forwards to the wrapped scorer when it supports warming up.
func (l *Limited) Warmup(ctx context.Context) error {
	if w, ok := l.inner.(Warmer); ok {
		return w.Warmup(ctx)
	}
	return nil
}

// ModelName returns the wrapped scorer's model.
func (l *Limited) ModelName() string {
	return l.inner.ModelName()
}

var (
	_ Scorer = (*Limited)(nil)
	_ Warmer = (*Limited)(nil)
)
