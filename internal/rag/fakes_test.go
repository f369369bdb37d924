package rag

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/knoguchi/cyberrag/internal/vectorstore"
)

type fakeEmbedder struct {
	dim   int
	err   error
	calls atomic.Int32
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, e.dim)
	v[0] = 1
	return v, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int    { return e.dim }
func (e *fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeIndex struct {
	results []vectorstore.SearchResult
	err     error
	gotK    atomic.Int32
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int) ([]vectorstore.SearchResult, error) {
	f.gotK.Store(int32(topK))
	if f.err != nil {
		return nil, f.err
	}
	out := f.results
	if topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) Dimension(context.Context) (int, error) { return 4, nil }
func (f *fakeIndex) Ping(context.Context) error             { return f.err }
func (f *fakeIndex) Close() error                           { return nil }

// fakeScorer scores documents by exact content lookup; unknown documents get 0.
type fakeScorer struct {
	scores map[string]float32
	err    error
	short  bool // return one score too few

	mu     sync.Mutex
	calls  int
	batch  []string
	warmed atomic.Bool
}

func (s *fakeScorer) Score(_ context.Context, _ string, documents []string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.batch = append([]string(nil), documents...)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make([]float32, len(documents))
	for i, d := range documents {
		out[i] = s.scores[d]
	}
	if s.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *fakeScorer) ModelName() string { return "fake-scorer" }

func (s *fakeScorer) Warmup(context.Context) error {
	s.warmed.Store(true)
	return nil
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingCompleter returns a fixed response and records prompts.
type recordingCompleter struct {
	response string
	err      error

	mu      sync.Mutex
	prompts []string
}

func (c *recordingCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	return c.response, c.err
}

func (c *recordingCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func result(id, content, source string, page *int, score float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{ID: id, Content: content, Source: source, Page: page, Score: score}
}

func intPtr(n int) *int { return &n }
