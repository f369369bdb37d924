package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/cyberrag/internal/embedder"
	"github.com/knoguchi/cyberrag/internal/reranker"
	"github.com/knoguchi/cyberrag/internal/vectorstore"
)

// Default funnel widths.
const (
	DefaultRetrievalK = 20
	DefaultRerankK    = 5
)

// RetrieverConfig tunes the retrieve-then-rerank funnel.
type RetrieverConfig struct {
	// RetrievalK is how many candidates vector search returns.
	RetrievalK int

	// RerankK bounds the number of passages kept after reranking.
	RerankK int

	// DedupThreshold collapses candidates whose term overlap (Jaccard) is at
	// least this value, keeping the most similar one. 0 disables it.
	DedupThreshold float64

	// Warmup wakes the scorer while the query is being embedded.
	Warmup bool

	Logger *slog.Logger
}

// Retriever composes vector search with a reranking scorer.
// It is safe for concurrent use.
type Retriever struct {
	embedder embedder.Embedder
	index    vectorstore.Index
	scorer   reranker.Scorer
	cfg      RetrieverConfig
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. Zero widths take the defaults.
func NewRetriever(e embedder.Embedder, index vectorstore.Index, scorer reranker.Scorer, cfg RetrieverConfig) *Retriever {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = DefaultRetrievalK
	}
	if cfg.RerankK <= 0 {
		cfg.RerankK = DefaultRerankK
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: e,
		index:    index,
		scorer:   scorer,
		cfg:      cfg,
		tracer:   otel.Tracer("cyberrag.rag.retriever"),
		logger:   logger,
	}
}

// Retrieve returns at most RerankK passages ordered by descending relevance.
// Equal relevance keeps vector search order. Any failure to embed, search or
// score fails the whole call; partial results are never returned.
func (r *Retriever) Retrieve(ctx context.Context, query string) (_ []ScoredPassage, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "cyberrag.rag.retrieve", trace.WithAttributes(
		attribute.Int("retrieval_k", r.cfg.RetrievalK),
		attribute.Int("rerank_k", r.cfg.RerankK),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.search(ctx, vector)
	if err != nil {
		return nil, err
	}

	if r.cfg.DedupThreshold > 0 {
		var dropped []string
		candidates, dropped = dedupe(candidates, r.cfg.DedupThreshold)
		if len(dropped) > 0 {
			r.logger.Debug("dropped near-duplicate candidates", "ids", dropped)
		}
	}

	if len(candidates) == 0 {
		span.SetAttributes(attribute.Int("results", 0))
		return []ScoredPassage{}, nil
	}

	ranked, err := r.rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("results", len(ranked)),
	)
	r.logger.Debug("retrieved passages",
		"candidates", len(candidates),
		"results", len(ranked),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ranked, nil
}

// embedQuery embeds the query, warming the scorer concurrently when enabled.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := r.tracer.Start(ctx, "cyberrag.rag.embed_query", trace.WithAttributes(
		attribute.String("embedder_model", r.embedder.ModelName()),
	))
	defer span.End()

	var vector []float32
	embed := func(ctx context.Context) error {
		v, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		if err := embedder.CheckDimension(v, r.embedder.Dimension()); err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		vector = v
		return nil
	}

	warmer, canWarm := r.scorer.(reranker.Warmer)
	if !r.cfg.Warmup || !canWarm {
		if err := embed(spanCtx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return vector, nil
	}

	g, gctx := errgroup.WithContext(spanCtx)
	g.Go(func() error { return embed(gctx) })
	g.Go(func() error {
		// Warm-up is best effort; a dead scorer surfaces when scoring.
		if err := warmer.Warmup(gctx); err != nil {
			r.logger.Debug("scorer warm-up failed", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

func (r *Retriever) search(ctx context.Context, vector []float32) ([]ScoredPassage, error) {
	spanCtx, span := r.tracer.Start(ctx, "cyberrag.rag.vector_search", trace.WithAttributes(
		attribute.Int("top_k", r.cfg.RetrievalK),
	))
	defer span.End()

	results, err := r.index.Search(spanCtx, vector, r.cfg.RetrievalK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching index: %w", err)
	}
	span.SetAttributes(attribute.Int("matches", len(results)))

	if len(results) > r.cfg.RetrievalK {
		results = results[:r.cfg.RetrievalK]
	}
	candidates := make([]ScoredPassage, len(results))
	for i, res := range results {
		candidates[i] = scoredFromResult(res, i)
	}
	return candidates, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, candidates []ScoredPassage) ([]ScoredPassage, error) {
	spanCtx, span := r.tracer.Start(ctx, "cyberrag.rag.rerank", trace.WithAttributes(
		attribute.String("scorer_model", r.scorer.ModelName()),
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	scores, err := r.scorer.Score(spanCtx, query, docs)
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scoring candidates: %w", err)
	}

	ranked := make([]ScoredPassage, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Relevance = scores[i]
	}
	sortByRelevance(ranked)

	if len(ranked) > r.cfg.RerankK {
		ranked = ranked[:r.cfg.RerankK]
	}
	return ranked, nil
}

// sortByRelevance orders by descending relevance, then ascending retrieval rank.
func sortByRelevance(passages []ScoredPassage) {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Relevance != passages[j].Relevance {
			return passages[i].Relevance > passages[j].Relevance
		}
		return passages[i].RetrievalRank < passages[j].RetrievalRank
	})
}
