// Package reranker provides second-pass relevance scoring for retrieved passages.
//
// A Scorer sees the query and each passage together (cross-encoder style),
// which is more precise than the vector similarity used for first-pass
// retrieval but too expensive to run over a whole index. The retrieval
// pipeline therefore scores only the top candidates from vector search.
//
// # Trade-offs
//
//   - CrossEncoder calls a dedicated reranking model (e.g. BAAI/bge-reranker-base
//     served by Text Embeddings Inference). Fast and deterministic.
//   - LLMScorer asks a chat model to grade passages. No extra service to run,
//     but slower and roughly doubles token usage per query.
//
// Model-resident scorers are the shared contention point under load; wrap
// them in Limited to bound concurrent calls.
package reranker

import (
	"context"
)

// Scorer assigns a relevance score to each document for the query.
// The returned slice is aligned by position with documents; higher is more
// relevant. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float32, error)

	// ModelName identifies the scoring model for logs and responses.
	ModelName() string
}

// Warmer is implemented by scorers that benefit from being woken up
// (model load, connection setup) before the first Score call.
type Warmer interface {
	Warmup(ctx context.Context) error
}
