// Package rag implements the question-answering pipeline: query rewriting,
// retrieve-then-rerank, context assembly and grounded generation, sequenced
// by a linear state machine.
package rag

import (
	"github.com/knoguchi/cyberrag/internal/vectorstore"
)

// Passage is a unit of retrievable text with its provenance.
// Passages are read-only at query time.
type Passage struct {
	ID        string
	Content   string
	SourceID  string
	PageIndex *int // 0-based, nil when the source has no pages
	Embedding []float32
}

// ScoredPassage is a Passage as seen by one query.
type ScoredPassage struct {
	Passage

	// Similarity is the cosine similarity from vector search.
	Similarity float32

	// Relevance is the reranker score; ordering uses this field.
	Relevance float32

	// RetrievalRank is the 0-based position in the vector search result.
	RetrievalRank int
}

func scoredFromResult(r vectorstore.SearchResult, rank int) ScoredPassage {
	return ScoredPassage{
		Passage: Passage{
			ID:        r.ID,
			Content:   r.Content,
			SourceID:  r.Source,
			PageIndex: r.Page,
			Embedding: r.Vector,
		},
		Similarity:    r.Score,
		RetrievalRank: rank,
	}
}
