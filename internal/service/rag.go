// Package service exposes the question-answering pipeline to transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knoguchi/cyberrag/internal/memory"
	"github.com/knoguchi/cyberrag/internal/rag"
)

// ErrInvalidArgument marks requests rejected before any stage runs.
var ErrInvalidArgument = errors.New("invalid argument")

// QueryRequest asks a question, optionally in the context of a conversation.
type QueryRequest struct {
	Query string `json:"query"`

	// SessionID selects server-side history. Ignored for history when
	// History is supplied, but the exchange is still recorded.
	SessionID string `json:"session_id,omitempty"`

	// History supplies prior turns directly, most recent last.
	History []memory.Turn `json:"history,omitempty"`
}

// Source is a passage cited in a response.
type Source struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	SourceID   string  `json:"source"`
	Page       *int    `json:"page,omitempty"` // 1-indexed
	Score      float32 `json:"score"`          // reranker relevance
	Similarity float32 `json:"similarity"`     // vector similarity
	Rank       int     `json:"retrieval_rank"`
}

// QueryMetadata describes how an answer was produced.
type QueryMetadata struct {
	RunID            string `json:"run_id"`
	RetrievalTimeMs  int64  `json:"retrieval_time_ms"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	ChunksRetrieved  int    `json:"chunks_retrieved"`
	Model            string `json:"model,omitempty"`
}

// QueryResponse is a grounded answer with the passages it was built from.
type QueryResponse struct {
	Answer         string        `json:"answer"`
	RewrittenQuery string        `json:"rewritten_query"`
	Sources        []Source      `json:"sources"`
	Metadata       QueryMetadata `json:"metadata"`
}

// RetrieveRequest asks for ranked passages without generation.
type RetrieveRequest struct {
	Query string `json:"query"`
}

// RetrieveMetadata describes a retrieval.
type RetrieveMetadata struct {
	RetrievalTimeMs int64 `json:"retrieval_time_ms"`
	ChunksRetrieved int   `json:"chunks_retrieved"`
}

// RetrieveResponse holds ranked passages, most relevant first.
type RetrieveResponse struct {
	Sources  []Source         `json:"sources"`
	Metadata RetrieveMetadata `json:"metadata"`
}

// RAGService answers questions and keeps per-session history.
type RAGService struct {
	pipeline  *rag.Pipeline
	retriever rag.PassageRetriever
	memory    *memory.Store
	model     string
	logger    *slog.Logger
}

// RAGServiceOption is a functional option for configuring RAGService.
type RAGServiceOption func(*RAGService)

// WithMemory sets the session history store.
func WithMemory(store *memory.Store) RAGServiceOption {
	return func(s *RAGService) {
		s.memory = store
	}
}

// WithModelName sets the model name reported in query metadata.
func WithModelName(name string) RAGServiceOption {
	return func(s *RAGService) {
		s.model = name
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) RAGServiceOption {
	return func(s *RAGService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRAGService creates a new RAGService. retriever serves Retrieve calls and
// should be the same one the pipeline uses.
func NewRAGService(pipeline *rag.Pipeline, retriever rag.PassageRetriever, opts ...RAGServiceOption) *RAGService {
	s := &RAGService{
		pipeline:  pipeline,
		retriever: retriever,
		memory:    memory.DefaultStore(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Query runs the full pipeline. A failed run returns a *rag.StageError.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	startTime := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}

	history := req.History
	if len(history) == 0 && req.SessionID != "" {
		history = s.memory.GetHistory(req.SessionID)
	}

	st := s.pipeline.Run(ctx, req.Query, history)

	if req.SessionID != "" {
		s.memory.AddUserMessage(req.SessionID, req.Query)
		if st.Failure != nil {
			s.memory.AddAssistantMessage(req.SessionID, "An error occurred: "+st.Failure.UserMessage())
		} else {
			s.memory.AddAssistantMessage(req.SessionID, st.Answer)
		}
	}

	if err := st.Err(); err != nil {
		return nil, err
	}

	return &QueryResponse{
		Answer:         st.Answer,
		RewrittenQuery: st.RewrittenQuery,
		Sources:        toSources(st.RankedPassages),
		Metadata: QueryMetadata{
			RunID:            st.RunID,
			RetrievalTimeMs:  st.Duration(rag.StageRetrieving).Milliseconds(),
			GenerationTimeMs: st.Duration(rag.StageGenerating).Milliseconds(),
			TotalTimeMs:      time.Since(startTime).Milliseconds(),
			ChunksRetrieved:  len(st.RankedPassages),
			Model:            s.model,
		},
	}, nil
}

// Retrieve returns ranked passages for a standalone query without generating.
func (s *RAGService) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResponse, error) {
	startTime := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}

	if err := ctx.Err(); err != nil {
		return nil, &rag.StageError{Stage: rag.StageRetrieving, Kind: rag.ErrCanceled, Err: err}
	}

	passages, err := s.retriever.Retrieve(ctx, req.Query)
	if err != nil {
		kind := rag.ErrRetrieval
		if ctx.Err() != nil {
			kind = rag.ErrCanceled
		}
		s.logger.Error("retrieval failed", "error", err)
		return nil, &rag.StageError{Stage: rag.StageRetrieving, Kind: kind, Err: err}
	}

	return &RetrieveResponse{
		Sources: toSources(passages),
		Metadata: RetrieveMetadata{
			RetrievalTimeMs: time.Since(startTime).Milliseconds(),
			ChunksRetrieved: len(passages),
		},
	}, nil
}

// History returns the stored turns of a session.
func (s *RAGService) History(sessionID string) []memory.Turn {
	return s.memory.GetHistory(sessionID)
}

// ClearSession forgets a session's history.
func (s *RAGService) ClearSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	s.memory.ClearSession(sessionID)
	return nil
}

func toSources(passages []rag.ScoredPassage) []Source {
	sources := make([]Source, len(passages))
	for i, p := range passages {
		var page *int
		if p.PageIndex != nil {
			n := *p.PageIndex + 1
			page = &n
		}
		sources[i] = Source{
			ID:         p.ID,
			Content:    p.Content,
			SourceID:   p.SourceID,
			Page:       page,
			Score:      p.Relevance,
			Similarity: p.Similarity,
			Rank:       p.RetrievalRank,
		}
	}
	return sources
}
