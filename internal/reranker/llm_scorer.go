package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/cyberrag/internal/llm"
)

// maxPassageRunes bounds how much of each passage goes into the grading prompt.
const maxPassageRunes = 500

// LLMScorer uses an LLM to grade query-passage pairs.
// The model sees the query and all passages together, which approximates a
// cross-encoder without running a dedicated reranking model.
type LLMScorer struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for grading.
func WithModel(model string) LLMScorerOption {
	return func(r *LLMScorer) {
		r.model = model
	}
}

// WithScorerLogger sets the logger used to report ungraded documents.
func WithScorerLogger(logger *slog.Logger) LLMScorerOption {
	return func(r *LLMScorer) {
		r.logger = logger
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	r := &LLMScorer{
		llmClient: llmClient,
		model:     llmClient.ModelName(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
}

type gradeResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Score asks the LLM for a 0..1 relevance grade per document.
// An unparseable answer is an error. Documents the model skipped score 0.
func (r *LLMScorer) Score(ctx context.Context, query string, documents []string) ([]float32, error) {
	if len(documents) == 0 {
		return []float32{}, nil
	}

	prompt := buildGradePrompt(query, documents)

	response, err := r.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0, // Deterministic scoring
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM grading failed: %w", err)
	}

	scores, ungraded, err := parseGradeResponse(response, len(documents))
	if err != nil {
		return nil, err
	}
	if len(ungraded) > 0 {
		r.logger.Warn("grader skipped documents", "model", r.model, "doc_indices", ungraded)
	}
	return scores, nil
}

// ModelName returns the grading model.
func (r *LLMScorer) ModelName() string {
	return r.model
}

func buildGradePrompt(query string, documents []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system for cybersecurity documents. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, doc := range documents {
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, truncateRunes(doc, maxPassageRunes))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseGradeResponse extracts scores from the LLM response, tolerating
// markdown code fences around the JSON. It also returns the indices the
// model did not grade; those keep a score of 0.
func parseGradeResponse(response string, numDocs int) ([]float32, []int, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	response = strings.TrimSpace(response)

	var parsed gradeResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to parse grading response: %w", err)
	}

	scores := make([]float32, numDocs)
	graded := make([]bool, numDocs)

	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numDocs {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.DocIndex] = score
		graded[s.DocIndex] = true
	}

	var ungraded []int
	for i, ok := range graded {
		if !ok {
			ungraded = append(ungraded, i)
		}
	}
	return scores, ungraded, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

var _ Scorer = (*LLMScorer)(nil)
