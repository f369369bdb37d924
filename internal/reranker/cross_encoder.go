package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultCrossEncoderModel matches the model the collection was tuned with.
	DefaultCrossEncoderModel = "BAAI/bge-reranker-base"
)

// CrossEncoderConfig configures a CrossEncoder.
type CrossEncoderConfig struct {
	// BaseURL of a Text Embeddings Inference server hosting the reranker.
	BaseURL string

	// Model is informational; TEI serves a single model per instance.
	Model string

	HTTPClient *http.Client
}

// CrossEncoder scores passages with a cross-encoder model exposed through the
// Text Embeddings Inference /rerank endpoint.
type CrossEncoder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewCrossEncoder creates a CrossEncoder client.
func NewCrossEncoder(cfg CrossEncoderConfig) *CrossEncoder {
	model := cfg.Model
	if model == "" {
		model = DefaultCrossEncoderModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &CrossEncoder{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   model,
		client:  client,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Score sends all documents in one request and realigns the returned
// (index, score) pairs to input order.
func (c *CrossEncoder) Score(ctx context.Context, query string, documents []string) ([]float32, error) {
	if len(documents) == 0 {
		return []float32{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Query:    query,
		Texts:    documents,
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	return alignScores(results, len(documents))
}

// Warmup checks the reranker is up, which also forces model load on a cold
// TEI instance.
func (c *CrossEncoder) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reranker health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reranker health check: status %d", resp.StatusCode)
	}
	return nil
}

// ModelName returns the reranking model identifier.
func (c *CrossEncoder) ModelName() string {
	return c.model
}

// alignScores requires exactly one score per input index.
func alignScores(results []rerankResult, n int) ([]float32, error) {
	if len(results) != n {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(results), n)
	}
	scores := make([]float32, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n {
			return nil, fmt.Errorf("reranker returned out-of-range index %d", r.Index)
		}
		if seen[r.Index] {
			return nil, fmt.Errorf("reranker returned index %d twice", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}

var (
	_ Scorer = (*CrossEncoder)(nil)
	_ Warmer = (*CrossEncoder)(nil)
)
