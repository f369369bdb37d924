package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension(make([]float32, 3), 3))

	err := CheckDimension(make([]float32, 2), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "got 2, want 3")
}

func TestDimensionFor(t *testing.T) {
	assert.Equal(t, 1024, DimensionFor("BAAI/bge-large-en-v1.5", 1))
	assert.Equal(t, 42, DimensionFor("unknown-model", 42))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "sql injection", req.Prompt)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.5, 0.25, 0.125}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL + "/"})
	assert.Equal(t, 768, e.Dimension())
	assert.Equal(t, DefaultOllamaModel, e.ModelName())

	vec, err := e.Embed(context.Background(), "sql injection")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
}

func TestOllamaEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})
	_, err := e.Embed(context.Background(), "xss")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{float64(len(req.Prompt))}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Dimension: 1, BatchConcurrency: 2})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {3}, {2}}, vecs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// Data deliberately out of order; the embedder must place by index.
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "BAAI/bge-large-en-v1.5",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 2]},
				{"object": "embedding", "index": 0, "embedding": [3, 4]}
			]
		}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		Model:   "BAAI/bge-large-en-v1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, 1024, e.Dimension())

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, vecs[1], 1e-6)
}

func TestOpenAIEmbedder_RejectsEmptyText(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1", Model: "m", Dimension: 2})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty text")
}

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	l2normalize(v)
	assert.InDelta(t, 1.0, math.Hypot(float64(v[0]), float64(v[1])), 1e-6)

	zero := []float32{0, 0}
	l2normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
