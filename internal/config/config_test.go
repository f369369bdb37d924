package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LLMProvider:        ProviderGroq,
		LLMAPIKey:          "gsk-test",
		LLMModel:           "llama3-70b-8192",
		EmbeddingProvider:  ProviderOllama,
		EmbeddingDimension: 1024,
		RerankerProvider:   RerankerCrossEncoder,
		RerankerURL:        "http://localhost:8081",
		VectorBackend:      BackendQdrant,
		QdrantGRPCURL:      "localhost:6334",
		CollectionName:     "documents_vector_store",
		RetrievalK:         20,
		RerankK:            5,
		HistoryTurns:       5,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("EMBEDDING_BASE_URL", "http://localhost:8082/v1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGroq, cfg.LLMProvider)
	assert.Equal(t, "gsk-test", cfg.LLMAPIKey, "GROQ_API_KEY should back-fill LLM_API_KEY")
	assert.Equal(t, 20, cfg.RetrievalK)
	assert.Equal(t, 5, cfg.RerankK)
	assert.Equal(t, 5, cfg.HistoryTurns)
	assert.Equal(t, BackendQdrant, cfg.VectorBackend)
	assert.Equal(t, "BAAI/bge-reranker-base", cfg.RerankerModel)
	assert.Equal(t, GroqBaseURL, cfg.ResolvedLLMBaseURL())
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("EMBEDDING_BASE_URL", "http://localhost:8082/v1")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "pgvector without database url",
			mutate:  func(c *Config) { c.VectorBackend = BackendPgvector },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "memory backend without index file",
			mutate:  func(c *Config) { c.VectorBackend = BackendMemory },
			wantErr: "MEMORY_INDEX_FILE",
		},
		{
			name: "memory backend with index file",
			mutate: func(c *Config) {
				c.VectorBackend = BackendMemory
				c.MemoryIndexFile = "testdata/chunks.json"
			},
		},
		{
			name:    "rerank wider than retrieval",
			mutate:  func(c *Config) { c.RerankK = 30 },
			wantErr: "RERANK_K must not exceed RETRIEVAL_K",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.VectorBackend = "atlas" },
			wantErr: `unknown VECTOR_BACKEND "atlas"`,
		},
		{
			name:    "negative history",
			mutate:  func(c *Config) { c.HistoryTurns = -1 },
			wantErr: "HISTORY_TURNS",
		},
		{
			name: "ollama needs no key",
			mutate: func(c *Config) {
				c.LLMProvider = ProviderOllama
				c.LLMAPIKey = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
