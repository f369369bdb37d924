// Package config loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// ErrConfiguration marks errors that make the process unable to start.
// They are never produced per request.
var ErrConfiguration = errors.New("configuration error")

// Provider and backend names accepted by the configuration.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	RerankerCrossEncoder = "cross-encoder"
	RerankerLLM          = "llm"

	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"
)

// GroqBaseURL is the OpenAI-compatible endpoint used when LLM_PROVIDER=groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Config holds all configuration for the question answering service
type Config struct {
	// Server
	GRPCPort    int    `env:"GRPC_PORT" envDefault:"9090"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Language model used for rewriting and answering
	LLMProvider string `env:"LLM_PROVIDER" envDefault:"groq"`
	LLMAPIKey   string `env:"LLM_API_KEY"`
	GroqAPIKey  string `env:"GROQ_API_KEY"`
	LLMBaseURL  string `env:"LLM_BASE_URL"`
	LLMModel    string `env:"LLM_MODEL" envDefault:"llama3-70b-8192"`

	// Ollama
	OllamaURL string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`

	// Embeddings
	EmbeddingProvider  string `env:"EMBEDDING_PROVIDER" envDefault:"openai"`
	EmbeddingBaseURL   string `env:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey    string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel     string `env:"EMBEDDING_MODEL" envDefault:"BAAI/bge-large-en-v1.5"`
	EmbeddingDimension int    `env:"EMBEDDING_DIMENSION" envDefault:"1024"`

	// Reranker
	RerankerProvider  string `env:"RERANKER_PROVIDER" envDefault:"cross-encoder"`
	RerankerURL       string `env:"RERANKER_URL" envDefault:"http://localhost:8081"`
	RerankerModel     string `env:"RERANKER_MODEL" envDefault:"BAAI/bge-reranker-base"`
	RerankConcurrency int    `env:"RERANK_CONCURRENCY" envDefault:"2"`

	// Vector index
	VectorBackend  string `env:"VECTOR_BACKEND" envDefault:"qdrant"`
	QdrantGRPCURL  string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`
	QdrantAPIKey   string `env:"QDRANT_API_KEY"`
	CollectionName string `env:"COLLECTION_NAME" envDefault:"documents_vector_store"`
	DatabaseURL    string `env:"DATABASE_URL"`
	PgvectorTable  string `env:"PGVECTOR_TABLE" envDefault:"passages"`

	// MemoryIndexFile is a JSON array of chunks loaded into the memory backend.
	MemoryIndexFile string `env:"MEMORY_INDEX_FILE"`

	// Pipeline
	RetrievalK     int           `env:"RETRIEVAL_K" envDefault:"20"`
	RerankK        int           `env:"RERANK_K" envDefault:"5"`
	HistoryTurns   int           `env:"HISTORY_TURNS" envDefault:"5"`
	DedupThreshold float64       `env:"DEDUP_THRESHOLD" envDefault:"0"`
	StageTimeout   time.Duration `env:"STAGE_TIMEOUT" envDefault:"2m"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5m"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"1h"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = cfg.GroqAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing credentials and out-of-range values.
func (c *Config) Validate() error {
	var problems []string

	switch c.LLMProvider {
	case ProviderGroq, ProviderOpenAI:
		if c.LLMAPIKey == "" {
			problems = append(problems, "LLM_API_KEY (or GROQ_API_KEY) is required for provider "+c.LLMProvider)
		}
	case ProviderOllama:
	default:
		problems = append(problems, fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.EmbeddingBaseURL == "" && c.EmbeddingAPIKey == "" {
			problems = append(problems, "EMBEDDING_BASE_URL or EMBEDDING_API_KEY is required for openai embeddings")
		}
	case ProviderOllama:
	default:
		problems = append(problems, fmt.Sprintf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider))
	}
	if c.EmbeddingDimension <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSION must be positive")
	}

	switch c.RerankerProvider {
	case RerankerCrossEncoder:
		if c.RerankerURL == "" {
			problems = append(problems, "RERANKER_URL is required for the cross-encoder reranker")
		}
	case RerankerLLM:
	default:
		problems = append(problems, fmt.Sprintf("unknown RERANKER_PROVIDER %q", c.RerankerProvider))
	}

	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantGRPCURL == "" || c.CollectionName == "" {
			problems = append(problems, "QDRANT_GRPC_URL and COLLECTION_NAME are required for the qdrant backend")
		}
	case BackendPgvector:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the pgvector backend")
		}
	case BackendMemory:
		if c.MemoryIndexFile == "" {
			problems = append(problems, "MEMORY_INDEX_FILE is required for the memory backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_BACKEND %q", c.VectorBackend))
	}

	if c.RetrievalK <= 0 || c.RerankK <= 0 {
		problems = append(problems, "RETRIEVAL_K and RERANK_K must be positive")
	}
	if c.RerankK > c.RetrievalK {
		problems = append(problems, "RERANK_K must not exceed RETRIEVAL_K")
	}
	if c.HistoryTurns < 0 {
		problems = append(problems, "HISTORY_TURNS must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// ResolvedLLMBaseURL returns the OpenAI-compatible base URL for the configured provider.
func (c *Config) ResolvedLLMBaseURL() string {
	if c.LLMBaseURL != "" {
		return c.LLMBaseURL
	}
	if c.LLMProvider == ProviderGroq {
		return GroqBaseURL
	}
	return ""
}
