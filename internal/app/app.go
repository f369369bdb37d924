// Package app wires configuration into a ready-to-serve question answering
// service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/knoguchi/cyberrag/internal/config"
	"github.com/knoguchi/cyberrag/internal/embedder"
	"github.com/knoguchi/cyberrag/internal/llm"
	"github.com/knoguchi/cyberrag/internal/memory"
	"github.com/knoguchi/cyberrag/internal/rag"
	"github.com/knoguchi/cyberrag/internal/reranker"
	"github.com/knoguchi/cyberrag/internal/service"
	"github.com/knoguchi/cyberrag/internal/vectorstore"
)

// sessionMaxTurns caps stored turns per session; the pipeline windows further.
const sessionMaxTurns = 50

// App holds the long-lived components built from configuration.
type App struct {
	Service  *service.RAGService
	Index    vectorstore.Index
	Embedder embedder.Embedder
	Scorer   reranker.Scorer
	LLM      llm.LLM
}

// New builds every component and verifies that the embedder and index agree
// on vector dimension. Startup problems wrap config.ErrConfiguration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("initialized embedder", "provider", cfg.EmbeddingProvider, "model", emb.ModelName(), "dimension", emb.Dimension())

	llmClient, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("initialized LLM", "provider", cfg.LLMProvider, "model", llmClient.ModelName())

	index, err := newIndex(ctx, cfg, emb.Dimension())
	if err != nil {
		return nil, err
	}
	logger.Info("connected to vector index", "backend", cfg.VectorBackend)
	if mem, ok := index.(*vectorstore.MemoryStore); ok {
		logger.Info("loaded in-memory index", "file", cfg.MemoryIndexFile, "chunks", mem.Len())
	}

	if err := checkDimension(ctx, index, emb); err != nil {
		index.Close()
		return nil, err
	}

	scorer, err := newScorer(cfg, llmClient, logger)
	if err != nil {
		index.Close()
		return nil, err
	}
	if err := verifyEmbedding(ctx, emb); err != nil {
		index.Close()
		return nil, err
	}

	limited := reranker.NewLimited(scorer, cfg.RerankConcurrency)
	logger.Info("initialized reranker", "provider", cfg.RerankerProvider, "model", scorer.ModelName(), "concurrency", cfg.RerankConcurrency)

	retriever := rag.NewRetriever(emb, index, limited, rag.RetrieverConfig{
		RetrievalK:     cfg.RetrievalK,
		RerankK:        cfg.RerankK,
		DedupThreshold: cfg.DedupThreshold,
		Warmup:         cfg.RerankerProvider == config.RerankerCrossEncoder,
		Logger:         logger,
	})

	completer := rag.NewLLMCompleter(llmClient, 0)
	pipeline := rag.NewPipeline(
		rag.NewRewriter(completer, logger),
		retriever,
		completer,
		rag.WithHistoryTurns(cfg.HistoryTurns),
		rag.WithStageTimeout(cfg.StageTimeout),
		rag.WithLogger(logger),
	)

	svc := service.NewRAGService(pipeline, retriever,
		service.WithMemory(memory.NewStore(sessionMaxTurns, cfg.SessionTTL)),
		service.WithModelName(llmClient.ModelName()),
		service.WithLogger(logger),
	)

	return &App{
		Service:  svc,
		Index:    index,
		Embedder: emb,
		Scorer:   limited,
		LLM:      llmClient,
	}, nil
}

// Ready reports whether the vector index is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.Index.Ping(ctx)
}

// Close releases backend connections.
func (a *App) Close() error {
	return a.Index.Close()
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:   cfg.OllamaURL,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}), nil
	case config.ProviderOpenAI:
		e, err := embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			BaseURL:   cfg.EmbeddingBaseURL,
			APIKey:    cfg.EmbeddingAPIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", config.ErrConfiguration, cfg.EmbeddingProvider)
	}
}

func newLLM(cfg *config.Config) (llm.LLM, error) {
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.LLMModel),
		), nil
	case config.ProviderGroq, config.ProviderOpenAI:
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.ResolvedLLMBaseURL(),
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown LLM_PROVIDER %q", config.ErrConfiguration, cfg.LLMProvider)
	}
}

func newIndex(ctx context.Context, cfg *config.Config, dimension int) (vectorstore.Index, error) {
	switch cfg.VectorBackend {
	case config.BackendMemory:
		store := vectorstore.NewMemoryStore(dimension)
		if cfg.MemoryIndexFile != "" {
			if err := store.LoadFile(cfg.MemoryIndexFile); err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
			}
		}
		return store, nil
	case config.BackendQdrant:
		store, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			URL:        cfg.QdrantGRPCURL,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantAPIKey != "",
			Collection: cfg.CollectionName,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		return store, nil
	case config.BackendPgvector:
		pool, err := vectorstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		store, err := vectorstore.NewPgvectorStore(pool, cfg.PgvectorTable)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown VECTOR_BACKEND %q", config.ErrConfiguration, cfg.VectorBackend)
	}
}

func newScorer(cfg *config.Config, llmClient llm.LLM, logger *slog.Logger) (reranker.Scorer, error) {
	switch cfg.RerankerProvider {
	case config.RerankerCrossEncoder:
		return reranker.NewCrossEncoder(reranker.CrossEncoderConfig{
			BaseURL: cfg.RerankerURL,
			Model:   cfg.RerankerModel,
		}), nil
	case config.RerankerLLM:
		return reranker.NewLLMScorer(llmClient, reranker.WithScorerLogger(logger)), nil
	default:
		return nil, fmt.Errorf("%w: unknown RERANKER_PROVIDER %q", config.ErrConfiguration, cfg.RerankerProvider)
	}
}

// checkDimension fails startup when query vectors could never match the index.
func checkDimension(ctx context.Context, index vectorstore.Index, emb embedder.Embedder) error {
	indexDim, err := index.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading index dimension: %v", config.ErrConfiguration, err)
	}
	if indexDim != emb.Dimension() {
		return fmt.Errorf("%w: %w: index has %d dimensions, embedding model %s produces %d",
			config.ErrConfiguration, embedder.ErrDimensionMismatch, indexDim, emb.ModelName(), emb.Dimension())
	}
	return nil
}

// dimensionCheckText is embedded once at startup.
const dimensionCheckText = "dimension check"

// verifyEmbedding embeds a fixed text and fails startup when the model returns
// vectors of a different size than the configured dimension.
func verifyEmbedding(ctx context.Context, emb embedder.Embedder) error {
	vec, err := emb.Embed(ctx, dimensionCheckText)
	if err != nil {
		return fmt.Errorf("%w: embedding check with %s: %v", config.ErrConfiguration, emb.ModelName(), err)
	}
	if err := embedder.CheckDimension(vec, emb.Dimension()); err != nil {
		return fmt.Errorf("%w: embedding model %s: %w", config.ErrConfiguration, emb.ModelName(), err)
	}
	return nil
}

// IsConfigurationError reports whether err should stop the process at startup.
func IsConfigurationError(err error) bool {
	return errors.Is(err, config.ErrConfiguration)
}
