package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"study-rag/internal/config"
	"study-rag/internal/models"
)

const defaultBatchSize = 100

// Service turns chunk text and questions into vectors of one fixed dimension.
type Service struct {
	embedder embeddings.Embedder
	model    string
}

// New builds the embedder for the configured provider.
func New(cfg *config.LLMConfig) (*Service, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return NewEmbedder(cfg)
	}
}

// NewEmbedder creates an OpenAI compatible embedder.
func NewEmbedder(cfg *config.LLMConfig) (*Service, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("Creating OpenAI embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewService(embedder, cfg.Model), nil
}

// NewOllamaEmbedder creates an embedder backed by a local ollama server.
func NewOllamaEmbedder(cfg *config.LLMConfig) (*Service, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewService(embedder, cfg.Model), nil
}

// NewService wraps any langchaingo embedder.
func NewService(embedder embeddings.Embedder, model string) *Service {
	return &Service{embedder: embedder, model: model}
}

func (s *Service) Model() string { return s.model }

// EmbedQuery returns the vector of a question.
// Provider failures are reported as *models.EmbeddingError.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &models.EmbeddingError{Err: err}
	}
	if len(vec) == 0 {
		return nil, &models.EmbeddingError{Err: fmt.Errorf("provider returned an empty vector")}
	}
	return vec, nil
}

// EmbedChunks returns one vector per chunk, in input order.
// Every vector has the same dimension or the whole call fails.
func (s *Service) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, &models.EmbeddingError{Err: err}
	}
	if len(vectors) != len(chunks) {
		return nil, &models.EmbeddingError{Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))}
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, &models.EmbeddingError{Err: fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)}
		}
	}

	log.Debug().Int("chunks", len(chunks)).Int("dimension", dim).Str("model", s.model).Msg("Generated embeddings")
	return vectors, nil
}
