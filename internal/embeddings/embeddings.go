// Package embeddings turns text into vectors for the project memory store.
//
// The provider speaks the OpenAI embeddings API, which covers both OpenAI
// itself and local TEI (Text Embeddings Inference) deployments. Dimensions
// are fixed by the model and must match the memory collection.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ventureforge/orchestd/internal/logging"
)

var (
	// ErrInvalidConfig indicates missing or malformed configuration.
	ErrInvalidConfig = errors.New("invalid embeddings config")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty input texts")
)

// Config holds the embedding provider settings.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint.
	// TEI: http://localhost:8080/v1, OpenAI: https://api.openai.com/v1
	BaseURL string

	// Model selects the embedding model, e.g. BAAI/bge-small-en-v1.5 (TEI)
	// or text-embedding-3-small (OpenAI).
	Model string

	// APIKey authenticates against OpenAI. Optional for TEI.
	APIKey string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// VectorSize returns the dimension the model produces. Unknown models fall
// back to 384, the bge-small default.
func VectorSize(model string) uint64 {
	switch model {
	case "BAAI/bge-small-en-v1.5", "sentence-transformers/all-MiniLM-L6-v2":
		return 384
	case "BAAI/bge-base-en-v1.5":
		return 768
	case "BAAI/bge-large-en-v1.5":
		return 1024
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 384
	}
}

// Service generates embeddings through a langchaingo embedder.
type Service struct {
	embedder *embeddings.EmbedderImpl
	config   Config
	log      *logging.Logger
}

// NewService creates an embedding service. logger may be nil.
func NewService(cfg Config, logger *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// The client requires a token even when TEI ignores it.
		apiKey = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Service{
		embedder: embedder,
		config:   cfg,
		log:      logger.Named("embeddings"),
	}, nil
}

// EmbedDocuments returns one vector per input text.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	embedDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		embedErrors.Inc()
		return nil, fmt.Errorf("embed documents: %w", err)
	}

	embedTexts.Add(float64(len(texts)))
	return vectors, nil
}

// EmbedQuery returns the vector for a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
