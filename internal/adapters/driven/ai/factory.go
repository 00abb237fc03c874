package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Supported embedding providers
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and tunes the embedding provider
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string

	// Dimensions overrides the model's known vector size
	Dimensions int

	// RequestsPerSecond and Burst bound outgoing provider calls; zero disables the limit
	RequestsPerSecond float64
	Burst             int

	// BatchSize is the maximum number of texts per request
	BatchSize int

	// MaxRetries is how often a 429 or 5xx response is retried
	MaxRetries int

	Timeout time.Duration
}

// NewEmbeddingService builds the configured provider. It returns nil, nil
// when embeddings are disabled, in which case chunks are indexed without vectors.
func NewEmbeddingService(cfg Config) (driven.EmbeddingService, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		svc, err := NewOpenAIEmbedding(cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ProviderOllama:
		svc, err := NewOllamaEmbedding(cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}
