package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure OllamaEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*OllamaEmbedding)(nil)

// OllamaEmbedding implements EmbeddingService against a local Ollama server
type OllamaEmbedding struct {
	model      string
	baseURL    string
	dimensions int
	batchSize  int
	client     *apiClient
}

var ollamaModelDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
}

// NewOllamaEmbedding creates an Ollama embedding service. The dimension of
// unknown models must be configured.
func NewOllamaEmbedding(cfg Config) (*OllamaEmbedding, error) {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		var ok bool
		if dimensions, ok = ollamaModelDimensions[cfg.Model]; !ok {
			return nil, fmt.Errorf("dimensions of ollama model %q must be configured", cfg.Model)
		}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	return &OllamaEmbedding{
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		dimensions: dimensions,
		batchSize:  batchSize,
		client:     newAPIClient(cfg, nil),
	}, nil
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates embeddings for multiple texts
func (e *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.batchSize) {
		var resp ollamaResponse
		if err := e.client.postJSON(ctx, e.baseURL+"/api/embed", ollamaRequest{Model: e.model, Input: batch}, &resp); err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("ollama embeddings: %s", resp.Error)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("ollama embeddings: got %d vectors for %d inputs", len(resp.Embeddings), len(batch))
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a search query
func (e *OllamaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OllamaEmbedding) Dimensions() int { return e.dimensions }
func (e *OllamaEmbedding) Model() string   { return e.model }

// HealthCheck embeds a short probe text
func (e *OllamaEmbedding) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

func (e *OllamaEmbedding) Close() error {
	e.client.close()
	return nil
}
