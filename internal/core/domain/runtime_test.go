package domain

import (
	"testing"
)

func TestNewRuntimeConfig(t *testing.T) {
	config := NewRuntimeConfig("postgres")

	if config == nil {
		t.Fatal("expected non-nil config")
	}
	if config.QueueBackend != "postgres" {
		t.Errorf("expected postgres, got %s", config.QueueBackend)
	}
	if config.EmbeddingAvailable() {
		t.Error("expected embedding to be unavailable initially")
	}
	if config.EmbeddingModel() != "" {
		t.Errorf("expected no model, got %q", config.EmbeddingModel())
	}
}

func TestRuntimeConfig_SetEmbedding(t *testing.T) {
	config := NewRuntimeConfig("redis")

	config.SetEmbedding("text-embedding-3-small")
	if !config.EmbeddingAvailable() {
		t.Error("expected embedding to be available after setting")
	}
	if !config.CanDoVectorSearch() {
		t.Error("expected vector search to be possible")
	}
	if config.EmbeddingModel() != "text-embedding-3-small" {
		t.Errorf("unexpected model %q", config.EmbeddingModel())
	}

	config.SetEmbedding("")
	if config.EmbeddingAvailable() {
		t.Error("expected embedding to be unavailable after clearing")
	}
}
