package domain

import "sync"

// RuntimeConfig tracks which backends and providers are in use.
// The queue backend is fixed at startup; embedding availability can change
// when the provider is swapped at runtime.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend string // "redis" or "postgres"

	// Dynamic capability flags
	embeddingAvailable bool
	embeddingModel     string
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend: queueBackend,
	}
}

// EmbeddingAvailable returns whether an embedding provider is configured
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// EmbeddingModel returns the active model identifier, empty when none
func (c *RuntimeConfig) EmbeddingModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingModel
}

// SetEmbedding records the active embedding model. An empty model marks
// embedding unavailable.
func (c *RuntimeConfig) SetEmbedding(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingModel = model
	c.embeddingAvailable = model != ""
}

// CanDoVectorSearch returns true if query vectors can be computed
func (c *RuntimeConfig) CanDoVectorSearch() bool {
	return c.EmbeddingAvailable()
}
