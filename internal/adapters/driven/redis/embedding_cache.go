package redis

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

const embeddingPrefix = "sercha-ingest:qvec:"

// EmbeddingCache implements driven.EmbeddingCache with Redis strings that
// expire through the key TTL. Vectors are stored as little-endian float32.
type EmbeddingCache struct {
	client redis.UniversalClient
}

// NewEmbeddingCache creates a new Redis-backed EmbeddingCache
func NewEmbeddingCache(client redis.UniversalClient) *EmbeddingCache {
	return &EmbeddingCache{client: client}
}

// cacheKey hashes the text so arbitrary queries make bounded keys
func cacheKey(model, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return embeddingPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (model, text)
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached vector: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, false, fmt.Errorf("cached vector has %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true, nil
}

// Set stores the vector for ttl
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vector []float32, ttl time.Duration) error {
	data := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	if err := c.client.Set(ctx, cacheKey(model, text), data, ttl).Err(); err != nil {
		return fmt.Errorf("set cached vector: %w", err)
	}
	return nil
}
