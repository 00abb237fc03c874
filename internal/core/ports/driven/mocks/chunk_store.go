package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// MockChunkStore is a mock implementation of ChunkStore for testing
type MockChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]*domain.Chunk
}

// NewMockChunkStore creates a new MockChunkStore
func NewMockChunkStore() *MockChunkStore {
	return &MockChunkStore{
		chunks: make(map[string]*domain.Chunk),
	}
}

func chunkKey(c *domain.Chunk) string {
	return fmt.Sprintf("%d|%s", c.Index, c.Fingerprint)
}

func (m *MockChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seenIndex := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if seenIndex[c.Index] {
			return 0, fmt.Errorf("%w: index %d", domain.ErrDuplicateChunk, c.Index)
		}
		seenIndex[c.Index] = true
	}

	existing := make(map[string]*domain.Chunk)
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			existing[chunkKey(c)] = c
		}
	}

	now := time.Now()
	keep := make(map[string]bool, len(chunks))
	inserted := 0
	for _, c := range chunks {
		c.DocumentID = documentID
		key := chunkKey(c)
		keep[key] = true
		if old, ok := existing[key]; ok {
			c.ID = old.ID
			old.Status = domain.ChunkStatusPending
			old.Error = ""
			old.UpdatedAt = now
			continue
		}
		if c.ID == "" {
			c.ID = domain.GenerateID()
		}
		m.chunks[c.ID] = cloneChunk(c)
		inserted++
	}
	for key, old := range existing {
		if !keep[key] {
			delete(m.chunks, old.ID)
		}
	}
	return inserted, nil
}

func (m *MockChunkStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneChunk(c), nil
}

func (m *MockChunkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Chunk{}
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, cloneChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MockChunkStore) UpdateSignals(ctx context.Context, id string, rawCodes, normalizedCodes, partNumbers []string) error {
	return m.update(id, func(c *domain.Chunk) {
		c.ErrorCodes = append([]string{}, rawCodes...)
		c.NormalizedCodes = append([]string{}, normalizedCodes...)
		c.PartNumbers = append([]string{}, partNumbers...)
	})
}

func (m *MockChunkStore) UpdateStatus(ctx context.Context, id string, status domain.ChunkStatus, errMsg string) error {
	return m.update(id, func(c *domain.Chunk) {
		c.Status = status
		c.Error = errMsg
	})
}

func (m *MockChunkStore) SetEmbeddingStatus(ctx context.Context, id string, status domain.EmbeddingStatus) error {
	return m.update(id, func(c *domain.Chunk) {
		c.EmbeddingStatus = status
	})
}

func (m *MockChunkStore) update(id string, fn func(c *domain.Chunk)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MockChunkStore) CompleteDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chunks {
		if c.DocumentID == documentID && c.Status != domain.ChunkStatusFailed {
			c.Status = domain.ChunkStatusCompleted
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored chunks.
func (m *MockChunkStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func (m *MockChunkStore) all() []*domain.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, cloneChunk(c))
	}
	return out
}

func cloneChunk(c *domain.Chunk) *domain.Chunk {
	out := *c
	out.ErrorCodes = append([]string(nil), c.ErrorCodes...)
	out.NormalizedCodes = append([]string(nil), c.NormalizedCodes...)
	out.PartNumbers = append([]string(nil), c.PartNumbers...)
	return &out
}

// MockEmbeddingStore is a mock implementation of EmbeddingStore for testing
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[string]*domain.Embedding
}

// NewMockEmbeddingStore creates a new MockEmbeddingStore
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{embeddings: make(map[string]*domain.Embedding)}
}

func (m *MockEmbeddingStore) Upsert(ctx context.Context, e *domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	c.Vector = append([]float32(nil), e.Vector...)
	m.embeddings[e.ChunkID+"|"+e.Model] = &c
	return nil
}

func (m *MockEmbeddingStore) Get(ctx context.Context, chunkID, model string) (*domain.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.embeddings[chunkID+"|"+model]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *e
	c.Vector = append([]float32(nil), e.Vector...)
	return &c, nil
}

// Count returns the number of stored embeddings.
func (m *MockEmbeddingStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings)
}

// MockErrorCodeStore is a mock implementation of ErrorCodeStore for testing.
// Entries are keyed by lower-cased manufacturer and normalized code.
type MockErrorCodeStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.ErrorCodeEntry
}

// NewMockErrorCodeStore creates a new MockErrorCodeStore
func NewMockErrorCodeStore() *MockErrorCodeStore {
	return &MockErrorCodeStore{entries: make(map[string]*domain.ErrorCodeEntry)}
}

func entryKey(manufacturer, normalized string) string {
	return strings.ToLower(manufacturer) + "|" + normalized
}

func (m *MockErrorCodeStore) Upsert(ctx context.Context, e *domain.ErrorCodeEntry) (*domain.ErrorCodeEntry, error) {
	if e.NormalizedCode == "" {
		e.NormalizedCode = normalize.Code(e.Code)
	}
	if e.NormalizedCode == "" {
		return nil, fmt.Errorf("%w: empty error code", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey(e.Manufacturer, e.NormalizedCode)
	now := time.Now()
	cur, ok := m.entries[key]
	if !ok {
		stored := cloneEntry(e)
		if stored.ID == "" {
			stored.ID = domain.GenerateID()
		}
		stored.Severity = stored.Severity.Clamp()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		m.entries[key] = stored
		return cloneEntry(stored), nil
	}

	cur.MergeForms(e.Code)
	cur.MergeForms(e.AlternativeForms...)
	if e.Description != "" {
		cur.Description = e.Description
	}
	if e.Remediation != "" {
		cur.Remediation = e.Remediation
	}
	if e.Severity != 0 {
		cur.Severity = e.Severity.Clamp()
	}
	if e.SourceDocumentID != "" {
		cur.SourceDocumentID = e.SourceDocumentID
	}
	if e.SourceChunkID != "" {
		cur.SourceChunkID = e.SourceChunkID
	}
	cur.UpdatedAt = now
	return cloneEntry(cur), nil
}

func (m *MockErrorCodeStore) FindByNormalized(ctx context.Context, manufacturer, normalizedCode string) ([]*domain.ErrorCodeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.ErrorCodeEntry{}
	for _, e := range m.entries {
		if e.NormalizedCode != normalizedCode {
			continue
		}
		if manufacturer != "" && !strings.EqualFold(e.Manufacturer, manufacturer) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manufacturer < out[j].Manufacturer })
	return out, nil
}

func (m *MockErrorCodeStore) List(ctx context.Context, manufacturer string, limit, offset int) ([]*domain.ErrorCodeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.ErrorCodeEntry{}
	for _, e := range m.entries {
		if manufacturer != "" && !strings.EqualFold(e.Manufacturer, manufacturer) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return paginate(out, offset, limit), nil
}

func (m *MockErrorCodeStore) all() []*domain.ErrorCodeEntry {
	list, _ := m.List(context.Background(), "", 0, 0)
	return list
}

func cloneEntry(e *domain.ErrorCodeEntry) *domain.ErrorCodeEntry {
	c := *e
	c.AlternativeForms = append([]string(nil), e.AlternativeForms...)
	return &c
}
