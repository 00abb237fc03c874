package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// MockCandidateStore serves candidates straight from the mock stores. It
// applies filters and eligibility but does no narrowing by text; the ranker
// decides what is relevant.
type MockCandidateStore struct {
	Documents  *MockDocumentStore
	Chunks     *MockChunkStore
	Embeddings *MockEmbeddingStore
	ErrorCodes *MockErrorCodeStore

	// Err, when set, is returned by Candidates
	Err error
}

// NewMockCandidateStore creates a candidate store over the given mocks.
func NewMockCandidateStore(docs *MockDocumentStore, chunks *MockChunkStore, embeddings *MockEmbeddingStore, codes *MockErrorCodeStore) *MockCandidateStore {
	return &MockCandidateStore{Documents: docs, Chunks: chunks, Embeddings: embeddings, ErrorCodes: codes}
}

func (m *MockCandidateStore) Candidates(ctx context.Context, q driven.CandidateQuery) ([]*domain.Candidate, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	docs := m.Documents.snapshot()
	var out []*domain.Candidate

	for _, c := range m.Chunks.all() {
		doc := docs[c.DocumentID]
		if doc == nil || !doc.Searchable() || c.Status != domain.ChunkStatusCompleted {
			continue
		}
		if !matchesFilters(doc, q.Filters) {
			continue
		}
		cand := &domain.Candidate{Kind: domain.ResultKindChunk, Chunk: c, Document: doc}
		if m.Embeddings != nil && q.Model != "" {
			if e, err := m.Embeddings.Get(ctx, c.ID, q.Model); err == nil {
				cand.Vector = e.Vector
			}
		}
		out = append(out, cand)
	}

	if m.ErrorCodes != nil {
		for _, e := range m.ErrorCodes.all() {
			doc := docs[e.SourceDocumentID]
			if doc == nil || !doc.Searchable() || !matchesFilters(doc, q.Filters) {
				continue
			}
			out = append(out, &domain.Candidate{Kind: domain.ResultKindErrorCode, Entry: e, Document: doc})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func matchesFilters(doc *domain.Document, f domain.SearchFilters) bool {
	if len(f.Manufacturers) > 0 && !containsFold(f.Manufacturers, doc.Manufacturer) {
		return false
	}
	if len(f.DocumentTypes) > 0 {
		ok := false
		for _, t := range f.DocumentTypes {
			if t == doc.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Products) > 0 {
		ok := false
		for _, p := range doc.Products {
			if containsFold(f.Products, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// MockBlobStore is an in-memory BlobStore.
type MockBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	puts  int

	// PutErr, when set, is returned by Put
	PutErr error
}

// NewMockBlobStore creates a new MockBlobStore
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{blobs: make(map[string][]byte)}
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.PutErr != nil {
		return "", m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	locator := "mem://" + key
	m.blobs[locator] = append([]byte(nil), data...)
	return locator, nil
}

func (m *MockBlobStore) Get(ctx context.Context, locator string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[locator]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MockBlobStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored blobs.
func (m *MockBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
