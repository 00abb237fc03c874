package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// MockDocumentStore is a mock implementation of DocumentStore for testing
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	byHash    map[string]string
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
		byHash:    make(map[string]string),
	}
}

func (m *MockDocumentStore) CreateIfAbsent(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byHash[doc.ContentHash]; ok {
		return cloneDocument(m.documents[id]), false, nil
	}
	if doc.ID == "" {
		doc.ID = domain.GenerateID()
	}
	stored := cloneDocument(doc)
	m.documents[doc.ID] = stored
	m.byHash[doc.ContentHash] = doc.ID
	return cloneDocument(stored), true, nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (m *MockDocumentStore) GetByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[contentHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDocument(m.documents[id]), nil
}

func (m *MockDocumentStore) List(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, d := range m.documents {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		if filter.Manufacturer != "" && !strings.EqualFold(d.Manufacturer, filter.Manufacturer) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !d.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, cloneDocument(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !filter.UpdatedBefore.IsZero() && !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (m *MockDocumentStore) UpdateProgress(ctx context.Context, id string, pass int, status domain.DocumentStatus, progress int, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if doc.Pass != pass || doc.Status == domain.DocumentStatusFailed {
		return false, nil
	}
	doc.Status = status
	doc.Progress = progress
	doc.Error = errMsg
	doc.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockDocumentStore) RecordExtraction(ctx context.Context, id string, pages int, textLocator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.PageCount = pages
	doc.TextLocator = textLocator
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) StartPass(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	doc.Pass++
	doc.Status = domain.DocumentStatusPending
	doc.Progress = 0
	doc.Error = ""
	doc.UpdatedAt = time.Now()
	return cloneDocument(doc), nil
}

func (m *MockDocumentStore) Supersede(ctx context.Context, newID, oldID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	newDoc, ok := m.documents[newID]
	if !ok {
		return domain.ErrNotFound
	}
	oldDoc, ok := m.documents[oldID]
	if !ok {
		return domain.ErrNotFound
	}
	newDoc.Supersedes = oldID
	oldDoc.SupersededBy = newID
	return nil
}

func (m *MockDocumentStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents), nil
}

// Helper methods for testing

// Put stores a document directly, bypassing hash checks.
func (m *MockDocumentStore) Put(doc *domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = cloneDocument(doc)
	m.byHash[doc.ContentHash] = doc.ID
}

func (m *MockDocumentStore) snapshot() map[string]*domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.Document, len(m.documents))
	for id, d := range m.documents {
		out[id] = cloneDocument(d)
	}
	return out
}

func cloneDocument(d *domain.Document) *domain.Document {
	c := *d
	c.Products = append([]string(nil), d.Products...)
	return &c
}
