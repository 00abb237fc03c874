package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// CandidateQuery describes what a search needs from the candidate store.
type CandidateQuery struct {
	// Text is the raw query
	Text string

	// NormalizedCode is the query passed through code normalization
	NormalizedCode string

	// Vector is the query embedding, nil when unavailable
	Vector []float32

	// Model selects which chunk embeddings to return with candidates
	Model string

	// Filters are hard predicates applied by the store
	Filters domain.SearchFilters

	// Limit bounds the number of candidates per retrieval path
	Limit int
}

// CandidateStore retrieves scorable candidates for a query. It applies the
// filters and returns only chunks of searchable documents and their error
// code entries. Candidates carry their embedding for Model when one exists.
// Final scoring happens in the ranker; the store only narrows the set.
type CandidateStore interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]*domain.Candidate, error)
}

// BlobStore is the content-addressed store for original file bytes.
type BlobStore interface {
	// Put stores data under key and returns its locator. Storing the same
	// key twice is not an error.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get returns the bytes at locator
	Get(ctx context.Context, locator string) ([]byte, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
}
