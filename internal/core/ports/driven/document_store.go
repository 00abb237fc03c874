package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// DocumentStore handles document persistence (PostgreSQL)
type DocumentStore interface {
	// CreateIfAbsent inserts doc unless a document with the same content
	// hash exists. It returns the stored document and whether it was created.
	// Concurrent calls with the same hash create exactly one row.
	CreateIfAbsent(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error)

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetByHash retrieves a document by content hash
	GetByHash(ctx context.Context, contentHash string) (*domain.Document, error)

	// List retrieves documents matching the filter, newest first
	List(ctx context.Context, filter DocumentFilter) ([]*domain.Document, error)

	// UpdateProgress sets status, progress and error for the given pass. It
	// only applies while the document is still on that pass and not failed,
	// and reports whether the row changed.
	UpdateProgress(ctx context.Context, id string, pass int, status domain.DocumentStatus, progress int, errMsg string) (bool, error)

	// RecordExtraction stores the page count and the locator of the
	// extracted text
	RecordExtraction(ctx context.Context, id string, pages int, textLocator string) error

	// StartPass increments the document's pass and resets it to pending
	StartPass(ctx context.Context, id string) (*domain.Document, error)

	// Supersede links newID as the replacement of oldID
	Supersede(ctx context.Context, newID, oldID string) error

	// Count returns total document count
	Count(ctx context.Context) (int, error)
}

// DocumentFilter specifies criteria for listing documents
type DocumentFilter struct {
	Status       domain.DocumentStatus
	Type         domain.DocumentType
	Manufacturer string

	// UpdatedBefore keeps documents last updated before this time and
	// orders the result oldest update first
	UpdatedBefore time.Time

	Limit  int
	Offset int
}

// ChunkStore handles chunk persistence (PostgreSQL)
type ChunkStore interface {
	// ReplaceChunks writes the chunks of one processing pass. Rows are keyed
	// by (document, index, fingerprint): existing rows keep their ID and are
	// reset to pending, new ones are inserted and rows of the document not in
	// chunks are removed. Chunk IDs are set to the stored IDs. It returns the
	// number of inserted rows. Two chunks with the same index fail with
	// domain.ErrDuplicateChunk.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) (int, error)

	// Get retrieves a chunk by ID
	Get(ctx context.Context, id string) (*domain.Chunk, error)

	// ListByDocument retrieves all chunks for a document ordered by index
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)

	// UpdateSignals stores the extraction results of a chunk
	UpdateSignals(ctx context.Context, id string, rawCodes, normalizedCodes, partNumbers []string) error

	// UpdateStatus sets a chunk's processing status and error
	UpdateStatus(ctx context.Context, id string, status domain.ChunkStatus, errMsg string) error

	// SetEmbeddingStatus records whether the chunk has a vector
	SetEmbeddingStatus(ctx context.Context, id string, status domain.EmbeddingStatus) error

	// CompleteDocument marks every chunk of a document that has not failed
	// as completed and returns how many were updated
	CompleteDocument(ctx context.Context, documentID string) (int, error)
}

// EmbeddingStore handles vector persistence (pgvector)
type EmbeddingStore interface {
	// Upsert stores an embedding, replacing any previous vector for the same
	// (chunk, model) pair
	Upsert(ctx context.Context, embedding *domain.Embedding) error

	// Get retrieves the vector of a chunk for a model
	Get(ctx context.Context, chunkID, model string) (*domain.Embedding, error)
}

// ErrorCodeStore handles manufacturer error code knowledge
type ErrorCodeStore interface {
	// Upsert creates or merges an entry keyed by (manufacturer, code).
	// Alternative forms are unioned and empty fields never overwrite.
	Upsert(ctx context.Context, entry *domain.ErrorCodeEntry) (*domain.ErrorCodeEntry, error)

	// FindByNormalized returns entries with the given normalized code. An
	// empty manufacturer matches every manufacturer.
	FindByNormalized(ctx context.Context, manufacturer, normalizedCode string) ([]*domain.ErrorCodeEntry, error)

	// List returns the entries of a manufacturer ordered by code
	List(ctx context.Context, manufacturer string, limit, offset int) ([]*domain.ErrorCodeEntry, error)
}
