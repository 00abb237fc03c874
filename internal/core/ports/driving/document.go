package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// DocumentService is what operators and uploaders use to follow and steer
// document processing
type DocumentService interface {
	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// List retrieves documents matching the filter
	List(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error)

	// Chunks retrieves the chunks of a document ordered by index
	Chunks(ctx context.Context, id string) ([]*domain.Chunk, error)

	// Status reports progress, chunk counts and per-stage task counts
	Status(ctx context.Context, id string) (*domain.DocumentStatusReport, error)

	// Cancel fails every non-terminal task of the document and the
	// document itself. It returns the number of cancelled tasks.
	Cancel(ctx context.Context, id, reason string) (int, error)

	// Reprocess starts a new processing pass from text extraction
	Reprocess(ctx context.Context, id string) (*domain.Document, error)

	// Supersede records newID as the replacement of oldID
	Supersede(ctx context.Context, newID, oldID string) error

	// Count returns the total number of documents
	Count(ctx context.Context) (int, error)
}

// TaskProcessor runs pipeline tasks on behalf of the worker
type TaskProcessor interface {
	// Process runs the stage handler for the task
	Process(ctx context.Context, task *domain.Task) error

	// TaskCompleted is called after a task was acknowledged
	TaskCompleted(ctx context.Context, task *domain.Task) error

	// TaskFailed is called after a task was dead-lettered
	TaskFailed(ctx context.Context, task *domain.Task) error
}
