package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// TaskService exposes the queue for operator inspection
type TaskService interface {
	// Get retrieves a task by ID
	Get(ctx context.Context, id string) (*domain.Task, error)

	// List retrieves tasks matching the filter, newest first. Filtering by
	// failed status lists the dead letters.
	List(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error)

	// Stats returns queue statistics
	Stats(ctx context.Context) (*driven.QueueStats, error)
}
