package services

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Ensure taskService implements TaskService
var _ driving.TaskService = (*taskService)(nil)

type taskService struct {
	queue driven.TaskQueue
}

// NewTaskService creates the operator view of the queue
func NewTaskService(queue driven.TaskQueue) driving.TaskService {
	return &taskService{queue: queue}
}

func (s *taskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.queue.GetTask(ctx, id)
}

func (s *taskService) List(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.queue.ListTasks(ctx, filter)
}

func (s *taskService) Stats(ctx context.Context) (*driven.QueueStats, error) {
	return s.queue.Stats(ctx)
}
