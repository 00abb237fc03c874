package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// TaskQueue is the durable store of pipeline tasks and their state machine.
// Implementations can use Postgres (SKIP LOCKED claims) or Redis (Lua scripts).
type TaskQueue interface {
	// Enqueue adds a task. It is idempotent on DedupKey: when a task with the
	// same key already exists nothing is written and false is returned.
	Enqueue(ctx context.Context, task *domain.Task) (bool, error)

	// EnqueueBatch adds multiple tasks atomically, skipping duplicate keys.
	// It returns the number of tasks actually inserted.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) (int, error)

	// Dequeue atomically claims the next ready task for workerID: the lowest
	// priority value first, oldest first among equal priorities. The claim
	// sets processing, the worker identity, a lease and increments attempts.
	// Returns nil, nil when no task is ready.
	Dequeue(ctx context.Context, workerID string) (*domain.Task, error)

	// DequeueWithTimeout is Dequeue that waits up to timeout for a task to
	// become ready, without busy polling. Returns nil, nil on timeout.
	DequeueWithTimeout(ctx context.Context, workerID string, timeout time.Duration) (*domain.Task, error)

	// Ack marks a task completed. It fails with domain.ErrTaskNotClaimed if
	// workerID no longer holds the claim.
	Ack(ctx context.Context, taskID, workerID string) error

	// Nack records a failed attempt. The task moves to retry with a backoff
	// delay, or to failed once attempts reach max attempts. The updated task
	// is returned. Fails with domain.ErrTaskNotClaimed like Ack.
	Nack(ctx context.Context, taskID, workerID, reason string) (*domain.Task, error)

	// PromoteRetries moves retry tasks whose backoff has elapsed back to
	// pending and returns how many were promoted.
	PromoteRetries(ctx context.Context) (int, error)

	// ReclaimExpired treats every processing task whose lease has expired as
	// a failed attempt and returns the tasks it changed.
	ReclaimExpired(ctx context.Context) ([]*domain.Task, error)

	// CancelDocument marks every non-terminal task of a document failed with
	// the given reason and returns how many were cancelled.
	CancelDocument(ctx context.Context, documentID, reason string) (int, error)

	// StageCounts tallies the tasks of one stage of one document pass by status.
	StageCounts(ctx context.Context, documentID string, pass int, taskType domain.TaskType) (domain.StageCounts, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ListTasks retrieves tasks matching the filter, newest first.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// PurgeTasks removes completed tasks older than the given age. Tasks of
	// a document pass that still has pending, processing or retry tasks are
	// kept, as are failed tasks, which stay for inspection.
	PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// TaskFilter specifies criteria for listing tasks
type TaskFilter struct {
	// DocumentID filters by owning document (optional)
	DocumentID string

	// Status filters by task status (optional, empty means all)
	Status domain.TaskStatus

	// Type filters by task type (optional, empty means all)
	Type domain.TaskType

	// Limit is the maximum number of tasks to return
	Limit int

	// Offset is the number of tasks to skip (for pagination)
	Offset int
}

// QueueStats contains queue statistics
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	RetryCount      int64 `json:"retry_count"`
	CompletedCount  int64 `json:"completed_count"`

	// FailedCount is the number of dead-lettered tasks
	FailedCount int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest pending task in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`
}

// QueueOptions are the claim and retry parameters shared by queue implementations.
type QueueOptions struct {
	// Lease is how long a claim is held before it is considered abandoned
	Lease time.Duration

	// Backoff computes the delay before a failed task is retried
	Backoff domain.BackoffPolicy

	// PollInterval bounds how long a waiting dequeue sleeps between claims
	PollInterval time.Duration
}

// DefaultQueueOptions returns a five minute lease, the default backoff and a one second poll.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		Lease:        5 * time.Minute,
		Backoff:      domain.DefaultBackoffPolicy(),
		PollInterval: time.Second,
	}
}
