// Package queuetest is a behavioural test suite shared by every TaskQueue
// implementation.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Factory returns an empty queue configured with opts.
type Factory func(t *testing.T, opts driven.QueueOptions) driven.TaskQueue

// Options are short enough for the suite to wait out backoffs and leases.
func Options() driven.QueueOptions {
	return driven.QueueOptions{
		Lease:        100 * time.Millisecond,
		Backoff:      domain.BackoffPolicy{Initial: 20 * time.Millisecond, Multiplier: 2, Max: 100 * time.Millisecond},
		PollInterval: 20 * time.Millisecond,
	}
}

// Run executes the suite against queues built by newQueue.
func Run(t *testing.T, newQueue Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, q driven.TaskQueue)
	}{
		{"EnqueueIsIdempotent", testEnqueueIdempotent},
		{"PriorityThenFIFO", testPriorityOrder},
		{"AckRequiresClaim", testAckRequiresClaim},
		{"RetryThenDeadLetter", testRetryThenDeadLetter},
		{"ReclaimExpiredLease", testReclaimExpired},
		{"CancelDocument", testCancelDocument},
		{"StageCounts", testStageCounts},
		{"DequeueWithTimeout", testDequeueWithTimeout},
		{"PurgeKeepsFailed", testPurge},
		{"PurgeKeepsRunningPass", testPurgeKeepsRunningPass},
		{"ExclusiveClaims", testExclusiveClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(t, Options())
			t.Cleanup(func() { _ = q.Close() })
			tt.fn(t, q)
		})
	}
}

func newTask(docID string, taskType domain.TaskType, target string, priority int, created time.Time) *domain.Task {
	t := domain.NewTask(taskType, docID, target, 1)
	t.Priority = priority
	t.CreatedAt = created
	t.ScheduledFor = created
	return t
}

func testEnqueueIdempotent(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	task := domain.NewTask(domain.TaskTypeExtractText, "doc-1", "", 1)

	ok, err := q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.True(t, ok)

	again := domain.NewTask(domain.TaskTypeExtractText, "doc-1", "", 1)
	ok, err = q.Enqueue(ctx, again)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := q.EnqueueBatch(ctx, []*domain.Task{
		domain.NewTask(domain.TaskTypeExtractText, "doc-1", "", 1),
		domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1),
		domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.PendingCount)
}

func testPriorityOrder(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	a := newTask("doc-a", domain.TaskTypeExtractText, "", 5, base)
	b := newTask("doc-b", domain.TaskTypeExtractText, "", 1, base.Add(2*time.Second))
	c := newTask("doc-c", domain.TaskTypeExtractText, "", 5, base.Add(time.Second))
	for _, task := range []*domain.Task{a, b, c} {
		_, err := q.Enqueue(ctx, task)
		require.NoError(t, err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		order = append(order, task.DocumentID)
	}
	assert.Equal(t, []string{"doc-b", "doc-a", "doc-c"}, order)

	task, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func testAckRequiresClaim(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1))
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
	assert.Equal(t, "w1", task.ClaimedBy)
	assert.Equal(t, 1, task.Attempts)
	require.NotNil(t, task.LeaseExpiresAt)

	err = q.Ack(ctx, task.ID, "w2")
	assert.True(t, errors.Is(err, domain.ErrTaskNotClaimed), "got %v", err)

	require.NoError(t, q.Ack(ctx, task.ID, "w1"))
	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)

	err = q.Ack(ctx, task.ID, "w1")
	assert.True(t, errors.Is(err, domain.ErrTaskNotClaimed), "got %v", err)
}

func testRetryThenDeadLetter(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	task := domain.NewTask(domain.TaskTypeEmbed, "doc-1", "chunk-1", 1)
	task.MaxAttempts = 2
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)

	claimed, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	failed, err := q.Nack(ctx, claimed.ID, "w1", "embedding timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetry, failed.Status)
	assert.Equal(t, "embedding timeout", failed.Error)
	assert.True(t, failed.ScheduledFor.After(time.Now().Add(-time.Second)))

	none, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none, "retry tasks are not claimable")

	require.Eventually(t, func() bool {
		n, err := q.PromoteRetries(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	claimed, err = q.Dequeue(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 2, claimed.Attempts)

	failed, err = q.Nack(ctx, claimed.ID, "w2", "embedding timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)
	assert.Equal(t, failed.MaxAttempts, failed.Attempts)

	none, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none, "dead-lettered tasks are never claimed")

	dead, err := q.ListTasks(ctx, driven.TaskFilter{Status: domain.TaskStatusFailed})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, claimed.ID, dead[0].ID)
}

func testReclaimExpired(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1))
	require.NoError(t, err)

	claimed, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reclaimed, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "lease still valid")

	time.Sleep(Options().Lease + 50*time.Millisecond)
	reclaimed, err = q.ReclaimExpired(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, domain.TaskStatusRetry, reclaimed[0].Status)

	err = q.Ack(ctx, claimed.ID, "w1")
	assert.True(t, errors.Is(err, domain.ErrTaskNotClaimed), "got %v", err)
}

func testCancelDocument(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	_, err := q.EnqueueBatch(ctx, []*domain.Task{
		domain.NewTask(domain.TaskTypeExtractSignals, "doc-a", "c1", 1),
		domain.NewTask(domain.TaskTypeExtractSignals, "doc-a", "c2", 1),
		domain.NewTask(domain.TaskTypeExtractSignals, "doc-b", "c3", 1),
	})
	require.NoError(t, err)

	claimed, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "doc-a", claimed.DocumentID)

	n, err := q.CancelDocument(ctx, "doc-a", "cancelled by operator")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = q.Ack(ctx, claimed.ID, "w1")
	assert.True(t, errors.Is(err, domain.ErrTaskNotClaimed), "got %v", err)

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{DocumentID: "doc-a"})
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskStatusFailed, task.Status)
		assert.Equal(t, "cancelled by operator", task.Error)
	}

	next, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "doc-b", next.DocumentID)
}

func testStageCounts(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	var tasks []*domain.Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, domain.NewTask(domain.TaskTypeEmbed, "doc-1", fmt.Sprintf("c%d", i), 1))
	}
	tasks = append(tasks, domain.NewTask(domain.TaskTypeEmbed, "doc-1", "c0", 2))
	_, err := q.EnqueueBatch(ctx, tasks)
	require.NoError(t, err)

	claimed, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, claimed.ID, "w1"))
	_, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	counts, err := q.StageCounts(ctx, "doc-1", 1, domain.TaskTypeEmbed)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Processing)
	assert.Equal(t, 1, counts.Pending)
	assert.False(t, counts.Settled())

	counts, err = q.StageCounts(ctx, "doc-1", 1, domain.TaskTypeIndex)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
}

func testDequeueWithTimeout(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()

	start := time.Now()
	task, err := q.DequeueWithTimeout(ctx, "w1", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), domain.NewTask(domain.TaskTypeIndex, "doc-1", "", 1))
	}()
	start = time.Now()
	task, err = q.DequeueWithTimeout(ctx, "w1", 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Less(t, time.Since(start), 2*time.Second)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.DequeueWithTimeout(cctx, "w1", time.Second)
	assert.Error(t, err)
}

func testPurge(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	done := domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1)
	dead := domain.NewTask(domain.TaskTypeChunk, "doc-2", "", 1)
	dead.MaxAttempts = 1
	_, err := q.EnqueueBatch(ctx, []*domain.Task{done, dead})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		task, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		if task.DocumentID == "doc-1" {
			require.NoError(t, q.Ack(ctx, task.ID, "w1"))
		} else {
			_, err := q.Nack(ctx, task.ID, "w1", "bad input")
			require.NoError(t, err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	n, err := q.PurgeTasks(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.FailedCount)
}

func testPurgeKeepsRunningPass(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	running := domain.NewTask(domain.TaskTypeExtractText, "doc-1", "", 1)
	settled := domain.NewTask(domain.TaskTypeExtractText, "doc-2", "", 1)
	_, err := q.EnqueueBatch(ctx, []*domain.Task{running, settled})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		task, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, q.Ack(ctx, task.ID, "w1"))
	}

	// doc-1 has moved on to its next stage
	_, err = q.Enqueue(ctx, domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n, err := q.PurgeTasks(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := q.GetTask(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, kept.Status)
	_, err = q.GetTask(ctx, settled.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	counts, err := q.StageCounts(ctx, "doc-1", 1, domain.TaskTypeExtractText)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Completed)
}

func testExclusiveClaims(t *testing.T, q driven.TaskQueue) {
	ctx := context.Background()
	const total = 40
	var tasks []*domain.Task
	for i := 0; i < total; i++ {
		tasks = append(tasks, domain.NewTask(domain.TaskTypeEmbed, "doc-1", fmt.Sprintf("c%d", i), 1))
	}
	n, err := q.EnqueueBatch(ctx, tasks)
	require.NoError(t, err)
	require.Equal(t, total, n)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx, worker)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
				_ = q.Ack(ctx, task.ID, worker)
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s claimed %d times", id, count)
	}
}
