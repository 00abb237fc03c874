package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// MockTaskQueue is an in-memory TaskQueue with the full claim, retry and
// dead-letter state machine. It is safe for concurrent use.
type MockTaskQueue struct {
	mu      sync.Mutex
	opts    driven.QueueOptions
	tasks   map[string]*domain.Task
	seq     map[string]int64
	byKey   map[string]string
	nextSeq int64
	wake    chan struct{}
	now     func() time.Time
	closed  bool

	// EnqueueErr, when set, is returned by Enqueue and EnqueueBatch
	EnqueueErr error
}

// NewMockTaskQueue creates a queue with the default options.
func NewMockTaskQueue() *MockTaskQueue {
	return NewMockTaskQueueWithOptions(driven.DefaultQueueOptions())
}

// NewMockTaskQueueWithOptions creates a queue with custom lease and backoff.
func NewMockTaskQueueWithOptions(opts driven.QueueOptions) *MockTaskQueue {
	return &MockTaskQueue{
		opts:  opts,
		tasks: make(map[string]*domain.Task),
		seq:   make(map[string]int64),
		byKey: make(map[string]string),
		wake:  make(chan struct{}),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for readiness, promotion and lease checks.
func (m *MockTaskQueue) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return false, m.EnqueueErr
	}
	inserted := m.insertLocked(task)
	if inserted {
		m.broadcastLocked()
	}
	return inserted, nil
}

func (m *MockTaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return 0, m.EnqueueErr
	}
	n := 0
	for _, t := range tasks {
		if m.insertLocked(t) {
			n++
		}
	}
	if n > 0 {
		m.broadcastLocked()
	}
	return n, nil
}

func (m *MockTaskQueue) insertLocked(task *domain.Task) bool {
	if task.DedupKey != "" {
		if _, ok := m.byKey[task.DedupKey]; ok {
			return false
		}
	}
	if task.ID == "" {
		task.ID = domain.GenerateID()
	}
	if _, ok := m.tasks[task.ID]; ok {
		return false
	}
	t := cloneTask(task)
	t.Priority = domain.ClampPriority(t.Priority)
	t.Status = domain.TaskStatusPending
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 3
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = t.CreatedAt
	}
	m.nextSeq++
	m.tasks[t.ID] = t
	m.seq[t.ID] = m.nextSeq
	if t.DedupKey != "" {
		m.byKey[t.DedupKey] = t.ID
	}
	return true
}

// broadcastLocked wakes every waiting DequeueWithTimeout.
func (m *MockTaskQueue) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *MockTaskQueue) Dequeue(ctx context.Context, workerID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _ := m.claimLocked(workerID)
	return t, nil
}

func (m *MockTaskQueue) claimLocked(workerID string) (*domain.Task, <-chan struct{}) {
	now := m.now()
	var best *domain.Task
	for _, t := range m.tasks {
		if !t.IsReady(now) {
			continue
		}
		if best == nil || m.before(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, m.wake
	}
	best.MarkProcessing(workerID, m.opts.Lease)
	if best.LeaseExpiresAt != nil {
		expires := now.Add(m.opts.Lease)
		best.LeaseExpiresAt = &expires
	}
	return cloneTask(best), nil
}

// before orders by priority, then creation time, then insertion order.
func (m *MockTaskQueue) before(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return m.seq[a.ID] < m.seq[b.ID]
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, workerID string, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		t, wake := m.claimLocked(workerID)
		m.mu.Unlock()
		if t != nil {
			return t, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := remaining
		if m.opts.PollInterval > 0 && m.opts.PollInterval < wait {
			wait = m.opts.PollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *MockTaskQueue) claimed(taskID, workerID string) (*domain.Task, error) {
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusProcessing || t.ClaimedBy != workerID {
		return nil, domain.ErrTaskNotClaimed
	}
	return t, nil
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.claimed(taskID, workerID)
	if err != nil {
		return err
	}
	t.MarkCompleted()
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID, workerID, reason string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.claimed(taskID, workerID)
	if err != nil {
		return nil, err
	}
	t.Fail(reason, m.opts.Backoff)
	return cloneTask(t), nil
}

func (m *MockTaskQueue) PromoteRetries(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, t := range m.tasks {
		if t.Promote(now) {
			n++
		}
	}
	if n > 0 {
		m.broadcastLocked()
	}
	return n, nil
}

func (m *MockTaskQueue) ReclaimExpired(ctx context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []*domain.Task
	for _, t := range m.sortedLocked() {
		if t.LeaseExpired(now) {
			t.Fail("lease expired", m.opts.Backoff)
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (m *MockTaskQueue) CancelDocument(ctx context.Context, documentID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.DocumentID == documentID && !t.Status.IsTerminal() {
			t.MarkFailed(reason)
			n++
		}
	}
	return n, nil
}

func (m *MockTaskQueue) StageCounts(ctx context.Context, documentID string, pass int, taskType domain.TaskType) (domain.StageCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c domain.StageCounts
	for _, t := range m.tasks {
		if t.DocumentID == documentID && t.Pass == pass && t.Type == taskType {
			c.Add(t.Status, 1)
		}
	}
	return c, nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MockTaskQueue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedLocked()
	var out []*domain.Task
	for i := len(all) - 1; i >= 0; i-- {
		t := all[i]
		if filter.DocumentID != "" && t.DocumentID != filter.DocumentID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (m *MockTaskQueue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-olderThan)
	type passKey struct {
		doc  string
		pass int
	}
	live := make(map[passKey]bool)
	for _, t := range m.tasks {
		if !t.Status.IsTerminal() {
			live[passKey{t.DocumentID, t.Pass}] = true
		}
	}
	n := 0
	for id, t := range m.tasks {
		if live[passKey{t.DocumentID, t.Pass}] {
			continue
		}
		if t.Status == domain.TaskStatusCompleted && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			delete(m.seq, id)
			if m.byKey[t.DedupKey] == id {
				delete(m.byKey, t.DedupKey)
			}
			n++
		}
	}
	return n, nil
}

func (m *MockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	now := m.now()
	for _, t := range m.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
			if age := int64(now.Sub(t.CreatedAt).Seconds()); age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusRetry:
			stats.RetryCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockTaskQueue) Ping(ctx context.Context) error {
	return nil
}

func (m *MockTaskQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper methods for testing

// Tasks returns copies of every task in insertion order.
func (m *MockTaskQueue) Tasks() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedLocked()
	out := make([]*domain.Task, len(all))
	for i, t := range all {
		out[i] = cloneTask(t)
	}
	return out
}

// TasksOfType returns copies of the tasks of one type in insertion order.
func (m *MockTaskQueue) TasksOfType(taskType domain.TaskType) []*domain.Task {
	var out []*domain.Task
	for _, t := range m.Tasks() {
		if t.Type == taskType {
			out = append(out, t)
		}
	}
	return out
}

// ExpireLeases makes every processing lease already expired.
func (m *MockTaskQueue) ExpireLeases() {
	m.mu.Lock()
	defer m.mu.Unlock()
	past := m.now().Add(-time.Second)
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusProcessing {
			t.LeaseExpiresAt = &past
		}
	}
}

func (m *MockTaskQueue) sortedLocked() []*domain.Task {
	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Payload != nil {
		c.Payload = make(map[string]string, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	if t.LeaseExpiresAt != nil {
		v := *t.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
