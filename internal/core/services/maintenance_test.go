package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

func newTestMaintenance(h *pipelineHarness, lock *mocks.MockDistributedLock) *Maintenance {
	cfg := MaintenanceConfig{
		TaskQueue:  h.queue,
		Documents:  h.docs,
		Pipeline:   h.pipeline,
		Interval:   10 * time.Millisecond,
		StallAfter: time.Millisecond,
	}
	if lock != nil {
		cfg.Lock = lock
	}
	return NewMaintenance(cfg)
}

func TestMaintenance_ReclaimedTaskIsRetried(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	task, err := h.queue.Dequeue(ctx, "crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, task)
	h.queue.ExpireLeases()

	report := newTestMaintenance(h, nil).RunOnce(ctx)
	assert.Equal(t, 1, report.Reclaimed)
	assert.Zero(t, report.DeadLettered)

	got, err := h.queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetry, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotEqual(t, domain.DocumentStatusFailed, h.document(t, doc.ID).Status)
}

func TestMaintenance_ReclaimedTaskDeadLetters(t *testing.T) {
	h := newPipelineHarness(t, withMaxAttempts(1))
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	_, err := h.queue.Dequeue(ctx, "crashed-worker")
	require.NoError(t, err)
	h.queue.ExpireLeases()

	report := newTestMaintenance(h, nil).RunOnce(ctx)
	assert.Equal(t, 1, report.Reclaimed)
	assert.Equal(t, 1, report.DeadLettered)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Contains(t, got.Error, "lease expired")
}

func TestMaintenance_AdvancesStalledDocument(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	h.queue.EnqueueErr = errors.New("queue down")
	res, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil
	time.Sleep(5 * time.Millisecond)

	report := newTestMaintenance(h, nil).RunOnce(ctx)
	assert.Equal(t, 1, report.Advanced)
	require.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)

	h.drain(t)
	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, res.DocumentID).Status)
}

func TestMaintenance_SkipsRecentlyUpdatedDocuments(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.queue.EnqueueErr = errors.New("queue down")
	_, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil

	m := NewMaintenance(MaintenanceConfig{
		TaskQueue:  h.queue,
		Documents:  h.docs,
		Pipeline:   h.pipeline,
		StallAfter: time.Hour,
	})
	report := m.RunOnce(ctx)
	assert.Zero(t, report.Advanced)
	assert.Empty(t, h.queue.Tasks())
}

func TestMaintenance_PromotesRetries(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.admit(t, fuserManual, driving.AdmissionHint{})

	task, err := h.queue.Dequeue(ctx, testWorker)
	require.NoError(t, err)
	_, err = h.queue.Nack(ctx, task.ID, testWorker, "transient")
	require.NoError(t, err)

	h.queue.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	report := newTestMaintenance(h, nil).RunOnce(ctx)
	assert.Equal(t, 1, report.Promoted)

	got, err := h.queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}

func TestMaintenance_LockHeldSkipsSweep(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.admit(t, fuserManual, driving.AdmissionHint{})
	_, err := h.queue.Dequeue(ctx, "crashed-worker")
	require.NoError(t, err)
	h.queue.ExpireLeases()

	other := mocks.NewMockDistributedLock("instance-b")
	ok, err := other.Acquire(ctx, maintenanceLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	m := newTestMaintenance(h, other.Peer("instance-a"))
	m.sweep(ctx)

	tasks := h.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusProcessing, tasks[0].Status, "sweep must not run without the lock")
}

func TestMaintenance_LockErrorSkipsSweep(t *testing.T) {
	h := newPipelineHarness(t)
	lock := mocks.NewMockDistributedLock("instance-a")
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("redis unavailable")
	}
	m := newTestMaintenance(h, lock)
	assert.True(t, m.lockRequired)

	h.queue.EnqueueErr = errors.New("queue down")
	_, err := h.admission.Admit(context.Background(), []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil
	time.Sleep(5 * time.Millisecond)

	m.sweep(context.Background())
	assert.Empty(t, h.queue.Tasks())
}

func TestMaintenance_ReleasesLock(t *testing.T) {
	h := newPipelineHarness(t)
	lock := mocks.NewMockDistributedLock("instance-a")
	m := newTestMaintenance(h, lock)

	m.sweep(context.Background())
	assert.Empty(t, lock.HeldBy(maintenanceLockName))
}

func TestMaintenance_InstancesContendForLock(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.admit(t, fuserManual, driving.AdmissionHint{})
	_, err := h.queue.Dequeue(ctx, "crashed-worker")
	require.NoError(t, err)
	h.queue.ExpireLeases()

	lockA := mocks.NewMockDistributedLock("instance-a")
	lockB := lockA.Peer("instance-b")
	a := newTestMaintenance(h, lockA)
	b := newTestMaintenance(h, lockB)

	// a is mid-sweep
	ok, err := lockA.Acquire(ctx, maintenanceLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	b.sweep(ctx)
	assert.Equal(t, domain.TaskStatusProcessing, h.queue.Tasks()[0].Status, "b must not sweep while a holds the lock")
	assert.Equal(t, "instance-a", lockA.HeldBy(maintenanceLockName))

	a.sweep(ctx)
	assert.Equal(t, domain.TaskStatusRetry, h.queue.Tasks()[0].Status)
	assert.Empty(t, lockA.HeldBy(maintenanceLockName))

	h.queue.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	b.sweep(ctx)
	assert.Equal(t, domain.TaskStatusPending, h.queue.Tasks()[0].Status, "b sweeps once the lock is free")
}

func TestMaintenance_SameInstanceSweepsTwice(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	lock := mocks.NewMockDistributedLock("instance-a")
	m := newTestMaintenance(h, lock)

	// A lease left behind by this instance does not block its next sweep.
	ok, err := lock.Acquire(ctx, maintenanceLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h.queue.EnqueueErr = errors.New("queue down")
	_, err = h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil
	time.Sleep(5 * time.Millisecond)

	m.sweep(ctx)
	require.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)

	m.sweep(ctx)
	assert.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)
	assert.Empty(t, lock.HeldBy(maintenanceLockName))
}

func TestMaintenance_StallScanStartsWithOldestUpdate(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	h.queue.EnqueueErr = errors.New("queue down")
	stalled, err := h.admission.Admit(ctx, []byte(fuserManual), driving.AdmissionHint{})
	require.NoError(t, err)
	busy, err := h.admission.Admit(ctx, []byte(errorCodeTable), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil

	// stalled was created first and has not moved for an hour; busy is
	// newer and was just updated
	now := time.Now()
	old := h.document(t, stalled.DocumentID)
	old.CreatedAt = now.Add(-2 * time.Hour)
	old.UpdatedAt = now.Add(-time.Hour)
	h.docs.Put(old)
	recent := h.document(t, busy.DocumentID)
	recent.CreatedAt = now.Add(-time.Minute)
	recent.UpdatedAt = now
	h.docs.Put(recent)

	m := NewMaintenance(MaintenanceConfig{
		TaskQueue:  h.queue,
		Documents:  h.docs,
		Pipeline:   h.pipeline,
		StallAfter: 10 * time.Minute,
		BatchSize:  1,
	})
	report := m.RunOnce(ctx)
	assert.Equal(t, 1, report.Advanced)

	tasks := h.queue.TasksOfType(domain.TaskTypeExtractText)
	require.Len(t, tasks, 1)
	assert.Equal(t, stalled.DocumentID, tasks[0].DocumentID)
}

func TestMaintenance_PurgeKeepsTasksOfRunningPass(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	// extract_text and chunk complete, extract_signals is pending
	require.True(t, h.step(t))
	require.True(t, h.step(t))
	require.NotEmpty(t, h.queue.TasksOfType(domain.TaskTypeExtractSignals))
	time.Sleep(5 * time.Millisecond)

	m := NewMaintenance(MaintenanceConfig{
		TaskQueue:  h.queue,
		Documents:  h.docs,
		Pipeline:   h.pipeline,
		StallAfter: time.Millisecond,
		Retention:  time.Millisecond,
	})
	report := m.RunOnce(ctx)
	assert.Zero(t, report.Purged)
	assert.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)
	assert.Len(t, h.queue.TasksOfType(domain.TaskTypeChunk), 1)

	h.drain(t)
	require.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)
	time.Sleep(5 * time.Millisecond)

	report = m.RunOnce(ctx)
	assert.Positive(t, report.Purged)
	assert.Empty(t, h.queue.Tasks())
	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)
}

func TestMaintenance_StartStop(t *testing.T) {
	h := newPipelineHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.queue.EnqueueErr = errors.New("queue down")
	res, err := h.admission.Admit(ctx, []byte(errorCodeTable), driving.AdmissionHint{})
	require.NoError(t, err)
	h.queue.EnqueueErr = nil

	m := newTestMaintenance(h, mocks.NewMockDistributedLock("instance-a"))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx), "second start is a no-op")

	require.Eventually(t, func() bool {
		return len(h.queue.TasksOfType(domain.TaskTypeExtractText)) == 1
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()

	h.drain(t)
	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, res.DocumentID).Status)
}

func TestNewMaintenance_Defaults(t *testing.T) {
	m := NewMaintenance(MaintenanceConfig{})
	assert.Equal(t, 30*time.Second, m.interval)
	assert.Equal(t, 60*time.Second, m.lockTTL)
	assert.Equal(t, 7*24*time.Hour, m.retention)
	assert.Equal(t, time.Minute, m.stallAfter)
	assert.Equal(t, 100, m.batchSize)
	assert.False(t, m.lockRequired)
}
