package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/queuetest"
)

func TestMockTaskQueue(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, opts driven.QueueOptions) driven.TaskQueue {
		return NewMockTaskQueueWithOptions(opts)
	})
}

func TestMockTaskQueue_Clock(t *testing.T) {
	ctx := context.Background()
	q := NewMockTaskQueue()
	now := time.Now().Add(time.Second)
	q.SetClock(func() time.Time { return now })

	_, err := q.Enqueue(ctx, domain.NewTask(domain.TaskTypeChunk, "doc-1", "", 1))
	require.NoError(t, err)
	task, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	_, err = q.Nack(ctx, task.ID, "w1", "boom")
	require.NoError(t, err)

	n, err := q.PromoteRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	now = now.Add(time.Hour)
	n, err = q.PromoteRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMockChunkStore_ReplaceChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMockChunkStore()
	chunks := func() []*domain.Chunk {
		return []*domain.Chunk{
			{Index: 0, Fingerprint: "f0", Text: "a"},
			{Index: 1, Fingerprint: "f1", Text: "b"},
		}
	}

	first := chunks()
	n, err := store.ReplaceChunks(ctx, "doc-1", first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := chunks()
	n, err = store.ReplaceChunks(ctx, "doc-1", second)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, store.Count())

	changed := []*domain.Chunk{{Index: 0, Fingerprint: "f0"}}
	n, err = store.ReplaceChunks(ctx, "doc-1", changed)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, store.Count())

	_, err = store.ReplaceChunks(ctx, "doc-1", []*domain.Chunk{{Index: 0, Fingerprint: "x"}, {Index: 0, Fingerprint: "y"}})
	assert.ErrorIs(t, err, domain.ErrDuplicateChunk)
}

func TestMockErrorCodeStore_UpsertMerges(t *testing.T) {
	ctx := context.Background()
	store := NewMockErrorCodeStore()

	first, err := store.Upsert(ctx, &domain.ErrorCodeEntry{Manufacturer: "Ricoh", Code: "SC542", Description: "Fusing error", Severity: domain.SeverityHigh})
	require.NoError(t, err)

	merged, err := store.Upsert(ctx, &domain.ErrorCodeEntry{Manufacturer: "ricoh", Code: "SC-542", Remediation: "Replace thermistor"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, "SC542", merged.Code)
	assert.Equal(t, "Fusing error", merged.Description)
	assert.Equal(t, "Replace thermistor", merged.Remediation)
	assert.Equal(t, domain.SeverityHigh, merged.Severity)
	assert.Equal(t, []string{"SC-542"}, merged.AlternativeForms)

	found, err := store.FindByNormalized(ctx, "", "sc542")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
