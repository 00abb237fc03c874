package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/chunker"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
)

const testWorker = "test-worker"

const fuserManual = `FUSER UNIT

The fuser unit bonds toner to paper using heat and pressure. During warm-up the
heating roller must reach its target temperature within thirty seconds. When the
roller stays cold the engine stops and reports trouble code C2152 on the panel.

Check the thermistor connector and the heater lamp before replacing the unit.
Order part A0EDR72200 for the complete fuser assembly. Always let the unit cool
for twenty minutes before removal because the rollers stay hot.
` + "\f" + `PAPER FEED

The paper feed section moves sheets from the trays into the registration area.
Worn pickup rollers cause misfeeds and paper jams near tray one. Clean the rollers
with a damp cloth and replace them every two hundred thousand pages. A jam that
repeats after cleaning usually means the separation pad is worn.
`

const errorCodeTable = `C2152: Fuser warm-up failure. The heating roller did not reach temperature.
Remedy: Check the heater lamp and replace the fuser unit.

C3101: Fuser abnormally high temperature, critical safety stop.
Remedy: Power off the machine and replace the thermistor.
`

// createTestServices creates runtime services for testing
func createTestServices(embeddingService driven.EmbeddingService) *runtime.Services {
	config := domain.NewRuntimeConfig("memory")
	services := runtime.NewServices(config)
	if embeddingService != nil {
		services.SetEmbeddingService(embeddingService)
	}
	return services
}

type pipelineHarness struct {
	docs        *mocks.MockDocumentStore
	chunks      *mocks.MockChunkStore
	embeddings  *mocks.MockEmbeddingStore
	codes       *mocks.MockErrorCodeStore
	blobs       *mocks.MockBlobStore
	queue       *mocks.MockTaskQueue
	normalisers *mocks.MockNormaliserRegistry
	embedder    *mocks.MockEmbeddingService
	services    *runtime.Services
	pipeline    *PipelineService
	admission   driving.AdmissionService
	search      driving.SearchService
}

type harnessOption func(*PipelineConfig)

func withMaxAttempts(n int) harnessOption {
	return func(c *PipelineConfig) { c.MaxAttempts = n }
}

func withEmbedTimeout(d time.Duration) harnessOption {
	return func(c *PipelineConfig) { c.EmbedTimeout = d }
}

func withoutEmbedder() harnessOption {
	return func(c *PipelineConfig) { c.Services = createTestServices(nil) }
}

func smallChunker() *chunker.Chunker {
	table := chunker.DefaultTable()
	table.Default = chunker.Sizing{TargetWords: 40, OverlapWords: 5, MinWords: 10, MaxWords: 80}
	table.ByType = nil
	return chunker.New(nil, table)
}

func newPipelineHarness(t *testing.T, opts ...harnessOption) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		docs:        mocks.NewMockDocumentStore(),
		chunks:      mocks.NewMockChunkStore(),
		embeddings:  mocks.NewMockEmbeddingStore(),
		codes:       mocks.NewMockErrorCodeStore(),
		blobs:       mocks.NewMockBlobStore(),
		queue:       mocks.NewMockTaskQueue(),
		normalisers: mocks.NewMockNormaliserRegistry(),
		embedder:    mocks.NewMockEmbeddingService(),
	}
	h.services = createTestServices(h.embedder)

	cfg := PipelineConfig{
		Documents:   h.docs,
		Chunks:      h.chunks,
		Embeddings:  h.embeddings,
		ErrorCodes:  h.codes,
		Blobs:       h.blobs,
		Queue:       h.queue,
		Normalisers: h.normalisers,
		Text:        mocks.NewMockTextPipeline(),
		Chunker:     smallChunker(),
		Services:    h.services,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.services = cfg.Services
	h.pipeline = NewPipelineService(cfg)
	h.admission = NewAdmissionService(AdmissionConfig{
		Documents:   h.docs,
		Blobs:       h.blobs,
		Queue:       h.queue,
		Normalisers: h.normalisers,
		Pipeline:    h.pipeline,
	})
	h.search = NewSearchService(SearchConfig{
		Candidates: mocks.NewMockCandidateStore(h.docs, h.chunks, h.embeddings, h.codes),
		ErrorCodes: h.codes,
		Cache:      mocks.NewMockEmbeddingCache(),
		Services:   h.services,
	})
	return h
}

func (h *pipelineHarness) admit(t *testing.T, text string, hint driving.AdmissionHint) *domain.Document {
	t.Helper()
	res, err := h.admission.Admit(context.Background(), []byte(text), hint)
	require.NoError(t, err)
	require.True(t, res.IsNew)
	return res.Document
}

// step claims and settles one task the way a worker does. It returns false
// when no task is ready.
func (h *pipelineHarness) step(t *testing.T) bool {
	t.Helper()
	ctx := context.Background()
	task, err := h.queue.Dequeue(ctx, testWorker)
	require.NoError(t, err)
	if task == nil {
		return false
	}
	if err := h.pipeline.Process(ctx, task); err != nil {
		failed, nackErr := h.queue.Nack(ctx, task.ID, testWorker, err.Error())
		require.NoError(t, nackErr)
		if failed.Status == domain.TaskStatusFailed {
			require.NoError(t, h.pipeline.TaskFailed(ctx, failed))
		}
		return true
	}
	require.NoError(t, h.queue.Ack(ctx, task.ID, testWorker))
	require.NoError(t, h.pipeline.TaskCompleted(ctx, task))
	return true
}

func (h *pipelineHarness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if !h.step(t) {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func (h *pipelineHarness) document(t *testing.T, id string) *domain.Document {
	t.Helper()
	doc, err := h.docs.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (h *pipelineHarness) chunksOf(t *testing.T, id string) []*domain.Chunk {
	t.Helper()
	chunks, err := h.chunks.ListByDocument(context.Background(), id)
	require.NoError(t, err)
	return chunks
}

func TestPipeline_ProcessesDocumentToCompletion(t *testing.T) {
	h := newPipelineHarness(t)
	doc := h.admit(t, fuserManual, driving.AdmissionHint{
		Filename:     "fuser.txt",
		Manufacturer: "Konica",
	})

	h.drain(t)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, got.PageCount)
	assert.NotEmpty(t, got.TextLocator)
	assert.Empty(t, got.Error)

	chunks := h.chunksOf(t, doc.ID)
	require.Greater(t, len(chunks), 1, "small sizing should split the manual")
	var codes []string
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, domain.ChunkStatusCompleted, c.Status)
		assert.Equal(t, domain.EmbeddingStatusCompleted, c.EmbeddingStatus)
		assert.NotEmpty(t, c.Fingerprint)
		codes = append(codes, c.NormalizedCodes...)
	}
	assert.Contains(t, codes, "c2152")
	assert.Equal(t, len(chunks), h.embeddings.Count())
	assert.Equal(t, 1, chunks[0].StartPage)
	assert.Equal(t, 2, chunks[len(chunks)-1].EndPage)

	for _, task := range h.queue.Tasks() {
		assert.Equal(t, domain.TaskStatusCompleted, task.Status, "task %s (%s)", task.ID, task.Type)
	}
}

func TestPipeline_OwnedSpansTileText(t *testing.T) {
	h := newPipelineHarness(t)
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	text, err := h.blobs.Get(context.Background(), h.document(t, doc.ID).TextLocator)
	require.NoError(t, err)

	chunks := h.chunksOf(t, doc.ID)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].StartOffset)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndOffset, chunks[i].StartOffset)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndOffset)
}

func TestPipeline_ErrorCodeDatabaseBuildsKnowledge(t *testing.T) {
	h := newPipelineHarness(t)
	doc := h.admit(t, errorCodeTable, driving.AdmissionHint{
		DocumentType: "error_code_database",
		Manufacturer: "konica-minolta",
	})
	h.drain(t)
	require.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)

	ctx := context.Background()
	entries, err := h.search.LookupCode(ctx, "konica-minolta", "c-2152")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "C2152", entries[0].Code)
	assert.Equal(t, doc.ID, entries[0].SourceDocumentID)
	assert.Contains(t, entries[0].Remediation, "replace the fuser unit")

	critical, err := h.search.LookupCode(ctx, "", "C3101")
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, domain.SeverityCritical, critical[0].Severity)

	resp, err := h.search.Search(ctx, "Error C-2152", domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Equal(t, "c2152", resp.NormalizedQuery)

	var sawEntry bool
	for _, r := range resp.Results {
		if r.Kind == domain.ResultKindErrorCode {
			sawEntry = true
			assert.Equal(t, "C2152", r.Entry.Code)
		}
	}
	assert.True(t, sawEntry, "expected the knowledge entry among the results")
}

func TestPipeline_EmbeddingFailureKeepsDocument(t *testing.T) {
	h := newPipelineHarness(t, withMaxAttempts(1))
	h.embedder.EmbedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("provider unavailable")
	}

	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
	for _, c := range h.chunksOf(t, doc.ID) {
		assert.Equal(t, domain.ChunkStatusCompleted, c.Status)
		assert.Equal(t, domain.EmbeddingStatusFailed, c.EmbeddingStatus)
	}
	assert.Zero(t, h.embeddings.Count())

	failed := h.queue.TasksOfType(domain.TaskTypeEmbed)
	require.NotEmpty(t, failed)
	for _, task := range failed {
		assert.Equal(t, domain.TaskStatusFailed, task.Status)
		assert.Contains(t, task.Error, "provider unavailable")
	}

	resp, err := h.search.Search(context.Background(), "pickup rollers misfeeds", domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results, "text signals still find the document")
}

func TestPipeline_EmbeddingTimeout(t *testing.T) {
	h := newPipelineHarness(t, withMaxAttempts(1), withEmbedTimeout(10*time.Millisecond))
	h.embedder.EmbedFn = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	doc := h.admit(t, errorCodeTable, driving.AdmissionHint{})
	h.drain(t)

	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)
	for _, task := range h.queue.TasksOfType(domain.TaskTypeEmbed) {
		assert.Contains(t, task.Error, domain.ErrTimeout.Error())
	}
}

func TestPipeline_WithoutEmbedder(t *testing.T) {
	h := newPipelineHarness(t, withoutEmbedder())
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)
	for _, c := range h.chunksOf(t, doc.ID) {
		assert.Equal(t, domain.EmbeddingStatusFailed, c.EmbeddingStatus)
	}
	assert.Zero(t, h.embedder.Calls())

	resp, err := h.search.Search(context.Background(), "fuser unit", domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.False(t, resp.VectorUsed)
	assert.NotEmpty(t, resp.Results)
}

func TestPipeline_ExtractionFailureFailsDocument(t *testing.T) {
	h := newPipelineHarness(t, withMaxAttempts(1))
	normaliser := mocks.NewMockNormaliser()
	normaliser.NormaliseFn = func(data []byte, mimeType string) (*driven.ExtractedText, error) {
		return nil, errors.New("corrupt file")
	}
	h.normalisers.SetNormaliser(normaliser)

	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Contains(t, got.Error, "extract_text failed")
	assert.Contains(t, got.Error, "corrupt file")
	assert.Empty(t, h.chunksOf(t, doc.ID))
	assert.Empty(t, h.queue.TasksOfType(domain.TaskTypeChunk))
}

func TestPipeline_RetriesBeforeDeadLetter(t *testing.T) {
	h := newPipelineHarness(t, withMaxAttempts(2))
	calls := 0
	normaliser := mocks.NewMockNormaliser()
	normaliser.NormaliseFn = func(data []byte, mimeType string) (*driven.ExtractedText, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return &driven.ExtractedText{Text: string(data), PageCount: 1}, nil
	}
	h.normalisers.SetNormaliser(normaliser)

	doc := h.admit(t, errorCodeTable, driving.AdmissionHint{})
	require.True(t, h.step(t))

	tasks := h.queue.TasksOfType(domain.TaskTypeExtractText)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusRetry, tasks[0].Status)

	// Skip the backoff.
	h.queue.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	promoted, err := h.queue.PromoteRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	h.drain(t)
	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, doc.ID).Status)
	assert.Equal(t, 2, calls)
}

func TestPipeline_DocumentWithoutText(t *testing.T) {
	h := newPipelineHarness(t)
	doc := h.admit(t, "   \n\n   \n", driving.AdmissionHint{})
	h.drain(t)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
	assert.Empty(t, h.chunksOf(t, doc.ID))

	embeds := h.queue.TasksOfType(domain.TaskTypeEmbed)
	require.Len(t, embeds, 1)
	assert.Equal(t, doc.ID, embeds[0].TargetID)
}

func TestPipeline_UnknownTaskType(t *testing.T) {
	h := newPipelineHarness(t)
	err := h.pipeline.Process(context.Background(), &domain.Task{ID: "t1", Type: "resize_images", DocumentID: "d1"})
	assert.ErrorIs(t, err, domain.ErrNoHandler)
}

func TestPipeline_StaleTaskIsDiscarded(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	_, err := h.pipeline.Reprocess(ctx, doc.ID)
	require.NoError(t, err)

	stale := domain.NewTask(domain.TaskTypeExtractText, doc.ID, doc.ID, 1)
	require.NoError(t, h.pipeline.Process(ctx, stale))
	assert.Empty(t, h.document(t, doc.ID).TextLocator)
	assert.Equal(t, 1, h.blobs.Len(), "only the upload is stored")
}

func TestPipeline_CancelStopsProcessing(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	// Run extraction only; the chunk task is left pending.
	require.True(t, h.step(t))
	require.Len(t, h.queue.TasksOfType(domain.TaskTypeChunk), 1)

	cancelled, err := h.pipeline.Cancel(ctx, doc.ID, "wrong file")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Contains(t, got.Error, "wrong file")

	h.drain(t)
	assert.Empty(t, h.chunksOf(t, doc.ID))

	_, err = h.pipeline.Cancel(ctx, doc.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipeline_CancelDiscardsInFlightResult(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	task, err := h.queue.Dequeue(ctx, testWorker)
	require.NoError(t, err)
	require.NotNil(t, task)

	_, err = h.pipeline.Cancel(ctx, doc.ID, "operator request")
	require.NoError(t, err)

	require.NoError(t, h.pipeline.Process(ctx, task))
	assert.Empty(t, h.document(t, doc.ID).TextLocator)
	assert.ErrorIs(t, h.queue.Ack(ctx, task.ID, testWorker), domain.ErrTaskNotClaimed)
}

func TestPipeline_ReprocessReusesUnchangedChunks(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	before := h.chunksOf(t, doc.ID)
	require.NotEmpty(t, before)

	reprocessed, err := h.pipeline.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reprocessed.Pass)
	assert.Equal(t, domain.DocumentStatusPending, reprocessed.Status)

	h.drain(t)

	got := h.document(t, doc.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
	after := h.chunksOf(t, doc.ID)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, domain.ChunkStatusCompleted, after[i].Status)
	}
	assert.Len(t, h.queue.TasksOfType(domain.TaskTypeIndex), 2)
}

func TestPipeline_ProgressIsMonotonic(t *testing.T) {
	h := newPipelineHarness(t)
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})

	last := 0
	for h.step(t) {
		p := h.document(t, doc.ID).Progress
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestPipeline_AdvanceRecoversLostEnqueue(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	h.queue.EnqueueErr = errors.New("queue down")
	res, err := h.admission.Admit(ctx, []byte(errorCodeTable), driving.AdmissionHint{})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Empty(t, h.queue.Tasks())

	h.queue.EnqueueErr = nil
	require.NoError(t, h.pipeline.Advance(ctx, res.DocumentID, 1))
	require.Len(t, h.queue.TasksOfType(domain.TaskTypeExtractText), 1)

	// Advancing again is idempotent.
	require.NoError(t, h.pipeline.Advance(ctx, res.DocumentID, 1))
	assert.Len(t, h.queue.Tasks(), 1)

	h.drain(t)
	assert.Equal(t, domain.DocumentStatusCompleted, h.document(t, res.DocumentID).Status)
}

func TestPipeline_Status(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	doc := h.admit(t, fuserManual, driving.AdmissionHint{})
	h.drain(t)

	report, err := h.pipeline.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, report.Document.ID)
	assert.Equal(t, report.ChunkCount, report.EmbeddedChunks)
	assert.Zero(t, report.FailedChunks)
	assert.Len(t, report.Tasks, len(domain.PipelineStages))
	assert.Equal(t, 1, report.Tasks[domain.TaskTypeIndex].Completed)
	assert.Equal(t, report.ChunkCount, report.Tasks[domain.TaskTypeEmbed].Completed)

	_, err = h.pipeline.Status(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_SupersedeHidesOldDocument(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	old := h.admit(t, fuserManual, driving.AdmissionHint{})
	newer := h.admit(t, strings.Replace(fuserManual, "thirty seconds", "forty seconds", 1), driving.AdmissionHint{})
	h.drain(t)

	assert.ErrorIs(t, h.pipeline.Supersede(ctx, old.ID, old.ID), domain.ErrInvalidInput)
	assert.ErrorIs(t, h.pipeline.Supersede(ctx, newer.ID, "missing"), domain.ErrNotFound)
	require.NoError(t, h.pipeline.Supersede(ctx, newer.ID, old.ID))

	resp, err := h.search.Search(ctx, "heating roller target temperature", domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, newer.ID, r.Document.ID)
	}
}

func TestPipeline_ListAndCount(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.admit(t, fuserManual, driving.AdmissionHint{Manufacturer: "ricoh"})
	h.admit(t, errorCodeTable, driving.AdmissionHint{DocumentType: "error-code-database", Manufacturer: "canon"})

	n, err := h.pipeline.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := h.pipeline.List(ctx, driven.DocumentFilter{Type: domain.DocumentTypeErrorCodeDatabase})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "canon", docs[0].Manufacturer)

	_, err = h.pipeline.Chunks(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
