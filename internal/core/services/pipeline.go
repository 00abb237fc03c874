package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/chunker"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/extractor"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
)

// Ensure PipelineService implements the driving ports
var (
	_ driving.TaskProcessor   = (*PipelineService)(nil)
	_ driving.DocumentService = (*PipelineService)(nil)
)

// stageProgress maps each stage to the progress range it covers.
var stageProgress = map[domain.TaskType][2]int{
	domain.TaskTypeExtractText:    {0, 15},
	domain.TaskTypeChunk:          {15, 30},
	domain.TaskTypeExtractSignals: {30, 50},
	domain.TaskTypeEmbed:          {50, 90},
	domain.TaskTypeIndex:          {90, 100},
}

type stageHandler func(ctx context.Context, task *domain.Task, doc *domain.Document) error

// PipelineService runs the document stages and sequences them. Each stage
// communicates its outcome only through document, chunk and task state, so
// any worker can pick up where another stopped.
type PipelineService struct {
	documents   driven.DocumentStore
	chunks      driven.ChunkStore
	embeddings  driven.EmbeddingStore
	errorCodes  driven.ErrorCodeStore
	blobs       driven.BlobStore
	queue       driven.TaskQueue
	normalisers driven.NormaliserRegistry
	text        driven.TextPipeline
	chunker     *chunker.Chunker
	catalog     *extractor.Catalog
	services    *runtime.Services
	logger      *slog.Logger

	embedTimeout time.Duration
	maxAttempts  int
	handlers     map[domain.TaskType]stageHandler
}

// PipelineConfig holds the dependencies of the pipeline.
type PipelineConfig struct {
	Documents   driven.DocumentStore
	Chunks      driven.ChunkStore
	Embeddings  driven.EmbeddingStore
	ErrorCodes  driven.ErrorCodeStore
	Blobs       driven.BlobStore
	Queue       driven.TaskQueue
	Normalisers driven.NormaliserRegistry
	Text        driven.TextPipeline // Optional: cleanup applied to extracted text
	Chunker     *chunker.Chunker    // Optional: defaults to the built-in strategies and table
	Catalog     *extractor.Catalog  // Optional: defaults to the built-in catalog
	Services    *runtime.Services   // Optional: embedding provider; without one chunks get no vector
	Logger      *slog.Logger

	EmbedTimeout time.Duration // Deadline of one embedding call (default: 30s)
	MaxAttempts  int           // Attempts per task before dead-lettering (default: 3)
}

// NewPipelineService creates the pipeline.
func NewPipelineService(cfg PipelineConfig) *PipelineService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ch := cfg.Chunker
	if ch == nil {
		ch = chunker.New(nil, nil)
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = extractor.DefaultCatalog()
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	s := &PipelineService{
		documents:    cfg.Documents,
		chunks:       cfg.Chunks,
		embeddings:   cfg.Embeddings,
		errorCodes:   cfg.ErrorCodes,
		blobs:        cfg.Blobs,
		queue:        cfg.Queue,
		normalisers:  cfg.Normalisers,
		text:         cfg.Text,
		chunker:      ch,
		catalog:      catalog,
		services:     cfg.Services,
		logger:       logger,
		embedTimeout: embedTimeout,
		maxAttempts:  maxAttempts,
	}
	s.handlers = map[domain.TaskType]stageHandler{
		domain.TaskTypeExtractText:    s.extractText,
		domain.TaskTypeChunk:          s.chunk,
		domain.TaskTypeExtractSignals: s.extractSignals,
		domain.TaskTypeEmbed:          s.embed,
		domain.TaskTypeIndex:          s.index,
	}
	return s
}

// NewStageTask builds a task of this pipeline for one stage of a document pass.
func (s *PipelineService) NewStageTask(taskType domain.TaskType, doc *domain.Document, targetID string, priority int) *domain.Task {
	task := domain.NewTask(taskType, doc.ID, targetID, doc.Pass)
	task.MaxAttempts = s.maxAttempts
	if priority > 0 {
		task.Priority = domain.ClampPriority(priority)
	}
	return task
}

// Process runs the stage handler of a claimed task. Tasks of an older pass
// or of a failed document are discarded without error.
func (s *PipelineService) Process(ctx context.Context, task *domain.Task) error {
	handler, ok := s.handlers[task.Type]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoHandler, task.Type)
	}
	doc, err := s.documents.Get(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", task.DocumentID, err)
	}
	if !isCurrent(doc, task) {
		s.logger.Debug("discarding stale task",
			"task_id", task.ID,
			"document_id", doc.ID,
			"task_pass", task.Pass,
			"document_pass", doc.Pass,
		)
		return nil
	}
	return handler(ctx, task, doc)
}

func isCurrent(doc *domain.Document, task *domain.Task) bool {
	return doc.Pass == task.Pass && doc.Status != domain.DocumentStatusFailed
}

// stillCurrent re-reads the document before a stage writes its results, so
// work finished after a cancellation or a reprocess is dropped.
func (s *PipelineService) stillCurrent(ctx context.Context, task *domain.Task) (bool, error) {
	doc, err := s.documents.Get(ctx, task.DocumentID)
	if err != nil {
		return false, err
	}
	if !isCurrent(doc, task) {
		s.logger.Info("discarding result of cancelled or superseded pass",
			"task_id", task.ID,
			"task_type", task.Type,
			"document_id", task.DocumentID,
		)
		return false, nil
	}
	return true, nil
}

func (s *PipelineService) extractText(ctx context.Context, task *domain.Task, doc *domain.Document) error {
	if _, err := s.documents.UpdateProgress(ctx, doc.ID, doc.Pass, domain.DocumentStatusProcessing, doc.Progress, ""); err != nil {
		return fmt.Errorf("mark document processing: %w", err)
	}

	data, err := s.blobs.Get(ctx, doc.StorageLocator)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", doc.StorageLocator, err)
	}
	normaliser := s.normalisers.Get(doc.MimeType)
	if normaliser == nil {
		return fmt.Errorf("%w: no normaliser for %s", domain.ErrUnsupportedInput, doc.MimeType)
	}
	out, err := normaliser.Normalise(ctx, data, doc.MimeType)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	text := out.Text
	if s.text != nil {
		text = s.text.Process(text)
	}

	if ok, err := s.stillCurrent(ctx, task); err != nil || !ok {
		return err
	}
	locator, err := s.blobs.Put(ctx, textKey(doc), []byte(text), "text/plain; charset=utf-8")
	if err != nil {
		return fmt.Errorf("store extracted text: %w", err)
	}
	if err := s.documents.RecordExtraction(ctx, doc.ID, out.PageCount, locator); err != nil {
		return fmt.Errorf("record extraction: %w", err)
	}

	s.logger.Info("text extracted",
		"document_id", doc.ID,
		"pages", out.PageCount,
		"bytes", len(text),
	)
	return nil
}

func textKey(doc *domain.Document) string {
	return fmt.Sprintf("text/%s/%d.txt", doc.ContentHash, doc.Pass)
}

func (s *PipelineService) loadText(ctx context.Context, doc *domain.Document) (string, error) {
	if doc.TextLocator == "" {
		return "", fmt.Errorf("%w: document %s has no extracted text", domain.ErrStageNotReady, doc.ID)
	}
	data, err := s.blobs.Get(ctx, doc.TextLocator)
	if err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return string(data), nil
}

// codeLineMatcher reports lines holding an error code of the profile.
func codeLineMatcher(profile *extractor.Profile) func(line string) bool {
	return func(line string) bool {
		return len(extractor.Extract(line, profile).RawCodes) > 0
	}
}

func (s *PipelineService) chunk(ctx context.Context, task *domain.Task, doc *domain.Document) error {
	text, err := s.loadText(ctx, doc)
	if err != nil {
		return err
	}

	profile := s.catalog.Profile(doc.Manufacturer)
	hints := chunker.DetectStructure(text, codeLineMatcher(profile))
	result, err := s.chunker.Chunk(text, doc.Type, doc.Manufacturer, hints)
	if err != nil {
		return fmt.Errorf("chunk document: %w", err)
	}

	now := time.Now()
	chunks := make([]*domain.Chunk, 0, len(result.Drafts))
	for _, d := range result.Drafts {
		chunks = append(chunks, &domain.Chunk{
			DocumentID:      doc.ID,
			Index:           d.Index,
			StartPage:       d.StartPage,
			EndPage:         d.EndPage,
			Text:            d.Text,
			StartOffset:     d.Owned.Start,
			EndOffset:       d.Owned.End,
			TokenCount:      d.TokenCount,
			Fingerprint:     d.Fingerprint,
			Strategy:        result.Strategy,
			Section:         d.Section,
			Subsection:      d.Subsection,
			ErrorCodes:      []string{},
			NormalizedCodes: []string{},
			PartNumbers:     []string{},
			QualityScore:    d.QualityScore,
			Status:          domain.ChunkStatusPending,
			EmbeddingStatus: domain.EmbeddingStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if ok, err := s.stillCurrent(ctx, task); err != nil || !ok {
		return err
	}
	inserted, err := s.chunks.ReplaceChunks(ctx, doc.ID, chunks)
	if err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	s.logger.Info("document chunked",
		"document_id", doc.ID,
		"strategy", result.Strategy,
		"chunks", len(chunks),
		"inserted", inserted,
	)
	return nil
}

// isDocumentScoped reports a per-chunk stage task standing in for a
// document that produced no chunks.
func isDocumentScoped(task *domain.Task) bool {
	return task.TargetID == task.DocumentID
}

func (s *PipelineService) extractSignals(ctx context.Context, task *domain.Task, doc *domain.Document) error {
	if isDocumentScoped(task) {
		return nil
	}
	chunk, err := s.chunks.Get(ctx, task.TargetID)
	if err != nil {
		return fmt.Errorf("load chunk %s: %w", task.TargetID, err)
	}

	result := extractor.Extract(chunk.Text, s.catalog.Profile(doc.Manufacturer))

	if ok, err := s.stillCurrent(ctx, task); err != nil || !ok {
		return err
	}
	if err := s.chunks.UpdateSignals(ctx, chunk.ID, result.RawCodes, result.NormalizedCodes, result.PartNumbers); err != nil {
		return fmt.Errorf("store signals: %w", err)
	}
	if err := s.chunks.UpdateStatus(ctx, chunk.ID, domain.ChunkStatusProcessing, ""); err != nil {
		return fmt.Errorf("mark chunk processing: %w", err)
	}
	return nil
}

func (s *PipelineService) embed(ctx context.Context, task *domain.Task, doc *domain.Document) error {
	if isDocumentScoped(task) {
		return nil
	}
	chunk, err := s.chunks.Get(ctx, task.TargetID)
	if err != nil {
		return fmt.Errorf("load chunk %s: %w", task.TargetID, err)
	}

	embedder := s.services.EmbeddingService()
	if embedder == nil {
		s.logger.Debug("no embedding provider, chunk stays text-only", "chunk_id", chunk.ID)
		return s.chunks.SetEmbeddingStatus(ctx, chunk.ID, domain.EmbeddingStatusFailed)
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	vectors, err := embedder.Embed(embedCtx, []string{chunk.Text})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: embed chunk %s after %s", domain.ErrTimeout, chunk.ID, s.embedTimeout)
		}
		return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embed chunk %s: provider returned %d vectors", chunk.ID, len(vectors))
	}

	if ok, err := s.stillCurrent(ctx, task); err != nil || !ok {
		return err
	}
	embedding := &domain.Embedding{
		ChunkID:    chunk.ID,
		Model:      embedder.Model(),
		Vector:     vectors[0],
		Dimensions: len(vectors[0]),
		CreatedAt:  time.Now(),
	}
	if err := s.embeddings.Upsert(ctx, embedding); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return s.chunks.SetEmbeddingStatus(ctx, chunk.ID, domain.EmbeddingStatusCompleted)
}

func (s *PipelineService) index(ctx context.Context, task *domain.Task, doc *domain.Document) error {
	entries := 0
	if doc.Type == domain.DocumentTypeErrorCodeDatabase {
		n, err := s.indexErrorCodes(ctx, doc)
		if err != nil {
			return err
		}
		entries = n
	}

	if ok, err := s.stillCurrent(ctx, task); err != nil || !ok {
		return err
	}
	completed, err := s.chunks.CompleteDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("complete chunks: %w", err)
	}
	if _, err := s.documents.UpdateProgress(ctx, doc.ID, doc.Pass, domain.DocumentStatusCompleted, 100, ""); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}

	s.logger.Info("document completed",
		"document_id", doc.ID,
		"chunks", completed,
		"error_code_entries", entries,
	)
	return nil
}

// indexErrorCodes turns the definition lines of an error code database into
// manufacturer knowledge. Definitions are parsed over the whole text, since
// a remedy line may fall into the next chunk, and each entry points at the
// chunk owning the code's first occurrence.
func (s *PipelineService) indexErrorCodes(ctx context.Context, doc *domain.Document) (int, error) {
	text, err := s.loadText(ctx, doc)
	if err != nil {
		return 0, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}

	drafts := extractor.ExtractEntries(text, s.catalog.Profile(doc.Manufacturer))
	for i, d := range drafts {
		entry := &domain.ErrorCodeEntry{
			ID:               domain.GenerateID(),
			Manufacturer:     doc.Manufacturer,
			Code:             d.Code,
			NormalizedCode:   d.NormalizedCode,
			Description:      d.Description,
			Remediation:      d.Remediation,
			Severity:         d.Severity,
			AlternativeForms: d.AlternativeForms,
			SourceDocumentID: doc.ID,
			SourceChunkID:    owningChunk(chunks, strings.Index(text, d.Code)),
		}
		if _, err := s.errorCodes.Upsert(ctx, entry); err != nil {
			return i, fmt.Errorf("store error code %s: %w", d.Code, err)
		}
	}
	return len(drafts), nil
}

// owningChunk returns the ID of the chunk whose owned span holds offset.
func owningChunk(chunks []*domain.Chunk, offset int) string {
	if offset < 0 {
		return ""
	}
	for _, c := range chunks {
		if offset >= c.StartOffset && offset < c.EndOffset {
			return c.ID
		}
	}
	return ""
}

// TaskCompleted records progress and enqueues the next stage when the
// task's stage has settled.
func (s *PipelineService) TaskCompleted(ctx context.Context, task *domain.Task) error {
	doc, err := s.documents.Get(ctx, task.DocumentID)
	if err != nil {
		return err
	}
	if !isCurrent(doc, task) || doc.Status.IsTerminal() {
		return nil
	}
	s.recordProgress(ctx, doc, task.Type)
	return s.advance(ctx, doc, task.Priority)
}

func (s *PipelineService) recordProgress(ctx context.Context, doc *domain.Document, stage domain.TaskType) {
	counts, err := s.queue.StageCounts(ctx, doc.ID, doc.Pass, stage)
	if err != nil || counts.Total() == 0 {
		return
	}
	r := stageProgress[stage]
	done := counts.Completed + counts.Failed
	progress := r[0] + (r[1]-r[0])*done/counts.Total()
	if progress <= doc.Progress || progress >= 100 {
		return
	}
	if _, err := s.documents.UpdateProgress(ctx, doc.ID, doc.Pass, domain.DocumentStatusProcessing, progress, ""); err != nil {
		s.logger.Warn("failed to update progress", "document_id", doc.ID, "error", err)
	}
}

// TaskFailed applies a dead-lettered task to its target. A failed embedding
// only costs the chunk its vector and the pipeline continues; any other
// failure fails the chunk and the document.
func (s *PipelineService) TaskFailed(ctx context.Context, task *domain.Task) error {
	doc, err := s.documents.Get(ctx, task.DocumentID)
	if err != nil {
		return err
	}
	if !isCurrent(doc, task) {
		return nil
	}

	reason := task.Error
	if reason == "" {
		reason = "task failed"
	}

	if task.Type.PerChunk() && !isDocumentScoped(task) {
		if task.Type == domain.TaskTypeEmbed {
			s.logger.Warn("embedding dead-lettered, chunk stays text-only",
				"chunk_id", task.TargetID,
				"document_id", doc.ID,
				"error", reason,
			)
			if err := s.chunks.SetEmbeddingStatus(ctx, task.TargetID, domain.EmbeddingStatusFailed); err != nil {
				return err
			}
			return s.advance(ctx, doc, task.Priority)
		}
		if err := s.chunks.UpdateStatus(ctx, task.TargetID, domain.ChunkStatusFailed, reason); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	return s.failDocument(ctx, doc, fmt.Sprintf("%s failed: %s", task.Type, reason))
}

func (s *PipelineService) failDocument(ctx context.Context, doc *domain.Document, reason string) error {
	changed, err := s.documents.UpdateProgress(ctx, doc.ID, doc.Pass, domain.DocumentStatusFailed, doc.Progress, reason)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	cancelled, err := s.queue.CancelDocument(ctx, doc.ID, "document failed: "+reason)
	if err != nil {
		return err
	}
	s.logger.Error("document failed",
		"document_id", doc.ID,
		"reason", reason,
		"cancelled_tasks", cancelled,
	)
	return nil
}

// Advance enqueues the next stage of a document pass once every task of the
// current stage is terminal. A pass with no tasks at all restarts at text
// extraction. Enqueueing is idempotent, so calling Advance repeatedly or
// concurrently is safe.
func (s *PipelineService) Advance(ctx context.Context, documentID string, pass int) error {
	doc, err := s.documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Pass != pass {
		return nil
	}
	return s.advance(ctx, doc, domain.PriorityDefault)
}

func (s *PipelineService) advance(ctx context.Context, doc *domain.Document, priority int) error {
	if doc.Status.IsTerminal() {
		return nil
	}

	// The latest stage with tasks is current. Earlier stages may have been
	// purged already.
	var (
		current domain.TaskType
		counts  domain.StageCounts
	)
	for _, stage := range domain.PipelineStages {
		c, err := s.queue.StageCounts(ctx, doc.ID, doc.Pass, stage)
		if err != nil {
			return fmt.Errorf("count %s tasks: %w", stage, err)
		}
		if c.Total() > 0 {
			current, counts = stage, c
		}
	}

	var next domain.TaskType
	switch {
	case current == "":
		next = domain.TaskTypeExtractText
	case !counts.Settled():
		return nil
	case counts.Failed > 0 && current != domain.TaskTypeEmbed:
		return nil
	default:
		var ok bool
		if next, ok = current.Next(); !ok {
			return nil
		}
	}

	tasks, err := s.stageTasks(ctx, doc, next, priority)
	if err != nil {
		return err
	}
	inserted, err := s.queue.EnqueueBatch(ctx, tasks)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", next, err)
	}
	if inserted > 0 {
		s.logger.Info("stage enqueued",
			"document_id", doc.ID,
			"pass", doc.Pass,
			"stage", next,
			"tasks", inserted,
		)
	}
	return nil
}

// stageTasks builds the tasks of one stage. Per-chunk stages get one task
// per chunk, or a single document task when there are no chunks so that the
// stage still runs and settles.
func (s *PipelineService) stageTasks(ctx context.Context, doc *domain.Document, stage domain.TaskType, priority int) ([]*domain.Task, error) {
	if !stage.PerChunk() {
		return []*domain.Task{s.NewStageTask(stage, doc, doc.ID, priority)}, nil
	}
	chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return []*domain.Task{s.NewStageTask(stage, doc, doc.ID, priority)}, nil
	}
	tasks := make([]*domain.Task, 0, len(chunks))
	for _, c := range chunks {
		tasks = append(tasks, s.NewStageTask(stage, doc, c.ID, priority))
	}
	return tasks, nil
}

// Get retrieves a document by ID
func (s *PipelineService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.documents.Get(ctx, id)
}

// List retrieves documents matching the filter
func (s *PipelineService) List(ctx context.Context, filter driven.DocumentFilter) ([]*domain.Document, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.documents.List(ctx, filter)
}

// Chunks retrieves the chunks of a document
func (s *PipelineService) Chunks(ctx context.Context, id string) ([]*domain.Chunk, error) {
	if _, err := s.documents.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, id)
}

// Count returns the total number of documents
func (s *PipelineService) Count(ctx context.Context) (int, error) {
	return s.documents.Count(ctx)
}

// Status reports a document's progress and the state of its current pass.
func (s *PipelineService) Status(ctx context.Context, id string) (*domain.DocumentStatusReport, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &domain.DocumentStatusReport{
		Document:   doc,
		ChunkCount: len(chunks),
		Tasks:      make(map[domain.TaskType]domain.StageCounts, len(domain.PipelineStages)),
	}
	for _, c := range chunks {
		if c.EmbeddingStatus == domain.EmbeddingStatusCompleted {
			report.EmbeddedChunks++
		}
		if c.Status == domain.ChunkStatusFailed {
			report.FailedChunks++
		}
	}
	for _, stage := range domain.PipelineStages {
		counts, err := s.queue.StageCounts(ctx, id, doc.Pass, stage)
		if err != nil {
			return nil, err
		}
		report.Tasks[stage] = counts
	}
	return report, nil
}

// Cancel stops a document's processing. In-flight stage results are
// discarded when they return.
func (s *PipelineService) Cancel(ctx context.Context, id, reason string) (int, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if doc.Status.IsTerminal() {
		return 0, fmt.Errorf("%w: document %s is already %s", domain.ErrInvalidInput, id, doc.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}

	cancelled, err := s.queue.CancelDocument(ctx, id, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	if _, err := s.documents.UpdateProgress(ctx, id, doc.Pass, domain.DocumentStatusFailed, doc.Progress, fmt.Sprintf("%s: %s", domain.ErrCancelled, reason)); err != nil {
		return cancelled, err
	}

	s.logger.Info("document cancelled", "document_id", id, "tasks", cancelled, "reason", reason)
	return cancelled, nil
}

// Reprocess starts a new pass. Tasks of the previous pass are cancelled and
// its chunks are reconciled by fingerprint when the new pass chunks.
func (s *PipelineService) Reprocess(ctx context.Context, id string) (*domain.Document, error) {
	if _, err := s.documents.Get(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.queue.CancelDocument(ctx, id, "superseded by reprocess"); err != nil {
		return nil, fmt.Errorf("cancel previous pass: %w", err)
	}
	doc, err := s.documents.StartPass(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("start pass: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, s.NewStageTask(domain.TaskTypeExtractText, doc, doc.ID, domain.PriorityDefault)); err != nil {
		return nil, fmt.Errorf("enqueue extraction: %w", err)
	}

	s.logger.Info("document reprocessing", "document_id", id, "pass", doc.Pass)
	return doc, nil
}

// Supersede records newID as the replacement of oldID. The old document
// stops appearing in search results.
func (s *PipelineService) Supersede(ctx context.Context, newID, oldID string) error {
	if newID == "" || oldID == "" || newID == oldID {
		return fmt.Errorf("%w: a document cannot supersede itself", domain.ErrInvalidInput)
	}
	if _, err := s.documents.Get(ctx, newID); err != nil {
		return err
	}
	if _, err := s.documents.Get(ctx, oldID); err != nil {
		return err
	}
	if err := s.documents.Supersede(ctx, newID, oldID); err != nil {
		return err
	}
	s.logger.Info("document superseded", "document_id", oldID, "superseded_by", newID)
	return nil
}
