package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// Ensure admissionService implements AdmissionService
var _ driving.AdmissionService = (*admissionService)(nil)

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes = 100 << 20

type admissionService struct {
	documents   driven.DocumentStore
	blobs       driven.BlobStore
	queue       driven.TaskQueue
	normalisers driven.NormaliserRegistry
	pipeline    *PipelineService
	maxBytes    int64
	logger      *slog.Logger
}

// AdmissionConfig holds the dependencies of the admission gate.
type AdmissionConfig struct {
	Documents   driven.DocumentStore
	Blobs       driven.BlobStore
	Queue       driven.TaskQueue
	Normalisers driven.NormaliserRegistry
	Pipeline    *PipelineService
	MaxBytes    int64 // Upload size limit (default: 100 MiB)
	Logger      *slog.Logger
}

// NewAdmissionService creates the admission gate.
func NewAdmissionService(cfg AdmissionConfig) driving.AdmissionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &admissionService{
		documents:   cfg.Documents,
		blobs:       cfg.Blobs,
		queue:       cfg.Queue,
		normalisers: cfg.Normalisers,
		pipeline:    cfg.Pipeline,
		maxBytes:    maxBytes,
		logger:      logger,
	}
}

// Admit deduplicates an upload by content hash and starts the pipeline for
// new documents. The same bytes always resolve to the same document, even
// under concurrent uploads.
func (s *admissionService) Admit(ctx context.Context, data []byte, hint driving.AdmissionHint) (*driving.AdmitResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", domain.ErrTooLarge, len(data), s.maxBytes)
	}
	docType, err := domain.ParseDocumentType(hint.DocumentType)
	if err != nil {
		return nil, err
	}

	mimeType := resolveMIMEType(data, hint.MimeType)
	if s.normalisers.Get(mimeType) == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedInput, mimeType)
	}

	hash := normalize.ContentHash(data)
	if existing, err := s.documents.GetByHash(ctx, hash); err == nil {
		return &driving.AdmitResult{DocumentID: existing.ID, IsNew: false, Document: existing}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	var superseded *domain.Document
	if hint.Supersedes != "" {
		superseded, err = s.documents.Get(ctx, hint.Supersedes)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: superseded document %s does not exist", domain.ErrInvalidInput, hint.Supersedes)
			}
			return nil, err
		}
	}

	locator, err := s.blobs.Put(ctx, "sha256/"+hash, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := domain.NewDocument(hash, int64(len(data)), docType)
	doc.StorageLocator = locator
	doc.Filename = strings.TrimSpace(hint.Filename)
	doc.MimeType = mimeType
	doc.Manufacturer = strings.TrimSpace(hint.Manufacturer)
	doc.Products = cleanList(hint.Products)
	doc.Language = strings.TrimSpace(hint.Language)

	stored, created, err := s.documents.CreateIfAbsent(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if !created {
		return &driving.AdmitResult{DocumentID: stored.ID, IsNew: false, Document: stored}, nil
	}

	if superseded != nil && superseded.ID != stored.ID {
		if err := s.documents.Supersede(ctx, stored.ID, superseded.ID); err != nil {
			s.logger.Warn("failed to link superseded document",
				"document_id", stored.ID,
				"supersedes", superseded.ID,
				"error", err,
			)
		} else {
			stored.Supersedes = superseded.ID
		}
	}

	task := s.pipeline.NewStageTask(domain.TaskTypeExtractText, stored, stored.ID, hint.Priority)
	if _, err := s.queue.Enqueue(ctx, task); err != nil {
		// The document exists; the maintenance sweep restarts its pipeline.
		s.logger.Error("failed to enqueue extraction",
			"document_id", stored.ID,
			"error", err,
		)
	}

	s.logger.Info("document admitted",
		"document_id", stored.ID,
		"type", stored.Type,
		"mime_type", mimeType,
		"size_bytes", stored.SizeBytes,
	)
	return &driving.AdmitResult{DocumentID: stored.ID, IsNew: true, Document: stored}, nil
}

// resolveMIMEType sniffs the content type. A text/* hint refines plain text
// detection, since markdown and csv sniff as text/plain.
func resolveMIMEType(data []byte, hinted string) string {
	detected := mimetype.Detect(data)
	hinted = baseMIMEType(hinted)
	if detected.Is("text/plain") && strings.HasPrefix(hinted, "text/") {
		return hinted
	}
	return baseMIMEType(detected.String())
}

func baseMIMEType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
