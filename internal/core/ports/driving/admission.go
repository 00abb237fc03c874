package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// AdmissionHint is the optional metadata delivered with an upload
type AdmissionHint struct {
	Filename     string   `json:"filename,omitempty"`
	MimeType     string   `json:"mime_type,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Products     []string `json:"products,omitempty"`
	Language     string   `json:"language,omitempty"`

	// Priority of the document's pipeline tasks (1 = highest, 0 = default)
	Priority int `json:"priority,omitempty"`

	// Supersedes is the ID of an older document this upload replaces
	Supersedes string `json:"supersedes,omitempty"`
}

// AdmitResult is the outcome of admitting an upload
type AdmitResult struct {
	DocumentID string           `json:"document_id"`
	IsNew      bool             `json:"is_new"`
	Document   *domain.Document `json:"document"`
}

// AdmissionService is the deduplication gate in front of the pipeline
type AdmissionService interface {
	// Admit validates the upload and creates a pending document unless one
	// with the same content hash exists. The first pipeline task is enqueued
	// only for new documents. Validation failures wrap
	// domain.ErrInvalidInput, domain.ErrUnsupportedInput or domain.ErrTooLarge.
	Admit(ctx context.Context, data []byte, hint AdmissionHint) (*AdmitResult, error)
}
