package domain

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType classifies an uploaded manual
type DocumentType string

const (
	DocumentTypeServiceManual     DocumentType = "service_manual"
	DocumentTypePartsCatalog      DocumentType = "parts_catalog"
	DocumentTypeBulletin          DocumentType = "bulletin"
	DocumentTypeErrorCodeDatabase DocumentType = "error_code_database"
	DocumentTypeTranscript        DocumentType = "transcript"
)

// AllDocumentTypes lists every supported document type
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeServiceManual,
		DocumentTypePartsCatalog,
		DocumentTypeBulletin,
		DocumentTypeErrorCodeDatabase,
		DocumentTypeTranscript,
	}
}

// IsValid reports whether t is a known document type
func (t DocumentType) IsValid() bool {
	for _, known := range AllDocumentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseDocumentType converts a user-supplied hint into a DocumentType.
// An empty hint defaults to service_manual.
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DocumentTypeServiceManual, nil
	}
	t := DocumentType(strings.ReplaceAll(s, "-", "_"))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// DocumentStatus is the processing state of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further pipeline work will change the status
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// Document represents one uploaded file
type Document struct {
	ID             string         `json:"id"`
	ContentHash    string         `json:"content_hash"`           // sha256 hex, globally unique
	StorageLocator string         `json:"storage_locator"`        // where the original bytes live
	TextLocator    string         `json:"text_locator,omitempty"` // extracted text of the current pass
	Filename       string         `json:"filename,omitempty"`
	MimeType       string         `json:"mime_type"`
	SizeBytes      int64          `json:"size_bytes"`
	PageCount      int            `json:"page_count"`
	Type           DocumentType   `json:"type"`
	Manufacturer   string         `json:"manufacturer,omitempty"`
	Products       []string       `json:"products,omitempty"`
	Language       string         `json:"language,omitempty"`
	Status         DocumentStatus `json:"status"`
	Progress       int            `json:"progress"` // 0-100
	Error          string         `json:"error,omitempty"`

	// Pass counts processing generations. Reprocessing increments it so
	// that the tasks of a new pass never collide with the previous ones.
	Pass int `json:"pass"`

	Supersedes   string    `json:"supersedes,omitempty"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewDocument creates a pending document for the given content hash
func NewDocument(contentHash string, size int64, docType DocumentType) *Document {
	now := time.Now()
	return &Document{
		ID:          GenerateID(),
		ContentHash: contentHash,
		SizeBytes:   size,
		Type:        docType,
		Status:      DocumentStatusPending,
		Pass:        1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Searchable reports whether chunks of this document may appear in search results
func (d *Document) Searchable() bool {
	return d.Status == DocumentStatusCompleted && d.SupersededBy == ""
}

// ChunkStatus is the processing state of a chunk
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// EmbeddingStatus tracks the vector for a chunk independently of its text
type EmbeddingStatus string

const (
	EmbeddingStatusPending   EmbeddingStatus = "pending"
	EmbeddingStatusCompleted EmbeddingStatus = "completed"
	EmbeddingStatusFailed    EmbeddingStatus = "failed"
)

// Chunk is a contiguous span of a document's text
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"` // 0-based, dense
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	Text       string `json:"text"`

	// StartOffset and EndOffset delimit the span of the document text this
	// chunk owns. Text may additionally carry overlap from the previous span.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	TokenCount  int    `json:"token_count"`
	Fingerprint string `json:"fingerprint"`
	Strategy    string `json:"strategy"`
	Section     string `json:"section,omitempty"`
	Subsection  string `json:"subsection,omitempty"`

	ErrorCodes      []string `json:"error_codes"`
	NormalizedCodes []string `json:"normalized_codes"`
	PartNumbers     []string `json:"part_numbers"`

	QualityScore    float64         `json:"quality_score"`
	Status          ChunkStatus     `json:"status"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Embedding is one vector per (chunk, model) pair
type Embedding struct {
	ChunkID    string    `json:"chunk_id"`
	Model      string    `json:"model"`
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Severity ranks an error code, 1 is critical and 5 is informational
type Severity int

const (
	SeverityCritical Severity = 1
	SeverityHigh     Severity = 2
	SeverityMedium   Severity = 3
	SeverityLow      Severity = 4
	SeverityInfo     Severity = 5
)

// Clamp forces s into the 1..5 range, treating unknown as medium
func (s Severity) Clamp() Severity {
	if s < SeverityCritical || s > SeverityInfo {
		return SeverityMedium
	}
	return s
}

// ErrorCodeEntry is manufacturer-scoped error code knowledge, distinct from
// chunk-level mentions of the code.
type ErrorCodeEntry struct {
	ID               string    `json:"id"`
	Manufacturer     string    `json:"manufacturer"`
	Code             string    `json:"code"`
	NormalizedCode   string    `json:"normalized_code"`
	Description      string    `json:"description"`
	Remediation      string    `json:"remediation,omitempty"`
	Severity         Severity  `json:"severity"`
	AlternativeForms []string  `json:"alternative_forms,omitempty"`
	SourceDocumentID string    `json:"source_document_id"`
	SourceChunkID    string    `json:"source_chunk_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MergeForms adds raw forms not already present, keeping first-seen order
func (e *ErrorCodeEntry) MergeForms(forms ...string) {
	seen := make(map[string]bool, len(e.AlternativeForms))
	for _, f := range e.AlternativeForms {
		seen[f] = true
	}
	for _, f := range forms {
		if f == "" || f == e.Code || seen[f] {
			continue
		}
		seen[f] = true
		e.AlternativeForms = append(e.AlternativeForms, f)
	}
}

// DocumentStatusReport is what operators and uploaders poll
type DocumentStatusReport struct {
	Document       *Document                `json:"document"`
	ChunkCount     int                      `json:"chunk_count"`
	EmbeddedChunks int                      `json:"embedded_chunks"`
	FailedChunks   int                      `json:"failed_chunks"`
	Tasks          map[TaskType]StageCounts `json:"tasks"`
}
