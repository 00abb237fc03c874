package driven

import (
	"context"
)

// ExtractedText is the plain text of a stored file. Pages are separated by
// form feeds so downstream stages can recover page numbers.
type ExtractedText struct {
	Text      string
	PageCount int
}

// Normaliser turns raw file bytes of a MIME type into plain text.
type Normaliser interface {
	// Normalise extracts text from data. The mimeType helps determine the
	// appropriate processing.
	Normalise(ctx context.Context, data []byte, mimeType string) (*ExtractedText, error)

	// SupportedTypes returns MIME types this normaliser handles.
	// Can include wildcards like "text/*" or specific types like "application/pdf".
	SupportedTypes() []string

	// Priority returns the normaliser priority (higher = more specific).
	// Priority ranges:
	//   50-89:  Format-specific (PDF, Markdown, HTML)
	//   10-49:  Generic (basic text processing)
	//   1-9:    Fallback (raw text extraction)
	Priority() int
}

// NormaliserRegistry manages content normalisers.
// When multiple normalisers match a MIME type, the highest priority one is used.
type NormaliserRegistry interface {
	// Get retrieves the best-matching normaliser for a MIME type.
	// Returns nil if no normaliser is registered for the type.
	Get(mimeType string) Normaliser

	// GetAll retrieves all normalisers that match a MIME type, sorted by priority (highest first).
	GetAll(mimeType string) []Normaliser

	// Register registers a normaliser.
	Register(normaliser Normaliser)

	// List returns all registered MIME types.
	List() []string
}

// TextProcessor applies one cleanup step to extracted text.
type TextProcessor interface {
	// Process returns the cleaned text. It must keep form feeds and blank
	// lines, which carry page and paragraph boundaries.
	Process(text string) string

	// Name returns the processor name for logging/debugging.
	Name() string

	// Order returns the processor order in the pipeline (lower = earlier).
	Order() int
}

// TextPipeline chains text processors in order.
type TextPipeline interface {
	// Process applies all processors in order.
	Process(text string) string

	// Add adds a processor to the pipeline.
	// Processors are sorted by Order() before processing.
	Add(processor TextProcessor)

	// List returns processor names in order.
	List() []string
}
