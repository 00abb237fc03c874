package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// SearchService handles hybrid search over processed documents
type SearchService interface {
	// Search ranks chunks and error code entries of completed documents
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)

	// LookupCode returns the error code entries whose normalized code
	// matches code. An empty manufacturer searches every manufacturer.
	LookupCode(ctx context.Context, manufacturer, code string) ([]*domain.ErrorCodeEntry, error)
}
