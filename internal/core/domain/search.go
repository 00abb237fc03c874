package domain

import "time"

// SearchFilters are hard predicates applied before scoring
type SearchFilters struct {
	Manufacturers []string       `json:"manufacturers,omitempty"`
	Products      []string       `json:"products,omitempty"`
	DocumentTypes []DocumentType `json:"document_types,omitempty"`
}

// IsEmpty reports whether no filter is set
func (f SearchFilters) IsEmpty() bool {
	return len(f.Manufacturers) == 0 && len(f.Products) == 0 && len(f.DocumentTypes) == 0
}

// SearchOptions configures a search request
type SearchOptions struct {
	Filters    SearchFilters `json:"filters"`
	MaxResults int           `json:"max_results"`
}

// DefaultSearchOptions returns sensible defaults
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{MaxResults: 20}
}

// ResultKind distinguishes chunk hits from error code knowledge hits
type ResultKind string

const (
	ResultKindChunk     ResultKind = "chunk"
	ResultKindErrorCode ResultKind = "error_code"
)

// Candidate is one scorable item returned by a candidate store.
// Exactly one of Chunk or Entry is set.
type Candidate struct {
	Kind     ResultKind      `json:"kind"`
	Chunk    *Chunk          `json:"chunk,omitempty"`
	Entry    *ErrorCodeEntry `json:"entry,omitempty"`
	Document *Document       `json:"document,omitempty"`

	// Vector is the chunk embedding for the active model, nil when absent
	Vector []float32 `json:"-"`
}

// ID returns the id of the underlying chunk or entry
func (c *Candidate) ID() string {
	if c.Chunk != nil {
		return c.Chunk.ID
	}
	if c.Entry != nil {
		return c.Entry.ID
	}
	return ""
}

// Scores holds the four partial scores and the merged final score
type Scores struct {
	Exact    float64 `json:"exact"`
	Fuzzy    float64 `json:"fuzzy"`
	FullText float64 `json:"full_text"`
	Vector   float64 `json:"vector"`
	Final    float64 `json:"final"`
}

// SearchResult is one ranked hit
type SearchResult struct {
	Kind        ResultKind      `json:"kind"`
	Chunk       *Chunk          `json:"chunk,omitempty"`
	Entry       *ErrorCodeEntry `json:"entry,omitempty"`
	Document    *Document       `json:"document,omitempty"`
	Score       float64         `json:"score"`
	Scores      Scores          `json:"scores"`
	MatchedCode string          `json:"matched_code,omitempty"`
}

// SearchResponse is the result of a search query
type SearchResponse struct {
	Query           string          `json:"query"`
	NormalizedQuery string          `json:"normalized_query"`
	Results         []*SearchResult `json:"results"`
	VectorUsed      bool            `json:"vector_used"`
	Took            time.Duration   `json:"took" swaggertype:"integer" example:"1500000"`
}
