package domain

import "testing"

func TestDefaultSearchOptions(t *testing.T) {
	opts := DefaultSearchOptions()
	if opts.MaxResults != 20 {
		t.Errorf("expected max results 20, got %d", opts.MaxResults)
	}
	if !opts.Filters.IsEmpty() {
		t.Error("expected no filters by default")
	}
}

func TestSearchFiltersIsEmpty(t *testing.T) {
	f := SearchFilters{DocumentTypes: []DocumentType{DocumentTypeBulletin}}
	if f.IsEmpty() {
		t.Error("expected filters to be non-empty")
	}
}

func TestCandidateID(t *testing.T) {
	c := &Candidate{Kind: ResultKindChunk, Chunk: &Chunk{ID: "chunk-1"}}
	if c.ID() != "chunk-1" {
		t.Errorf("expected chunk-1, got %s", c.ID())
	}

	e := &Candidate{Kind: ResultKindErrorCode, Entry: &ErrorCodeEntry{ID: "entry-1"}}
	if e.ID() != "entry-1" {
		t.Errorf("expected entry-1, got %s", e.ID())
	}

	if (&Candidate{}).ID() != "" {
		t.Error("empty candidate should have empty id")
	}
}
