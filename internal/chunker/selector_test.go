package chunker

import (
	"testing"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestSelect(t *testing.T) {
	structured := &Hints{
		Headings:   []Heading{{Offset: 0, Level: 1, Title: "A"}, {Offset: 10, Level: 1, Title: "B"}},
		Sentences:  5,
		Paragraphs: 3,
		Procedures: 2,
	}
	procedural := &Hints{Sentences: 5, Procedures: 3}
	proseOnly := &Hints{Sentences: 5, Paragraphs: 1}
	paragraphs := &Hints{Sentences: 5, Paragraphs: 4}
	bare := &Hints{Sentences: 1}

	tests := []struct {
		name    string
		docType domain.DocumentType
		hints   *Hints
		want    string
	}{
		{"manual with headings", domain.DocumentTypeServiceManual, structured, StructureAware},
		{"manual without headings", domain.DocumentTypeServiceManual, procedural, ContextPreserving},
		{"manual of plain prose", domain.DocumentTypeServiceManual, proseOnly, SentenceAware},
		{"manual with one sentence", domain.DocumentTypeServiceManual, bare, WordWindow},
		{"transcript never upgrades", domain.DocumentTypeTranscript, structured, SentenceAware},
		{"parts catalog never upgrades", domain.DocumentTypePartsCatalog, structured, ContextPreserving},
		{"bulletin with paragraphs", domain.DocumentTypeBulletin, paragraphs, ParagraphAware},
		{"bulletin without paragraphs", domain.DocumentTypeBulletin, proseOnly, SentenceAware},
		{"bulletin without sentences", domain.DocumentTypeBulletin, bare, WordWindow},
		{"nil hints", domain.DocumentTypeServiceManual, nil, WordWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.docType, "", tt.hints, nil); got != tt.want {
				t.Errorf("Select() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSelect_ManufacturerOverride(t *testing.T) {
	table := DefaultTable()
	table.ByManufacturer["ricoh"] = ManufacturerRules{
		Strategies: map[string]string{"*": WordWindow},
	}
	hints := &Hints{
		Headings:  []Heading{{Offset: 0, Level: 1}, {Offset: 5, Level: 1}},
		Sentences: 4,
	}
	if got := Select(domain.DocumentTypeServiceManual, "Ricoh", hints, table); got != WordWindow {
		t.Errorf("Select() = %s, want %s", got, WordWindow)
	}
	if got := Select(domain.DocumentTypeServiceManual, "Canon", hints, table); got != StructureAware {
		t.Errorf("Select() = %s, want %s", got, StructureAware)
	}
}

func TestSelect_IsPure(t *testing.T) {
	h := &Hints{Sentences: 3, Procedures: 1}
	first := Select(domain.DocumentTypeErrorCodeDatabase, "hp", h, nil)
	for i := 0; i < 10; i++ {
		if got := Select(domain.DocumentTypeErrorCodeDatabase, "hp", h, nil); got != first {
			t.Fatalf("Select changed from %s to %s", first, got)
		}
	}
}
