package chunker

import "github.com/custodia-labs/sercha-ingest/internal/core/domain"

// downgradeChain is the order strategies fall back in when the document
// lacks the structure a strategy needs.
var downgradeChain = []string{StructureAware, ContextPreserving, SentenceAware, WordWindow}

// Select picks the strategy for a document. It is a pure function of the
// document type, manufacturer, hints and configuration table: the preferred
// strategy is taken from the table and then walked down the downgrade chain
// until one whose requirements the hints satisfy. It never upgrades.
func Select(docType domain.DocumentType, manufacturer string, hints *Hints, table *Table) string {
	if table == nil {
		table = DefaultTable()
	}
	if hints == nil {
		hints = &Hints{}
	}
	preferred := table.Preferred(docType, manufacturer)

	if preferred == ParagraphAware {
		if hints.HasParagraphs() {
			return ParagraphAware
		}
		preferred = SentenceAware
	}

	start := -1
	for i, name := range downgradeChain {
		if name == preferred {
			start = i
			break
		}
	}
	if start < 0 {
		return SentenceAware
	}
	for _, name := range downgradeChain[start:] {
		if satisfies(name, hints) {
			return name
		}
	}
	return WordWindow
}

func satisfies(name string, h *Hints) bool {
	switch name {
	case StructureAware:
		return h.HasStructure()
	case ContextPreserving:
		return h.HasSentences() && h.HasBoundaries()
	case SentenceAware:
		return h.HasSentences()
	default:
		return true
	}
}
