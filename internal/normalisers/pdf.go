package normalisers

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// PDFNormaliser extracts the text layer of native or OCR'd PDFs with MuPDF.
// Pages are joined with form feeds.
type PDFNormaliser struct {
	// MaxPages stops extraction after this many pages, 0 means no limit
	MaxPages int
}

// NewPDFNormaliser creates a PDF normaliser without a page limit.
func NewPDFNormaliser() *PDFNormaliser {
	return &PDFNormaliser{}
}

func (n *PDFNormaliser) Normalise(ctx context.Context, data []byte, mimeType string) (*driven.ExtractedText, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", domain.ErrUnsupportedInput, err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", domain.ErrUnsupportedInput)
	}
	if n.MaxPages > 0 && pageCount > n.MaxPages {
		pageCount = n.MaxPages
	}

	pages := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		pages = append(pages, strings.ReplaceAll(text, "\f", "\n"))
	}

	return &driven.ExtractedText{
		Text:      strings.Join(pages, "\f"),
		PageCount: pageCount,
	}, nil
}

func (n *PDFNormaliser) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (n *PDFNormaliser) Priority() int {
	return 60
}
