// Package chunker splits document text into ordered, overlapping chunks using
// one of several strategies selected per document type and manufacturer.
package chunker

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// Draft is a chunk before it is persisted.
type Draft struct {
	Index int `json:"index"`

	// Owned is the span of the document this chunk is responsible for.
	// Owned spans tile the text with no gaps and no overlap.
	Owned Span `json:"owned"`

	// TextStart is where Text begins; before Owned.Start when overlap
	// from the previous chunk is included.
	TextStart int `json:"text_start"`

	Text         string  `json:"text"`
	Words        int     `json:"words"`
	TokenCount   int     `json:"token_count"`
	StartPage    int     `json:"start_page"`
	EndPage      int     `json:"end_page"`
	Section      string  `json:"section,omitempty"`
	Subsection   string  `json:"subsection,omitempty"`
	Fingerprint  string  `json:"fingerprint"`
	QualityScore float64 `json:"quality_score"`
}

// Result is the output of one chunking pass.
type Result struct {
	Strategy string  `json:"strategy"`
	Sizing   Sizing  `json:"sizing"`
	Drafts   []Draft `json:"drafts"`
}

// Chunker selects a strategy and turns its spans into drafts.
type Chunker struct {
	registry *Registry
	table    *Table
}

// New creates a chunker. Nil arguments use the defaults.
func New(registry *Registry, table *Table) *Chunker {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if table == nil {
		table = DefaultTable()
	}
	return &Chunker{registry: registry, table: table}
}

// Table returns the configuration table in use.
func (c *Chunker) Table() *Table {
	return c.table
}

// Chunk splits text for a document of the given type and manufacturer.
// When hints is nil they are detected without a code-line matcher.
func (c *Chunker) Chunk(text string, docType domain.DocumentType, manufacturer string, hints *Hints) (*Result, error) {
	if hints == nil {
		hints = DetectStructure(text, nil)
	}
	name := Select(docType, manufacturer, hints, c.table)
	return c.ChunkWith(name, text, c.table.Sizing(docType, manufacturer), hints)
}

// ChunkWith runs a named strategy with explicit sizing.
func (c *Chunker) ChunkWith(name, text string, sizing Sizing, hints *Hints) (*Result, error) {
	strategy, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if hints == nil {
		hints = DetectStructure(text, nil)
	}
	sizing = sizing.normalized()
	res := &Result{Strategy: name, Sizing: sizing, Drafts: []Draft{}}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	spans := strategy.Split(text, sizing, hints)
	if err := checkTiling(spans, len(text)); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}

	d := newDocument(text)
	for i, owned := range spans {
		textStart := owned.Start
		if i > 0 && sizing.OverlapWords > 0 {
			textStart = d.overlapStart(spans[i-1], sizing.OverlapWords)
		}
		body := strings.TrimSpace(text[textStart:owned.End])
		words := d.wordCount(Span{textStart, owned.End})
		contentStart := owned.Start + leadingSpace(text[owned.Start:owned.End])
		section, subsection := hints.SectionAt(contentStart)

		res.Drafts = append(res.Drafts, Draft{
			Index:        i,
			Owned:        owned,
			TextStart:    textStart,
			Text:         body,
			Words:        words,
			TokenCount:   EstimateTokens(words),
			StartPage:    hints.PageAt(contentStart),
			EndPage:      hints.PageAt(lastContent(text, owned)),
			Section:      section,
			Subsection:   subsection,
			Fingerprint:  normalize.Fingerprint(body, i),
			QualityScore: quality(body, words, sizing),
		})
	}
	return res, nil
}

// overlapStart returns where the last n words of prev begin.
func (d *document) overlapStart(prev Span, n int) int {
	lo, hi := d.wordRange(prev)
	if hi-lo == 0 {
		return prev.End
	}
	if hi-lo < n {
		return d.words[lo].Start
	}
	return d.words[hi-n].Start
}

func checkTiling(spans []Span, n int) error {
	if len(spans) == 0 {
		return fmt.Errorf("no spans for %d bytes of text", n)
	}
	if spans[0].Start != 0 || spans[len(spans)-1].End != n {
		return fmt.Errorf("spans do not cover the text")
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start != spans[i-1].End || spans[i].Len() <= 0 {
			return fmt.Errorf("span %d leaves a gap or overlap", i)
		}
	}
	return nil
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

func lastContent(text string, s Span) int {
	trimmed := strings.TrimRightFunc(text[s.Start:s.End], unicode.IsSpace)
	if trimmed == "" {
		return s.Start
	}
	return s.Start + len(trimmed) - 1
}

// EstimateTokens approximates model tokens from a word count.
func EstimateTokens(words int) int {
	return int(math.Ceil(float64(words) * 1.3))
}

// quality scores a chunk in [0,1] from the share of alphanumeric characters
// and how close it is to a useful size.
func quality(text string, words int, s Sizing) float64 {
	var alnum, visible int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if visible == 0 {
		return 0
	}
	size := 1.0
	if s.MinWords > 0 && words < s.MinWords {
		size = float64(words) / float64(s.MinWords)
	}
	score := float64(alnum) / float64(visible) * (0.5 + 0.5*size)
	return math.Round(score*1000) / 1000
}
