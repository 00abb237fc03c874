package chunker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Sizing bounds chunk sizes in words.
type Sizing struct {
	// TargetWords is the size strategies grow a chunk towards
	TargetWords int `yaml:"target_words" json:"target_words"`

	// OverlapWords is how much trailing text of the previous chunk is repeated
	OverlapWords int `yaml:"overlap_words" json:"overlap_words"`

	// MinWords is the size paragraph and section merging tries to reach
	MinWords int `yaml:"min_words" json:"min_words"`

	// MaxWords caps a chunk's text including its overlap
	MaxWords int `yaml:"max_words" json:"max_words"`
}

// DefaultSizing targets 1000 words with a 12% overlap.
func DefaultSizing() Sizing {
	return Sizing{
		TargetWords:  1000,
		OverlapWords: 120,
		MinWords:     150,
		MaxWords:     1500,
	}
}

// overlay returns s with every non-zero field of o applied.
func (s Sizing) overlay(o Sizing) Sizing {
	if o.TargetWords > 0 {
		s.TargetWords = o.TargetWords
	}
	if o.OverlapWords > 0 {
		s.OverlapWords = o.OverlapWords
	}
	if o.MinWords > 0 {
		s.MinWords = o.MinWords
	}
	if o.MaxWords > 0 {
		s.MaxWords = o.MaxWords
	}
	return s
}

// normalized fills derived limits so every invariant the strategies rely on holds.
func (s Sizing) normalized() Sizing {
	if s.TargetWords <= 0 {
		s.TargetWords = DefaultSizing().TargetWords
	}
	if s.OverlapWords < 0 {
		s.OverlapWords = 0
	}
	if s.OverlapWords >= s.TargetWords {
		s.OverlapWords = s.TargetWords / 2
	}
	if s.MinWords <= 0 || s.MinWords > s.TargetWords {
		s.MinWords = s.TargetWords / 5
	}
	if s.MaxWords < s.TargetWords+s.OverlapWords {
		s.MaxWords = s.TargetWords + s.OverlapWords
	}
	return s
}

// Validate rejects sizings that cannot be satisfied.
func (s Sizing) Validate() error {
	if s.TargetWords <= 0 {
		return fmt.Errorf("%w: target_words must be positive", domain.ErrInvalidInput)
	}
	if s.OverlapWords < 0 || s.OverlapWords >= s.TargetWords {
		return fmt.Errorf("%w: overlap_words must be in [0, target_words)", domain.ErrInvalidInput)
	}
	if s.MaxWords != 0 && s.MaxWords < s.TargetWords+s.OverlapWords {
		return fmt.Errorf("%w: max_words must be at least target_words + overlap_words", domain.ErrInvalidInput)
	}
	return nil
}

// ManufacturerRules overrides sizing and strategy for one manufacturer.
type ManufacturerRules struct {
	Default    Sizing                         `yaml:"default"`
	ByType     map[domain.DocumentType]Sizing `yaml:"by_type"`
	Strategies map[string]string              `yaml:"strategies"` // document type or "*"
}

// Table is the chunking configuration: sizes and preferred strategies per
// document type, with manufacturer overrides.
type Table struct {
	Default        Sizing                         `yaml:"default"`
	ByType         map[domain.DocumentType]Sizing `yaml:"by_type"`
	Strategies     map[domain.DocumentType]string `yaml:"strategies"`
	ByManufacturer map[string]ManufacturerRules   `yaml:"by_manufacturer"`
}

// DefaultTable prefers structure where manuals usually have it and
// context-preserving splits for code and parts listings.
func DefaultTable() *Table {
	return &Table{
		Default: DefaultSizing(),
		ByType: map[domain.DocumentType]Sizing{
			domain.DocumentTypeErrorCodeDatabase: {TargetWords: 400, OverlapWords: 40, MinWords: 50},
			domain.DocumentTypePartsCatalog:      {TargetWords: 600, OverlapWords: 60, MinWords: 80},
			domain.DocumentTypeTranscript:        {TargetWords: 800, OverlapWords: 100},
		},
		Strategies: map[domain.DocumentType]string{
			domain.DocumentTypeServiceManual:     StructureAware,
			domain.DocumentTypePartsCatalog:      ContextPreserving,
			domain.DocumentTypeBulletin:          ParagraphAware,
			domain.DocumentTypeErrorCodeDatabase: ContextPreserving,
			domain.DocumentTypeTranscript:        SentenceAware,
		},
		ByManufacturer: map[string]ManufacturerRules{},
	}
}

// ParseTable reads the "chunking" section of a catalog document and merges
// it over the default table. Other top-level keys are ignored.
func ParseTable(data []byte) (*Table, error) {
	table := DefaultTable()
	if len(data) == 0 {
		return table, nil
	}
	var doc struct {
		Chunking *Table `yaml:"chunking"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse chunking table: %w", err)
	}
	if doc.Chunking == nil {
		return table, nil
	}
	o := doc.Chunking
	table.Default = table.Default.overlay(o.Default)
	for t, s := range o.ByType {
		table.ByType[t] = table.ByType[t].overlay(s)
	}
	for t, name := range o.Strategies {
		table.Strategies[t] = name
	}
	for m, rules := range o.ByManufacturer {
		table.ByManufacturer[strings.ToLower(m)] = rules
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks every sizing and strategy name in the table.
func (t *Table) Validate() error {
	check := func(where string, s Sizing) error {
		if err := t.Default.overlay(s).Validate(); err != nil {
			return fmt.Errorf("chunking %s: %w", where, err)
		}
		return nil
	}
	if err := check("default", Sizing{}); err != nil {
		return err
	}
	for typ, s := range t.ByType {
		if err := check(string(typ), s); err != nil {
			return err
		}
	}
	for typ, name := range t.Strategies {
		if !IsStrategy(name) {
			return fmt.Errorf("%w: chunking strategy %q for %s", domain.ErrInvalidInput, name, typ)
		}
	}
	for m, rules := range t.ByManufacturer {
		if err := check(m, rules.Default); err != nil {
			return err
		}
		for _, name := range rules.Strategies {
			if !IsStrategy(name) {
				return fmt.Errorf("%w: chunking strategy %q for %s", domain.ErrInvalidInput, name, m)
			}
		}
	}
	return nil
}

// Sizing resolves the sizes for a document: default, then document type,
// then manufacturer default, then manufacturer by type.
func (t *Table) Sizing(docType domain.DocumentType, manufacturer string) Sizing {
	s := t.Default.overlay(t.ByType[docType])
	if rules, ok := t.ByManufacturer[strings.ToLower(strings.TrimSpace(manufacturer))]; ok {
		s = s.overlay(rules.Default).overlay(rules.ByType[docType])
	}
	return s.normalized()
}

// Preferred returns the configured strategy for a document before any
// downgrade. Sentence-aware is the documented fallback.
func (t *Table) Preferred(docType domain.DocumentType, manufacturer string) string {
	if rules, ok := t.ByManufacturer[strings.ToLower(strings.TrimSpace(manufacturer))]; ok {
		if name, ok := rules.Strategies[string(docType)]; ok {
			return name
		}
		if name, ok := rules.Strategies["*"]; ok {
			return name
		}
	}
	if name, ok := t.Strategies[docType]; ok {
		return name
	}
	return SentenceAware
}
