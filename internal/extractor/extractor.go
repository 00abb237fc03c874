// Package extractor detects error codes and part numbers in chunk text using
// manufacturer-specific pattern tables.
package extractor

import (
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// Result holds the signals found in one piece of text. All slices are
// non-nil; zero matches is a normal outcome.
type Result struct {
	RawCodes        []string `json:"raw_codes"`
	NormalizedCodes []string `json:"normalized_codes"`
	PartNumbers     []string `json:"part_numbers"`
}

// IsEmpty reports whether nothing was found.
func (r Result) IsEmpty() bool {
	return len(r.RawCodes) == 0 && len(r.PartNumbers) == 0
}

// Extract applies the profile's code rules then its part rules, in order.
// Raw codes keep their original form; part numbers are exact tokens.
func Extract(text string, profile *Profile) Result {
	res := Result{
		RawCodes:        []string{},
		NormalizedCodes: []string{},
		PartNumbers:     []string{},
	}
	if profile == nil || strings.TrimSpace(text) == "" {
		return res
	}

	codes := newOrderedSet()
	for _, rule := range profile.CodePatterns {
		for _, m := range rule.find(text) {
			codes.add(m.raw)
		}
	}
	res.RawCodes = codes.items
	res.NormalizedCodes = normalize.Codes(codes.items)

	parts := newOrderedSet()
	for _, rule := range profile.PartPatterns {
		for _, m := range rule.find(text) {
			if hasDigit(m.raw) {
				parts.add(m.raw)
			}
		}
	}
	res.PartNumbers = parts.items
	return res
}

type match struct {
	raw   string
	start int
	end   int
}

func (r Rule) find(text string) []match {
	idx := r.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]match, 0, len(idx))
	for _, loc := range idx {
		s, e := loc[2*r.group], loc[2*r.group+1]
		if s < 0 {
			continue
		}
		raw := strings.TrimSpace(text[s:e])
		if raw == "" {
			continue
		}
		out = append(out, match{raw: raw, start: s, end: e})
	}
	return out
}

type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: []string{}, seen: map[string]bool{}}
}

func (s *orderedSet) add(v string) {
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
