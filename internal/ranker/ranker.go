// Package ranker merges exact, fuzzy, full-text and vector similarity into
// one ordering. The final score of a candidate is the maximum of its partial
// scores, so any single strong signal surfaces a result.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// NonExactCeiling caps every partial score except exact match, so an exact
// code match is strictly above anything merely similar.
const NonExactCeiling = 0.99

// Weights scale the partial scores before the maximum is taken. All ones
// gives the plain maximum.
type Weights struct {
	Exact    float64 `yaml:"exact" json:"exact"`
	Fuzzy    float64 `yaml:"fuzzy" json:"fuzzy"`
	FullText float64 `yaml:"full_text" json:"full_text"`
	Vector   float64 `yaml:"vector" json:"vector"`
}

// Config configures a Ranker.
type Config struct {
	// MinScore drops results whose final score is below it
	MinScore float64
	Weights  Weights
}

// DefaultConfig returns unit weights and a 0.3 threshold.
func DefaultConfig() Config {
	return Config{
		MinScore: 0.3,
		Weights:  Weights{Exact: 1, Fuzzy: 1, FullText: 1, Vector: 1},
	}
}

// Query is a prepared search query.
type Query struct {
	Text       string
	Normalized string    // normalize.Code(Text)
	Vector     []float32 // nil when no embedding is available
}

// NewQuery prepares a query for scoring.
func NewQuery(text string, vector []float32) Query {
	return Query{
		Text:       strings.TrimSpace(text),
		Normalized: normalize.Code(text),
		Vector:     vector,
	}
}

// Ranker scores and orders candidates.
type Ranker struct {
	config Config
}

// New creates a ranker. Zero weights fall back to 1.
func New(config Config) *Ranker {
	w := &config.Weights
	for _, f := range []*float64{&w.Exact, &w.Fuzzy, &w.FullText, &w.Vector} {
		if *f <= 0 {
			*f = 1
		}
	}
	return &Ranker{config: config}
}

// Score computes the partial and final scores of one candidate. The second
// return value is the raw code that matched exactly, if any.
func (r *Ranker) Score(q Query, c *domain.Candidate) (domain.Scores, string) {
	var s domain.Scores
	codes, raws := candidateCodes(c)
	body := candidateText(c)

	matched := ""
	if q.Normalized != "" {
		for i, code := range codes {
			if code == q.Normalized {
				s.Exact = 1
				matched = raws[i]
				break
			}
		}
	}

	for _, code := range codes {
		s.Fuzzy = math.Max(s.Fuzzy, Similarity(q.Normalized, code))
	}
	s.Fuzzy = math.Max(s.Fuzzy, WordSimilarity(q.Text, body))
	s.FullText = FullText(q.Text, body)
	if q.Vector != nil && c.Vector != nil {
		s.Vector = Cosine(q.Vector, c.Vector)
	}

	s.Fuzzy = math.Min(s.Fuzzy, NonExactCeiling)
	s.FullText = math.Min(s.FullText, NonExactCeiling)
	s.Vector = math.Min(s.Vector, NonExactCeiling)

	w := r.config.Weights
	similar := math.Max(w.Fuzzy*s.Fuzzy, math.Max(w.FullText*s.FullText, w.Vector*s.Vector))
	s.Final = round(math.Max(w.Exact*s.Exact, math.Min(similar, NonExactCeiling)))
	return s, matched
}

// Rank scores every candidate, drops those below MinScore and returns at
// most limit results ordered by final score, then exact match, then ID.
// It never pads the result.
func (r *Ranker) Rank(q Query, candidates []*domain.Candidate, limit int) []*domain.SearchResult {
	results := make([]*domain.SearchResult, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		id := c.ID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		scores, matched := r.Score(q, c)
		if scores.Final <= 0 || scores.Final < r.config.MinScore {
			continue
		}
		results = append(results, &domain.SearchResult{
			Kind:        c.Kind,
			Chunk:       c.Chunk,
			Entry:       c.Entry,
			Document:    c.Document,
			Score:       scores.Final,
			Scores:      scores,
			MatchedCode: matched,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.Scores.Exact == 1) != (b.Scores.Exact == 1) {
			return a.Scores.Exact == 1
		}
		return resultID(a) < resultID(b)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// candidateCodes returns the normalized codes of a candidate alongside the
// raw form each came from.
func candidateCodes(c *domain.Candidate) (normalized, raw []string) {
	add := func(n, r string) {
		if n != "" {
			normalized = append(normalized, n)
			raw = append(raw, r)
		}
	}
	switch {
	case c.Entry != nil:
		add(c.Entry.NormalizedCode, c.Entry.Code)
		for _, f := range c.Entry.AlternativeForms {
			add(normalize.Code(f), f)
		}
	case c.Chunk != nil:
		for _, code := range c.Chunk.ErrorCodes {
			add(normalize.Code(code), code)
		}
		for _, n := range c.Chunk.NormalizedCodes {
			add(n, n)
		}
	}
	return normalized, raw
}

func candidateText(c *domain.Candidate) string {
	switch {
	case c.Entry != nil:
		return c.Entry.Code + " " + c.Entry.Description + " " + c.Entry.Remediation
	case c.Chunk != nil:
		return c.Chunk.Text
	}
	return ""
}

func resultID(r *domain.SearchResult) string {
	if r.Chunk != nil {
		return r.Chunk.ID
	}
	if r.Entry != nil {
		return r.Entry.ID
	}
	return ""
}

func round(f float64) float64 {
	return math.Round(f*10000) / 10000
}
