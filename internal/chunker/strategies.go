package chunker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Strategy names.
const (
	WordWindow        = "word_window"
	SentenceAware     = "sentence_aware"
	ParagraphAware    = "paragraph_aware"
	ContextPreserving = "context_preserving"
	StructureAware    = "structure_aware"
)

// IsStrategy reports whether name is a built-in strategy.
func IsStrategy(name string) bool {
	switch name {
	case WordWindow, SentenceAware, ParagraphAware, ContextPreserving, StructureAware:
		return true
	}
	return false
}

// Strategy splits text into owned spans. Spans are returned in order and
// tile the text exactly: the first starts at 0, each starts where the
// previous ended, the last ends at len(text). Split must be pure.
type Strategy interface {
	Name() string
	Split(text string, sizing Sizing, hints *Hints) []Span
}

// SplitFunc adapts a function to a Strategy.
type SplitFunc func(text string, sizing Sizing, hints *Hints) []Span

type funcStrategy struct {
	name string
	fn   SplitFunc
}

func (s funcStrategy) Name() string { return s.name }

func (s funcStrategy) Split(text string, sizing Sizing, hints *Hints) []Span {
	if text == "" {
		return nil
	}
	if hints == nil {
		hints = &Hints{}
	}
	return s.fn(text, sizing.normalized(), hints)
}

// NewStrategy wraps fn as a named strategy.
func NewStrategy(name string, fn SplitFunc) Strategy {
	return funcStrategy{name: name, fn: fn}
}

// Registry holds named strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry returns a registry with the five built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewStrategy(WordWindow, splitWordWindow))
	r.Register(NewStrategy(SentenceAware, splitSentenceAware))
	r.Register(NewStrategy(ParagraphAware, splitParagraphAware))
	r.Register(NewStrategy(ContextPreserving, splitContextPreserving))
	r.Register(NewStrategy(StructureAware, splitStructureAware))
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("chunking strategy %q not registered", name)
	}
	return s, nil
}

// List returns the registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// splitWordWindow emits windows of TargetWords words. Every window after the
// first owns TargetWords-OverlapWords new words, so with the overlap added
// back each chunk carries exactly TargetWords words.
func splitWordWindow(text string, s Sizing, _ *Hints) []Span {
	d := newDocument(text)
	if len(d.words) <= s.TargetWords {
		return []Span{{0, len(text)}}
	}
	stride := s.TargetWords - s.OverlapWords
	var out []Span
	start := 0
	for i := s.TargetWords; i < len(d.words); i += stride {
		cut := d.words[i].Start
		out = append(out, Span{start, cut})
		start = cut
	}
	return append(out, Span{start, len(text)})
}

func splitSentenceAware(text string, s Sizing, _ *Hints) []Span {
	d := newDocument(text)
	return d.pack(sentenceSpans(text), s.TargetWords)
}

func splitParagraphAware(text string, s Sizing, _ *Hints) []Span {
	d := newDocument(text)
	var units []Span
	for _, p := range paragraphSpans(text) {
		if d.wordCount(p) <= s.TargetWords {
			units = append(units, p)
			continue
		}
		units = append(units, d.pack(offsetSpans(sentenceSpans(text[p.Start:p.End]), p.Start), s.TargetWords)...)
	}
	return d.pack(units, s.TargetWords)
}

func splitContextPreserving(text string, s Sizing, h *Hints) []Span {
	d := newDocument(text)
	return d.contextSplit(Span{0, len(text)}, s, h)
}

// contextSplit packs the sentences of region like sentence-aware packing but
// lets a chunk grow up to MaxWords-OverlapWords instead of cutting inside a
// numbered procedure, after a line ending in a colon, or right after a line
// carrying an error code or part number.
func (d *document) contextSplit(region Span, s Sizing, h *Hints) []Span {
	segs := offsetSpans(sentenceSpans(d.text[region.Start:region.End]), region.Start)

	steps := make([]int, len(segs))
	stepPrefix := make([]int, len(segs)+1)
	for i, seg := range segs {
		steps[i] = stepNumber(d.text[seg.Start:seg.End])
		stepPrefix[i+1] = stepPrefix[i]
		if steps[i] > 0 {
			stepPrefix[i+1]++
		}
	}

	protect := func(next, first int) bool {
		prev := segs[next-1]
		if steps[next] > 1 && stepPrefix[next]-stepPrefix[first] > 0 {
			return true
		}
		if strings.HasSuffix(strings.TrimSpace(d.text[prev.Start:prev.End]), ":") {
			return true
		}
		return h.touchesCodeLine(prev)
	}
	return d.packWith(segs, s.TargetWords, s.MaxWords-s.OverlapWords, protect)
}

// packWith is pack with protected boundaries. A boundary before segs[next]
// where protect returns true is only cut once the chunk would exceed extend.
func (d *document) packWith(segs []Span, limit, extend int, protect func(next, first int) bool) []Span {
	if extend < limit {
		extend = limit
	}
	var (
		out      []Span
		cur      Span
		curWords int
		first    int
		open     bool
	)
	for i, seg := range segs {
		w := d.wordCount(seg)
		if open && curWords > 0 && curWords+w > limit {
			if !(protect != nil && curWords+w <= extend && protect(i, first)) {
				out = append(out, cur)
				open = false
			}
		}
		if open {
			cur.End = seg.End
			curWords += w
		} else {
			cur, curWords, first, open = seg, w, i, true
		}
		if curWords > extend {
			pieces := d.hardSplit(cur, limit)
			out = append(out, pieces[:len(pieces)-1]...)
			cur = pieces[len(pieces)-1]
			curWords = d.wordCount(cur)
			first = i
		}
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// stepNumber returns n for a segment starting with "n." / "n)" / "Step n",
// or 0 when the segment is not a numbered step.
func stepNumber(seg string) int {
	m := stepMarker.FindStringSubmatch(seg)
	if m == nil {
		return 0
	}
	num := m[1]
	if num == "" {
		num = m[2]
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0
	}
	return n
}

func offsetSpans(spans []Span, by int) []Span {
	for i := range spans {
		spans[i].Start += by
		spans[i].End += by
	}
	return spans
}
