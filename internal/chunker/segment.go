package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Span is a half-open byte range [Start, End) of the document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// document caches word offsets so strategies can count words in O(log n).
type document struct {
	text  string
	words []Span
}

func newDocument(text string) *document {
	return &document{text: text, words: wordSpans(text)}
}

func wordSpans(text string) []Span {
	var out []Span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, Span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, Span{start, len(text)})
	}
	return out
}

// wordRange returns the indexes [lo, hi) of words starting inside s.
func (d *document) wordRange(s Span) (int, int) {
	lo := sort.Search(len(d.words), func(i int) bool { return d.words[i].Start >= s.Start })
	hi := sort.Search(len(d.words), func(i int) bool { return d.words[i].Start >= s.End })
	return lo, hi
}

func (d *document) wordCount(s Span) int {
	lo, hi := d.wordRange(s)
	return hi - lo
}

// hardSplit cuts s every limit words, at word starts.
func (d *document) hardSplit(s Span, limit int) []Span {
	lo, hi := d.wordRange(s)
	if limit <= 0 || hi-lo <= limit {
		return []Span{s}
	}
	var out []Span
	start := s.Start
	for i := lo + limit; i < hi; i += limit {
		cut := d.words[i].Start
		out = append(out, Span{start, cut})
		start = cut
	}
	return append(out, Span{start, s.End})
}

var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "fig": true, "figs": true, "no": true, "nos": true,
	"approx": true, "vs": true, "ref": true, "p": true, "pp": true, "vol": true,
	"ch": true, "sec": true, "mr": true, "dr": true, "st": true, "max": true, "min": true,
}

var listMarker = regexp.MustCompile(`^\s*(?:(?i:step)\s+\d{1,3}\b|\d{1,3}[.)]\s|[-*•·]\s|\([a-z0-9]{1,2}\)\s|[a-z][.)]\s)`)

// sentenceSpans splits text into sentences. Every byte belongs to exactly
// one span: trailing whitespace stays with the sentence it follows.
func sentenceSpans(text string) []Span {
	if text == "" {
		return nil
	}
	var cuts []int
	n := len(text)
	for i := 0; i < n; i++ {
		c := text[i]
		switch {
		case c == '.' || c == '!' || c == '?':
			j := i + 1
			for j < n && strings.IndexByte(`"')]`, text[j]) >= 0 {
				j++
			}
			if j < n && !isSpaceByte(text[j]) {
				continue
			}
			if c == '.' && isAbbreviation(text, i) {
				continue
			}
			cuts = append(cuts, skipSpace(text, j))
		case c == '\f':
			cuts = append(cuts, skipSpace(text, i+1))
		case c == '\n':
			j := i + 1
			if next := skipInlineSpace(text, j); next < n && text[next] == '\n' {
				cuts = append(cuts, skipSpace(text, next))
				continue
			}
			if lineBreakEndsSentence(text, i) {
				cuts = append(cuts, skipSpace(text, j))
			}
		}
	}
	return spansFromCuts(cuts, n)
}

// paragraphSpans splits text at blank lines and page breaks.
func paragraphSpans(text string) []Span {
	if text == "" {
		return nil
	}
	var cuts []int
	n := len(text)
	for i := 0; i < n; i++ {
		switch text[i] {
		case '\f':
			cuts = append(cuts, skipSpace(text, i+1))
		case '\n':
			if next := skipInlineSpace(text, i+1); next < n && (text[next] == '\n' || text[next] == '\f') {
				cuts = append(cuts, skipSpace(text, next))
			}
		}
	}
	return spansFromCuts(cuts, n)
}

// lineSpans splits text at every newline.
func lineSpans(text string) []Span {
	var cuts []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			cuts = append(cuts, i+1)
		}
	}
	return spansFromCuts(cuts, len(text))
}

func spansFromCuts(cuts []int, n int) []Span {
	var out []Span
	start := 0
	for _, c := range cuts {
		if c <= start || c >= n {
			continue
		}
		out = append(out, Span{start, c})
		start = c
	}
	return append(out, Span{start, n})
}

// lineBreakEndsSentence treats a single newline as a sentence end when the
// next line is a list item or the current line looks like a heading or label.
func lineBreakEndsSentence(text string, nl int) bool {
	lineStart := strings.LastIndexByte(text[:nl], '\n') + 1
	line := strings.TrimSpace(text[lineStart:nl])
	if line == "" {
		return false
	}
	nextEnd := strings.IndexByte(text[nl+1:], '\n')
	var next string
	if nextEnd < 0 {
		next = text[nl+1:]
	} else {
		next = text[nl+1 : nl+1+nextEnd]
	}
	if listMarker.MatchString(next) {
		return true
	}
	last := line[len(line)-1]
	if last == ':' || last == ';' {
		return true
	}
	// Short unpunctuated lines followed by a capitalised line are headings or
	// labels; longer ones are usually wrapped prose.
	next = strings.TrimSpace(next)
	return len(strings.Fields(line)) <= 6 && last != ',' && next != "" &&
		(isUpperByte(next[0]) || (next[0] >= '0' && next[0] <= '9'))
}

func isAbbreviation(text string, dot int) bool {
	start := dot
	for start > 0 && !isSpaceByte(text[start-1]) && text[start-1] != '(' {
		start--
	}
	word := strings.ToLower(text[start:dot])
	if abbreviations[word] {
		return true
	}
	if isListNumber(text, start, word) {
		return true
	}
	// Single initials ("J. Smith") are not sentence ends.
	return len(word) == 1 && word[0] >= 'a' && word[0] <= 'z' && dot+2 < len(text) && isUpperByte(text[dot+2])
}

// isListNumber reports whether word is a "3." style marker at a line start.
func isListNumber(text string, start int, word string) bool {
	if word == "" || len(word) > 3 {
		return false
	}
	for i := 0; i < len(word); i++ {
		if word[i] < '0' || word[i] > '9' {
			return false
		}
	}
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	return strings.TrimSpace(text[lineStart:start]) == ""
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

func isUpperByte(b byte) bool { return b >= 'A' && b <= 'Z' }

func skipSpace(text string, i int) int {
	for i < len(text) && isSpaceByte(text[i]) {
		i++
	}
	return i
}

func skipInlineSpace(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\r') {
		i++
	}
	return i
}

// pack greedily groups consecutive segments into spans of at most limit
// words. Oversized segments are hard-split as a last resort. The result
// covers exactly the union of segs.
func (d *document) pack(segs []Span, limit int) []Span {
	return d.packWith(segs, limit, limit, nil)
}
