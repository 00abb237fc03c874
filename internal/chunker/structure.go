package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Heading is a detected section heading.
type Heading struct {
	Offset int    `json:"offset"` // start of the heading line
	Level  int    `json:"level"`
	Title  string `json:"title"`
}

// Hints are the structural signals of a document text. They drive strategy
// selection and the boundaries structure-aware and context-preserving
// strategies respect.
type Hints struct {
	Headings   []Heading `json:"headings,omitempty"`
	PageBreaks []int     `json:"page_breaks,omitempty"` // offsets of form feeds
	HasTOC     bool      `json:"has_toc"`
	Procedures int       `json:"procedures"` // numbered step lines
	CodeLines  []Span    `json:"code_lines,omitempty"`
	Sentences  int       `json:"sentences"` // terminal punctuation boundaries
	Paragraphs int       `json:"paragraphs"`
	Words      int       `json:"words"`
}

var (
	mdHeading      = regexp.MustCompile(`^(#{1,6})\s+(\S.{0,120})$`)
	keywordHeading = regexp.MustCompile(`^(?i)(chapter|section|part|appendix)\s+([0-9]{1,3}|[IVXLC]{1,6}|[A-Z])\b[\s.:\-]*(.{0,100})$`)
	numberHeading  = regexp.MustCompile(`^(\d{1,2}(?:\.\d{1,2}){1,3})\.?\s+([A-Z][^.!?:]{1,80})$`)
	tocTitle       = regexp.MustCompile(`(?i)^(table of )?contents$`)
	tocLeader      = regexp.MustCompile(`\.{4,}\s*\d+$`)
	sentenceEnd    = regexp.MustCompile(`[.!?]["')\]]*(\s|$)`)
	stepMarker     = regexp.MustCompile(`^\s*(?:(\d{1,3})[.)]\s|(?i:step)\s+(\d{1,3})\b)`)
)

// DetectStructure scans text for headings, page breaks, a table of
// contents, numbered procedures and lines accepted by codeLine (which may
// be nil).
func DetectStructure(text string, codeLine func(line string) bool) *Hints {
	h := &Hints{}
	if text == "" {
		return h
	}
	h.Words = len(wordSpans(text))
	h.Sentences = len(sentenceEnd.FindAllStringIndex(text, -1))
	for _, p := range paragraphSpans(text) {
		if strings.TrimSpace(text[p.Start:p.End]) != "" {
			h.Paragraphs++
		}
	}
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			h.PageBreaks = append(h.PageBreaks, i)
		}
	}

	leaders := 0
	for _, ls := range lineSpans(text) {
		raw := text[ls.Start:ls.End]
		line := strings.TrimSpace(strings.Trim(raw, "\f"))
		if line == "" {
			continue
		}
		if tocTitle.MatchString(line) {
			h.HasTOC = true
			continue
		}
		if tocLeader.MatchString(line) {
			leaders++
			continue
		}
		if stepNumber(line) > 0 {
			h.Procedures++
		}
		if codeLine != nil && codeLine(line) {
			h.CodeLines = append(h.CodeLines, ls)
		}
		if level, title, ok := headingOf(line); ok {
			offset := ls.Start + strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsSpace(r) })
			h.Headings = append(h.Headings, Heading{Offset: offset, Level: level, Title: title})
		}
	}
	if leaders >= 3 {
		h.HasTOC = true
	}
	return h
}

func headingOf(line string) (int, string, bool) {
	if m := mdHeading.FindStringSubmatch(line); m != nil {
		return len(m[1]), strings.TrimSpace(m[2]), true
	}
	if m := keywordHeading.FindStringSubmatch(line); m != nil {
		level := 1
		if strings.EqualFold(m[1], "section") {
			level = 2
		}
		return level, line, true
	}
	if m := numberHeading.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, line, true
	}
	if isCapsHeading(line) {
		return 1, line, true
	}
	return 0, "", false
}

var admonitions = map[string]bool{
	"WARNING": true, "CAUTION": true, "NOTE": true, "IMPORTANT": true, "DANGER": true, "NOTICE": true,
}

// isCapsHeading accepts short all-capitals lines such as "FUSER UNIT".
func isCapsHeading(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 || strings.ContainsAny(line[len(line)-1:], ".,;:") {
		return false
	}
	if len(words) == 1 && admonitions[words[0]] {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 4
}

// HasStructure reports consistent heading markers or a table of contents.
func (h *Hints) HasStructure() bool {
	return len(h.Headings) >= 2 || (h.HasTOC && len(h.Headings) >= 1)
}

// HasBoundaries reports procedures or code lines worth keeping intact.
func (h *Hints) HasBoundaries() bool {
	return h.Procedures > 0 || len(h.CodeLines) > 0
}

// HasSentences reports more than one sentence boundary.
func (h *Hints) HasSentences() bool {
	return h.Sentences > 1
}

// HasParagraphs reports more than one paragraph.
func (h *Hints) HasParagraphs() bool {
	return h.Paragraphs > 1
}

// PageAt returns the 1-based page containing offset.
func (h *Hints) PageAt(offset int) int {
	return 1 + sort.SearchInts(h.PageBreaks, offset)
}

// SectionAt returns the section and subsection titles in effect at offset.
func (h *Hints) SectionAt(offset int) (section, subsection string) {
	for _, hd := range h.Headings {
		if hd.Offset > offset {
			break
		}
		if hd.Level <= 1 {
			section, subsection = hd.Title, ""
		} else {
			subsection = hd.Title
		}
	}
	if section == "" && subsection != "" {
		section, subsection = subsection, ""
	}
	return section, subsection
}

func (h *Hints) touchesCodeLine(s Span) bool {
	i := sort.Search(len(h.CodeLines), func(i int) bool { return h.CodeLines[i].End > s.Start })
	return i < len(h.CodeLines) && h.CodeLines[i].Start < s.End
}

// splitStructureAware cuts at headings, merges sections below MinWords into
// their neighbours and hands oversized sections to the context-preserving
// splitter.
func splitStructureAware(text string, s Sizing, h *Hints) []Span {
	d := newDocument(text)
	if len(h.Headings) == 0 {
		return d.contextSplit(Span{0, len(text)}, s, h)
	}
	cuts := make([]int, 0, len(h.Headings))
	for _, hd := range h.Headings {
		cuts = append(cuts, hd.Offset)
	}

	var (
		out      []Span
		cur      Span
		curWords int
		open     bool
	)
	flush := func() {
		if open {
			out = append(out, cur)
			open = false
		}
	}
	for _, sec := range spansFromCuts(cuts, len(text)) {
		w := d.wordCount(sec)
		if w > s.TargetWords {
			if open && curWords < s.MinWords {
				// A tiny heading-only section leads into this one.
				sec.Start = cur.Start
				open = false
			}
			flush()
			out = append(out, d.contextSplit(sec, s, h)...)
			continue
		}
		if open && (curWords < s.MinWords || w < s.MinWords) && curWords+w <= s.TargetWords {
			cur.End = sec.End
			curWords += w
			continue
		}
		flush()
		cur, curWords, open = sec, w, true
	}
	flush()
	return out
}
