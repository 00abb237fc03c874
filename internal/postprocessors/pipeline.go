package postprocessors

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TextPipeline = (*Pipeline)(nil)

// Pipeline implements TextPipeline.
// It chains text processors in order between extraction and chunking.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.TextProcessor
	sorted     bool
}

// NewPipeline creates a new text pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		processors: make([]driven.TextProcessor, 0),
	}
}

// Add adds a processor to the pipeline.
// Processors are sorted by Order() before processing.
func (p *Pipeline) Add(processor driven.TextProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Process applies all processors in order.
func (p *Pipeline) Process(text string) string {
	p.mu.Lock()
	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	processors := make([]driven.TextProcessor, len(p.processors))
	copy(processors, p.processors)
	p.mu.Unlock()

	for _, proc := range processors {
		text = proc.Process(text)
	}
	return text
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// DefaultPipeline creates a pipeline with the default processors.
func DefaultPipeline() *Pipeline {
	p := NewPipeline()
	p.Add(NewLineEndingNormalizer())
	p.Add(NewControlCharStripper())
	p.Add(NewRunningHeaderStripper(DefaultRunningHeaderConfig()))
	p.Add(NewDehyphenator())
	p.Add(NewWhitespaceNormalizer())
	return p
}

// LineEndingNormalizer converts CRLF and CR line endings to LF.
type LineEndingNormalizer struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*LineEndingNormalizer)(nil)

// NewLineEndingNormalizer creates a new line ending normalizer.
func NewLineEndingNormalizer() *LineEndingNormalizer {
	return &LineEndingNormalizer{}
}

// Process normalizes line endings.
func (l *LineEndingNormalizer) Process(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// Name returns the processor name.
func (l *LineEndingNormalizer) Name() string {
	return "line-endings"
}

// Order returns 0 - every later processor assumes LF line endings.
func (l *LineEndingNormalizer) Order() int {
	return 0
}

// ControlCharStripper removes control characters other than newline, tab
// and form feed, plus the replacement character left by bad decodes.
type ControlCharStripper struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*ControlCharStripper)(nil)

// NewControlCharStripper creates a new control character stripper.
func NewControlCharStripper() *ControlCharStripper {
	return &ControlCharStripper{}
}

// Process strips control characters.
func (c *ControlCharStripper) Process(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\f':
			return r
		case r == unicode.ReplacementChar, r == '\u00ad':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
}

// Name returns the processor name.
func (c *ControlCharStripper) Name() string {
	return "control-chars"
}

// Order returns 5.
func (c *ControlCharStripper) Order() int {
	return 5
}

// RunningHeaderConfig configures the running header stripper.
type RunningHeaderConfig struct {
	// MinPages is the page count below which nothing is stripped
	MinPages int

	// MinShare is the fraction of pages a line must repeat on
	MinShare float64
}

// DefaultRunningHeaderConfig returns sensible defaults.
func DefaultRunningHeaderConfig() RunningHeaderConfig {
	return RunningHeaderConfig{
		MinPages: 3,
		MinShare: 0.6,
	}
}

// RunningHeaderStripper removes header and footer lines that repeat on most
// pages, such as a manual title or "Page 12 of 340".
type RunningHeaderStripper struct {
	config RunningHeaderConfig
}

// Verify interface compliance
var _ driven.TextProcessor = (*RunningHeaderStripper)(nil)

// NewRunningHeaderStripper creates a new running header stripper.
func NewRunningHeaderStripper(config RunningHeaderConfig) *RunningHeaderStripper {
	return &RunningHeaderStripper{config: config}
}

var pageDigits = regexp.MustCompile(`\d+`)

// Process strips repeated first and last lines of each page.
func (r *RunningHeaderStripper) Process(text string) string {
	pages := strings.Split(text, "\f")
	if len(pages) < r.config.MinPages {
		return text
	}

	// Digits are masked so "Page 3" and "Page 4" count as the same line.
	key := func(line string) string {
		return pageDigits.ReplaceAllString(strings.TrimSpace(line), "#")
	}
	counts := make(map[string]int)
	for _, page := range pages {
		seen := make(map[string]bool)
		for _, line := range edgeLines(page) {
			k := key(line)
			if k != "" && !seen[k] {
				seen[k] = true
				counts[k]++
			}
		}
	}

	threshold := int(float64(len(pages))*r.config.MinShare + 0.5)
	if threshold < 2 {
		threshold = 2
	}
	repeated := make(map[string]bool)
	for k, n := range counts {
		if n >= threshold {
			repeated[k] = true
		}
	}
	if len(repeated) == 0 {
		return text
	}

	for i, page := range pages {
		lines := strings.Split(page, "\n")
		first, last := edgeIndexes(lines)
		for _, idx := range []int{first, last} {
			if idx >= 0 && repeated[key(lines[idx])] {
				lines[idx] = ""
			}
		}
		pages[i] = strings.Join(lines, "\n")
	}
	return strings.Join(pages, "\f")
}

// edgeLines returns the first and last non-blank lines of a page.
func edgeLines(page string) []string {
	lines := strings.Split(page, "\n")
	first, last := edgeIndexes(lines)
	switch {
	case first < 0:
		return nil
	case first == last:
		return []string{lines[first]}
	default:
		return []string{lines[first], lines[last]}
	}
}

func edgeIndexes(lines []string) (int, int) {
	first, last := -1, -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// Name returns the processor name.
func (r *RunningHeaderStripper) Name() string {
	return "running-headers"
}

// Order returns 8 - runs before dehyphenation joins lines.
func (r *RunningHeaderStripper) Order() int {
	return 8
}

// Dehyphenator joins words broken across lines by a trailing hyphen.
type Dehyphenator struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*Dehyphenator)(nil)

// NewDehyphenator creates a new dehyphenator.
func NewDehyphenator() *Dehyphenator {
	return &Dehyphenator{}
}

// A lower-case letter, hyphen, newline and a lower-case letter. Codes such
// as "C-\n1234" are left alone because a digit follows.
var brokenWord = regexp.MustCompile(`([a-z])-\n[ \t]*([a-z])`)

// Process rejoins hyphenated line breaks.
func (d *Dehyphenator) Process(text string) string {
	return brokenWord.ReplaceAllString(text, "$1$2")
}

// Name returns the processor name.
func (d *Dehyphenator) Name() string {
	return "dehyphenator"
}

// Order returns 10.
func (d *Dehyphenator) Order() int {
	return 10
}

// WhitespaceNormalizer collapses runs of spaces and excess blank lines while
// keeping paragraph breaks and form feeds.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\v\x{00a0}]+`)
	blankRun    = regexp.MustCompile(`\n{3,}`)
)

// Process normalizes whitespace.
func (w *WhitespaceNormalizer) Process(text string) string {
	pages := strings.Split(text, "\f")
	for i, page := range pages {
		lines := strings.Split(page, "\n")
		for j, line := range lines {
			lines[j] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		}
		page = strings.Join(lines, "\n")
		page = blankRun.ReplaceAllString(page, "\n\n")
		pages[i] = strings.Trim(page, "\n")
	}
	// Empty pages are kept so page numbers stay aligned.
	return strings.Join(pages, "\f")
}

// Name returns the processor name.
func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns 20 - runs last.
func (w *WhitespaceNormalizer) Order() int {
	return 20
}
