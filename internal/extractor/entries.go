package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/normalize"
)

// EntryDraft is an error code definition parsed from an error-code table.
type EntryDraft struct {
	Code             string
	NormalizedCode   string
	Description      string
	Remediation      string
	Severity         domain.Severity
	AlternativeForms []string
}

var (
	remedyPrefix   = regexp.MustCompile(`(?i)^\s*(?:remedy|remediation|solution|action|corrective action|fix)\s*[:\-]\s*`)
	severityField  = regexp.MustCompile(`(?i)\bseverity\s*[:=]?\s*([1-5])\b`)
	leadingBullets = "-*•·> \t"
	descSeparators = ":-–—|\t "
)

var severityKeywords = []struct {
	words    []string
	severity domain.Severity
}{
	{[]string{"critical", "fatal", "fire", "safety", "hazard"}, domain.SeverityCritical},
	{[]string{"service call", "major", "severe", "malfunction"}, domain.SeverityHigh},
	{[]string{"warning", "caution", "jam"}, domain.SeverityMedium},
	{[]string{"notice", "minor", "low"}, domain.SeverityLow},
	{[]string{"information", "informational", "status", "info"}, domain.SeverityInfo},
}

// ExtractEntries parses definition lines of the form "CODE: description",
// optionally followed by remedy lines, into entry drafts. Entries are merged
// by normalized code; later raw spellings become alternative forms.
func ExtractEntries(text string, profile *Profile) []EntryDraft {
	if profile == nil {
		return []EntryDraft{}
	}

	var (
		entries = []EntryDraft{}
		index   = map[string]int{}
		current = -1
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, leadingBullets)
		if strings.TrimSpace(trimmed) == "" {
			current = -1
			continue
		}

		if raw, rest, ok := leadingCode(trimmed, profile); ok {
			norm := normalize.Code(raw)
			if norm == "" {
				continue
			}
			desc := strings.TrimSpace(strings.TrimLeft(rest, descSeparators))
			if i, seen := index[norm]; seen {
				entries[i].addForm(raw)
				if entries[i].Description == "" {
					entries[i].Description = desc
				}
				current = i
				continue
			}
			entries = append(entries, EntryDraft{
				Code:             raw,
				NormalizedCode:   norm,
				Description:      desc,
				AlternativeForms: []string{},
			})
			current = len(entries) - 1
			index[norm] = current
			continue
		}

		if current < 0 {
			continue
		}
		e := &entries[current]
		if loc := remedyPrefix.FindStringIndex(trimmed); loc != nil {
			e.Remediation = joinSentence(e.Remediation, strings.TrimSpace(trimmed[loc[1]:]))
			continue
		}
		if e.Remediation != "" {
			e.Remediation = joinSentence(e.Remediation, strings.TrimSpace(trimmed))
		} else {
			e.Description = joinSentence(e.Description, strings.TrimSpace(trimmed))
		}
	}

	for i := range entries {
		entries[i].Severity = classifySeverity(entries[i].Description + " " + entries[i].Remediation)
	}
	return entries
}

// leadingCode finds a code match starting at the beginning of the line.
func leadingCode(line string, profile *Profile) (raw, rest string, ok bool) {
	for _, rule := range profile.CodePatterns {
		for _, m := range rule.find(line) {
			// The code must lead the line; keyword rules may put "Error" before it.
			if strings.TrimSpace(line[:m.start]) != "" && !isKeywordPrefix(line[:m.start]) {
				break
			}
			return m.raw, line[m.end:], true
		}
	}
	return "", "", false
}

func isKeywordPrefix(s string) bool {
	return normalize.Code(s+" 0") == "0"
}

func (e *EntryDraft) addForm(raw string) {
	if raw == e.Code {
		return
	}
	for _, f := range e.AlternativeForms {
		if f == raw {
			return
		}
	}
	e.AlternativeForms = append(e.AlternativeForms, raw)
}

func classifySeverity(text string) domain.Severity {
	if m := severityField.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return domain.Severity(n).Clamp()
	}
	lower := strings.ToLower(text)
	for _, k := range severityKeywords {
		for _, w := range k.words {
			if containsWord(lower, w) {
				return k.severity
			}
		}
	}
	return domain.SeverityMedium
}

func containsWord(haystack, word string) bool {
	for i := 0; ; {
		j := strings.Index(haystack[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordByte(haystack[start-1])) && (end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		i = end
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func joinSentence(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
