package ranker

import (
	"math"
	"strings"
	"unicode"
)

// trigramSet holds the pg_trgm style trigrams of a string: each word is
// lower-cased, padded with two spaces in front and one behind, and cut into
// every three-rune window.
type trigramSet map[string]struct{}

func trigrams(s string) trigramSet {
	set := make(trigramSet)
	for _, w := range words(s) {
		addWordTrigrams(set, w)
	}
	return set
}

func addWordTrigrams(set trigramSet, w string) {
	r := []rune("  " + w + " ")
	for i := 0; i+3 <= len(r); i++ {
		set[string(r[i:i+3])] = struct{}{}
	}
}

// words splits s into lower-cased alphanumeric words. Dots inside a word
// are kept so dotted codes such as 13.20.00 stay whole.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
}

// jaccard returns |a∩b| / |a∪b|.
func jaccard(a, b trigramSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// Similarity is the trigram similarity of two strings in [0,1].
func Similarity(a, b string) float64 {
	return jaccard(trigrams(a), trigrams(b))
}

// WordSimilarity is the best trigram similarity between query and any run
// of len(words(query)) consecutive words of text.
func WordSimilarity(query, text string) float64 {
	q := trigrams(query)
	if len(q) == 0 {
		return 0
	}
	n := len(words(query))
	tw := words(text)
	if len(tw) == 0 {
		return 0
	}
	if n > len(tw) {
		n = len(tw)
	}

	best := 0.0
	for i := 0; i+n <= len(tw); i++ {
		window := make(trigramSet)
		for _, w := range tw[i : i+n] {
			addWordTrigrams(window, w)
		}
		if s := jaccard(q, window); s > best {
			best = s
			if best == 1 {
				break
			}
		}
	}
	return best
}

// termSaturation controls how fast repeated terms stop adding relevance.
const termSaturation = 1.2

// FullText scores how well text covers the query terms: the mean over
// distinct query terms of tf/(tf+k). A term absent from text contributes 0.
func FullText(query, text string) float64 {
	terms := distinct(words(query))
	if len(terms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t] = 0
	}
	for _, w := range words(text) {
		if _, ok := tf[w]; ok {
			tf[w]++
		}
	}
	sum := 0.0
	for _, n := range tf {
		f := float64(n)
		sum += f / (f + termSaturation)
	}
	return sum / float64(len(terms))
}

func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Cosine returns the cosine similarity of two vectors clamped to [0,1].
// Vectors of different length or zero norm score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, c))
}
