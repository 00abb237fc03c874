// Package normalize provides the canonical forms used for deduplication and
// error code matching.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// prefixWords are leading tokens that carry no identity in an error code.
// Ordered longest first so "error" wins over "err".
var prefixWords = []string{"error", "fault", "code", "err"}

// bareLetters are single-letter prefixes that are only stripped when they
// stand alone ("E 1234", "C: 1234"). "C-1234" keeps its letter.
var bareLetters = []string{"c", "e"}

// Code canonicalises an error code for comparison: lower-case, known prefix
// tokens removed, separators dropped. It is total and idempotent, so
// Code("Error C-1234"), Code("c1234") and Code(Code(x)) agree.
func Code(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripPrefixes(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

func stripPrefixes(s string) string {
	for {
		s = strings.TrimLeftFunc(s, isSeparator)
		rest, ok := stripOne(s)
		if !ok || !hasAlnum(rest) {
			return s
		}
		s = rest
	}
}

func stripOne(s string) (string, bool) {
	for _, w := range prefixWords {
		if strings.HasPrefix(s, w) && len(s) > len(w) && isWordSeparator(rune(s[len(w)])) {
			return s[len(w):], true
		}
	}
	for _, l := range bareLetters {
		if strings.HasPrefix(s, l) && len(s) > len(l) && isBareSeparator(rune(s[len(l)])) {
			return s[len(l):], true
		}
	}
	return s, false
}

// isSeparator is any rune Code would drop.
func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
}

// isWordSeparator ends a prefix word. Dots survive normalisation, so they
// must not end a prefix or a second pass could strip more.
func isWordSeparator(r rune) bool {
	return r < unicode.MaxASCII && isSeparator(r)
}

func isBareSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == ':' || r == '#'
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Codes normalises each raw code, dropping empties and duplicates while
// keeping first-seen order.
func Codes(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		n := Code(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Text collapses whitespace and lower-cases s.
func Text(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ContentHash returns the hex sha256 of a file's bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies a chunk by its normalised text and position.
func Fingerprint(text string, index int) string {
	sum := blake2b.Sum256([]byte(Text(text) + "\x00" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:])
}
