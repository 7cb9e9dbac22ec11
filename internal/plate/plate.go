// Package plate holds plate-text normalization, format validation and the
// similarity function used for fuzzy identity resolution. Everything here is
// pure and deterministic so that resolution decisions are reproducible when
// the raw log is replayed.
package plate

import "strings"

// The two recognized plate shapes. L is a letter, D a digit. The second
// format is written "LL DDDD" on the physical plate; the separator is
// stripped during normalization.
const (
	formatLong  = "LLDDLLL" // 7 characters
	formatShort = "LLDDDD"  // 6 significant characters
)

// Normalize uppercases the text and strips whitespace and format separators.
// Digit and letter positions are preserved, so format validity can still be
// checked on the result.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToUpper(text) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchesKnownFormat reports whether normalized text fits one of the
// recognized plate shapes exactly.
func MatchesKnownFormat(normalized string) bool {
	return matchesShape(normalized, formatLong) || matchesShape(normalized, formatShort)
}

func matchesShape(text, shape string) bool {
	if len(text) != len(shape) {
		return false
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch shape[i] {
		case 'L':
			if c < 'A' || c > 'Z' {
				return false
			}
		case 'D':
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// DigitCount counts decimal digits in normalized text. Partial plates are
// gated on this before they ever reach the resolver.
func DigitCount(normalized string) int {
	n := 0
	for i := 0; i < len(normalized); i++ {
		if normalized[i] >= '0' && normalized[i] <= '9' {
			n++
		}
	}
	return n
}

// Similarity returns a normalized edit-distance ratio in [0,1]. It is
// symmetric and Similarity(a,a) == 1. Inputs are expected to already be
// normalized.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with the two-row formulation.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
