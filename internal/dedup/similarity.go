// Package dedup finds existing donor records that likely represent the
// same person as an incoming candidate, using tiered exact and fuzzy
// matching with weighted confidence scoring.
package dedup

import "strings"

// Similarity returns a normalized string similarity in [0,1]:
// 1 − (levenshtein distance / max length). Identical strings yield 1.0,
// and the measure is symmetric. Comparison is case-insensitive.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// nameSimilarity blends first and last name similarity equally.
func nameSimilarity(firstA, lastA, firstB, lastB string) float64 {
	return (Similarity(firstA, firstB) + Similarity(lastA, lastB)) / 2.0
}

// addressSimilarity is a weighted blend: street line 40%, exact city
// match 30%, exact ZIP match 30%.
func addressSimilarity(streetA, cityA, zipA, streetB, cityB, zipB string) float64 {
	score := 0.4 * Similarity(streetA, streetB)
	if cityA != "" && strings.EqualFold(strings.TrimSpace(cityA), strings.TrimSpace(cityB)) {
		score += 0.3
	}
	if zipA != "" && strings.TrimSpace(zipA) == strings.TrimSpace(zipB) {
		score += 0.3
	}
	return score
}

// NormalizeEmail lowercases and trims an email for exact comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
