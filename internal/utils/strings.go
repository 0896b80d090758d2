// Package utils holds small string helpers shared across packages.
package utils

import "strings"

// Distance computes the Levenshtein distance between two strings.
// It is case-insensitive.
func Distance(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}
	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			min := matrix[i-1][j] + 1
			if ins := matrix[i][j-1] + 1; ins < min {
				min = ins
			}
			if sub := matrix[i-1][j-1] + cost; sub < min {
				min = sub
			}
			matrix[i][j] = min
		}
	}
	return matrix[len(a)][len(b)]
}

// Subsequence reports whether the characters of needle appear in s in
// the same order. Case-insensitive.
func Subsequence(needle, s string) bool {
	needle = strings.ToLower(needle)
	s = strings.ToLower(s)

	ni, si := 0, 0
	nr := []rune(needle)
	sr := []rune(s)
	for ni < len(nr) && si < len(sr) {
		if nr[ni] == sr[si] {
			ni++
		}
		si++
	}
	return ni == len(nr)
}

// Closest picks the candidate nearest to input, for did-you-mean hints
// on missed handles and names. An input that abbreviates exactly one
// candidate wins outright; otherwise the smallest edit distance wins,
// capped at two edits or a third of the input, whichever is larger.
func Closest(input string, candidates []string) (string, bool) {
	var abbrev []string
	for _, c := range candidates {
		if strings.EqualFold(input, c) {
			return c, true
		}
		if Subsequence(input, c) {
			abbrev = append(abbrev, c)
		}
	}
	if len(abbrev) == 1 {
		return abbrev[0], true
	}

	limit := len(input) / 3
	if limit < 2 {
		limit = 2
	}
	best, bestDist := "", limit+1
	for _, c := range candidates {
		if d := Distance(input, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist > limit {
		return "", false
	}
	return best, true
}
