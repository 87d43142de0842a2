package validate

import "strings"

// maxSuggestions caps how many alternative captions one error surfaces.
const maxSuggestions = 3

// similarity returns a score in [0, 1] based on edit distance.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// suggestCaptions finds up to maxSuggestions schema captions resembling the
// unknown caption: similarity above the threshold first, then substring
// containment as a fallback. Returned captions keep their original casing.
func suggestCaptions(unknown string, captions []string, threshold float64) []string {
	type scored struct {
		caption string
		score   float64
	}

	var matches []scored
	for _, c := range captions {
		if s := similarity(unknown, c); s >= threshold {
			matches = append(matches, scored{caption: c, score: s})
		}
	}

	// Highest similarity first; stable on ties by schema order.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].score > matches[j-1].score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			return out
		}
		out = append(out, m.caption)
	}

	if len(out) == 0 {
		lower := strings.ToLower(unknown)
		for _, c := range captions {
			cl := strings.ToLower(c)
			if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
				out = append(out, c)
				if len(out) == maxSuggestions {
					break
				}
			}
		}
	}

	return out
}
