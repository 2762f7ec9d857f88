package browser

import "strings"

// closestText returns the candidate with the smallest edit distance to text,
// or "" when there is nothing to compare.
func closestText(text string, candidates []string) string {
	query := normalizeText(text)
	if query == "" {
		return ""
	}
	best := ""
	bestScore := -1
	for _, candidate := range candidates {
		normalized := normalizeText(candidate)
		if normalized == "" {
			continue
		}
		score := levenshteinDistance(query, normalized)
		if bestScore == -1 || score < bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := make([]int, len(rb)+1)
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 0
			if ra[i-1] != rb[j-1] {
				cost = 1
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(rb)]
}
