package retrieval

import (
	"unicode/utf8"

	"github.com/markdave123-py/kbingest/internal/models"
)

// EstimateTokens approximates a token count as ~4 characters per token, minimum 1.
func EstimateTokens(text string) int {
	t := (utf8.RuneCountInString(text) + 3) / 4
	if t < 1 {
		return 1
	}
	return t
}

// TruncateContext keeps the longest prefix of matches whose estimated cost fits maxTokens.
// A non-empty input always keeps its first match even when that one alone is over budget.
// Chunk text is never cut.
func TruncateContext(matches []models.ChunkMatch, maxTokens int) []models.ChunkMatch {
	if len(matches) == 0 {
		return nil
	}
	used := EstimateTokens(matches[0].Text)
	n := 1
	for ; n < len(matches); n++ {
		cost := EstimateTokens(matches[n].Text)
		if used+cost > maxTokens {
			break
		}
		used += cost
	}
	return matches[:n]
}
