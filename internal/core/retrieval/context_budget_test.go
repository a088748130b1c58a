package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/kbingest/internal/models"
)

func match(text string) models.ChunkMatch {
	return models.ChunkMatch{DocumentChunk: models.DocumentChunk{Text: text}}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 50, EstimateTokens(strings.Repeat("x", 200)))
	assert.Equal(t, 1, EstimateTokens("日本語"), "counts runes, not bytes")
}

func TestTruncateContext(t *testing.T) {
	big := strings.Repeat("x", 200)

	tests := []struct {
		name      string
		in        []models.ChunkMatch
		maxTokens int
		want      int
	}{
		{"empty input", nil, 100, 0},
		{"budget fits one of three", []models.ChunkMatch{match(big), match(big), match(big)}, 60, 1},
		{"budget fits two", []models.ChunkMatch{match(big), match(big), match(big)}, 100, 2},
		{"everything fits", []models.ChunkMatch{match("a"), match("b")}, 10, 2},
		{"oversized first chunk still kept", []models.ChunkMatch{match(strings.Repeat("y", 10000))}, 1, 1},
		{"zero budget keeps first", []models.ChunkMatch{match("a"), match("b")}, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateContext(tc.in, tc.maxTokens)
			assert.Len(t, got, tc.want)
			for i := range got {
				assert.Equal(t, tc.in[i].Text, got[i].Text, "prefix order and text preserved")
			}
		})
	}
}

func TestBuildContext(t *testing.T) {
	assert.Empty(t, BuildContext(nil, 100))
	got := BuildContext([]models.ChunkMatch{match("first"), match("second")}, 100)
	assert.Equal(t, "first\n---\nsecond\n---\n", got)
}
