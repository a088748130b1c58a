package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbingest/internal/core"
)

var testProfile = core.ChunkProfile{TargetWords: 100, MinWords: 20, MaxWords: 150}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

func TestSplit_EmptyInput(t *testing.T) {
	assert.Empty(t, Split("", testProfile))
	assert.Empty(t, Split("   \n\n\t  ", testProfile))
}

func TestSplit_ShortTextIsSingleTrimmedChunk(t *testing.T) {
	text := "  \n A short paragraph.\n\nAnd a second one.  \n"
	chunks := Split(text, testProfile)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(text), chunks[0])
}

func TestSplit_ExactlyTargetIsSingleChunk(t *testing.T) {
	text := words("alpha", 100)
	chunks := Split(text, testProfile)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_RepeatedWordsFallBackToWordWindows(t *testing.T) {
	chunks := Split(words("word", 1000), testProfile)
	assert.GreaterOrEqual(t, len(chunks), 8)
	for i, c := range chunks {
		assert.LessOrEqual(t, WordCount(c), testProfile.MaxWords, "chunk %d", i)
	}
}

func TestSplit_ParagraphsAreAccumulated(t *testing.T) {
	var paras []string
	for i := 0; i < 12; i++ {
		paras = append(paras, words("para", 30)+".")
	}
	chunks := Split(strings.Join(paras, "\n\n"), testProfile)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		n := WordCount(c)
		assert.GreaterOrEqual(t, n, testProfile.MinWords, "chunk %d", i)
		assert.LessOrEqual(t, n, testProfile.MaxWords, "chunk %d", i)
		// Paragraph units are joined with blank lines, never glued mid-paragraph.
		assert.NotContains(t, c, ". para")
	}
}

func TestSplit_OversizedParagraphSplitsOnSentences(t *testing.T) {
	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, words("sentence", 12)+".")
	}
	para := strings.Join(sentences, " ")
	chunks := Split(para, testProfile)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, strings.HasSuffix(c, "."), "chunk should end on a sentence boundary: %q", c)
	}
}

func TestSplit_TrailingFragmentIsMerged(t *testing.T) {
	text := words("body", 100) + "\n\n" + words("tail", 5)
	chunks := Split(text, testProfile)

	require.Len(t, chunks, 1)
	assert.True(t, strings.HasSuffix(chunks[0], "\n\n"+words("tail", 5)))
}

func TestSplit_NoUndersizedChunksUnlessSole(t *testing.T) {
	inputs := []string{
		words("a", 101),
		words("b", 250) + "\n\n" + words("c", 3),
		"One. Two! Three? " + words("d", 400),
		words("e", 90) + "\n\n" + words("f", 90) + "\n\n" + words("g", 19),
	}
	for _, in := range inputs {
		chunks := Split(in, testProfile)
		if len(chunks) < 2 {
			continue
		}
		for i, c := range chunks {
			assert.GreaterOrEqual(t, WordCount(c), testProfile.MinWords, "input %q chunk %d", in[:10], i)
		}
	}
}

func TestSplit_PreservesEveryToken(t *testing.T) {
	text := "Intro line here.\n\n" +
		words("lorem", 140) + ". Next sentence follows! Does it? Yes.\n\n" +
		"Small para.\n\n" +
		words("ipsum", 320) + "\n\n" +
		"Closing words."

	chunks := Split(text, testProfile)
	rejoined := strings.Join(chunks, "\n\n")

	assert.Equal(t, strings.Fields(text), strings.Fields(rejoined))
}

func TestSplit_IsDeterministic(t *testing.T) {
	text := words("x", 333) + "\n\n" + words("y", 77) + ". End."
	assert.Equal(t, Split(text, testProfile), Split(text, testProfile))
}

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second one!  Third?\nFourth without end")
	assert.Equal(t, []string{"First one.", "Second one!", "Third?", "Fourth without end"}, got)

	assert.Equal(t, []string{"v1.2 stays intact."}, Sentences("v1.2 stays intact."))
}

func TestParagraphs(t *testing.T) {
	got := Paragraphs("a\n\nb\n  \n\nc\nstill c")
	assert.Equal(t, []string{"a", "b", "c\nstill c"}, got)
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount(" one\ttwo\n\nthree "))
}
