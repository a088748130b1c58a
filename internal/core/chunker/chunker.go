// Package chunker splits extracted document text into word-bounded chunks.
//
// Splitting prefers paragraph boundaries, falls back to sentence boundaries
// for oversized paragraphs and to fixed word windows for oversized sentences.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/markdave123-py/kbingest/internal/core"
)

const (
	paragraphSep = "\n\n"
	inlineSep    = " "
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// unit is the smallest piece the accumulator works with.
// sep is placed between the unit and whatever precedes it in the same chunk.
type unit struct {
	text  string
	words int
	sep   string
}

// Split returns the ordered chunk texts for text. Blank input yields nil.
func Split(text string, profile core.ChunkProfile) []string {
	p := profile.Normalize()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if WordCount(text) <= p.TargetWords {
		return []string{text}
	}

	var (
		chunks   []string
		seps     []string // separator used when chunks[i] is merged onto chunks[i-1]
		buf      strings.Builder
		bufWords int
		bufSep   string
	)

	flush := func() {
		if bufWords == 0 {
			return
		}
		chunks = append(chunks, buf.String())
		seps = append(seps, bufSep)
		buf.Reset()
		bufWords = 0
	}

	for _, u := range units(text, p) {
		if bufWords > 0 && bufWords+u.words > p.MaxWords && bufWords >= p.MinWords {
			flush()
		}
		if bufWords == 0 {
			bufSep = u.sep
		} else {
			buf.WriteString(u.sep)
		}
		buf.WriteString(u.text)
		bufWords += u.words

		if bufWords >= p.TargetWords {
			flush()
		}
	}
	flush()

	// Fold an undersized tail into its predecessor.
	if n := len(chunks); n > 1 && WordCount(chunks[n-1]) < p.MinWords {
		chunks[n-2] = chunks[n-2] + seps[n-1] + chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}

// units expands text into paragraph, sentence or word-window units in document order.
func units(text string, p core.ChunkProfile) []unit {
	var out []unit
	for _, para := range Paragraphs(text) {
		n := WordCount(para)
		if n <= p.TargetWords {
			out = append(out, unit{text: para, words: n, sep: paragraphSep})
			continue
		}

		sep := paragraphSep
		for _, sentence := range Sentences(para) {
			sw := WordCount(sentence)
			if sw <= p.MaxWords {
				out = append(out, unit{text: sentence, words: sw, sep: sep})
				sep = inlineSep
				continue
			}
			for _, window := range wordWindows(sentence, p.TargetWords) {
				out = append(out, unit{text: window, words: WordCount(window), sep: sep})
				sep = inlineSep
			}
		}
	}
	return out
}

// Paragraphs splits on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	raw := paragraphBreak.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences splits after '.', '!' or '?' when followed by whitespace.
// Terminal punctuation stays with its sentence.
func Sentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// WordCount counts runs of non-whitespace.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func wordWindows(text string, size int) []string {
	words := strings.Fields(text)
	if size <= 0 {
		size = len(words)
	}
	out := make([]string, 0, len(words)/size+1)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}
