package docstore

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits text into overlapping chunks sized for embedding, preferring
// paragraph and sentence boundaries so retrieval returns coherent context.
// The overlap keeps information that straddles a boundary findable from both
// sides.
type Chunker struct {
	MaxChars int // hard ceiling per chunk
	MinChars int // boundary search starts after this many chars
	Overlap  int // chars repeated at the head of the next chunk
}

// NewChunker applies working defaults for zero values.
func NewChunker(maxChars, minChars, overlap int) Chunker {
	c := Chunker{MaxChars: maxChars, MinChars: minChars, Overlap: overlap}
	if c.MaxChars <= 0 {
		c.MaxChars = 1000
	}
	if c.MinChars <= 0 || c.MinChars >= c.MaxChars {
		c.MinChars = c.MaxChars / 2
	}
	if c.Overlap < 0 || c.Overlap >= c.MinChars {
		c.Overlap = c.MinChars / 5
	}
	return c
}

// Chunks splits text. Whitespace-only input yields no chunks.
func (c Chunker) Chunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for start < len(text) {
		if len(text)-start <= c.MaxChars {
			out = append(out, strings.TrimSpace(text[start:]))
			break
		}

		end := c.splitPoint(text, start)
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			out = append(out, chunk)
		}

		// Step back for overlap, but always make forward progress and
		// never restart inside a rune.
		next := runeStartBefore(text, end-c.Overlap, start)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// splitPoint finds where to cut the chunk starting at start: the last
// paragraph break in the allowed window, else the last sentence end, else
// the hard ceiling.
func (c Chunker) splitPoint(text string, start int) int {
	window := text[start+c.MinChars : start+c.MaxChars]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return start + c.MinChars + i + 2
	}
	if i := lastSentenceEnd(window); i >= 0 {
		return start + c.MinChars + i + 1
	}
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return start + c.MinChars + i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i >= 0 {
		return start + c.MinChars + i + 1
	}

	// Hard ceiling: back the cut up to a rune boundary so a multi-byte
	// character is never split across chunks.
	if end := runeStartBefore(text, start+c.MaxChars, start); end > start {
		return end
	}
	return start + c.MaxChars
}

// runeStartBefore walks i back to the nearest rune start, stopping at floor.
func runeStartBefore(text string, i, floor int) int {
	for i > floor && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// lastSentenceEnd returns the index of the final '.', '!' or '?' that is
// followed by whitespace, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				return i
			}
		}
	}
	return -1
}
