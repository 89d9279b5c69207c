package speech

import (
	"strings"
	"unicode"
)

// DefaultMaxSegment is the longest piece, in runes, handed to an engine.
const DefaultMaxSegment = 200

// Segment splits text into speakable pieces. Text is cut after every run of
// terminal punctuation ('.', '!', '?', newline); the punctuation stays with
// the sentence it ends and leading whitespace stays with the next one. Any
// piece longer than maxLen runes is split again, after the last whitespace
// of each window when there is one. Whitespace-only pieces are dropped.
func Segment(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxSegment
	}
	var out []string
	for _, s := range sentences(text) {
		for _, piece := range splitLong(s, maxLen) {
			if strings.TrimSpace(piece) != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

func sentences(text string) []string {
	var out []string
	start := 0
	inTerminal := false
	for i, r := range text {
		if isTerminal(r) {
			inTerminal = true
			continue
		}
		if inTerminal {
			out = append(out, text[start:i])
			start = i
			inTerminal = false
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func splitLong(s string, maxLen int) []string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return []string{s}
	}
	var out []string
	for len(runes) > maxLen {
		cut := maxLen
		for j := maxLen - 1; j > 0; j-- {
			if unicode.IsSpace(runes[j]) {
				cut = j + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
