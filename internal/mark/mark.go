// Package mark embeds invisible symbol sequences into carrier text and
// recovers them from possibly-edited copies. Embedding only ever inserts
// alphabet runes, and paragraphs and sentences are rejoined with the same
// separators they were split on, so Strip(Embed(text, seq)) == text holds
// byte-exact for every input.
package mark

import (
	"strings"

	"github.com/hazyhaar/whisperprint/internal/codec"
)

// Embed interleaves seq into text at natural boundaries: one symbol after
// the first word of each sentence, one at the end of each non-empty
// paragraph, and any remainder appended to the end of the text. Symbols
// are consumed in encoding order, so Extract on the result returns seq
// followed by nothing else (for a clean carrier).
func Embed(text, seq string) string {
	remaining := []rune(seq)
	paragraphs := strings.Split(text, "\n")
	for i, paragraph := range paragraphs {
		if len(remaining) == 0 {
			break
		}
		if strings.TrimSpace(paragraph) == "" {
			continue
		}
		sentences := strings.Split(paragraph, ". ")
		for j, sentence := range sentences {
			if len(remaining) == 0 {
				break
			}
			if sentence == "" {
				continue
			}
			at := strings.IndexByte(sentence, ' ')
			if at < 0 {
				at = len(sentence)
			}
			sentences[j] = sentence[:at] + string(remaining[0]) + sentence[at:]
			remaining = remaining[1:]
		}
		paragraph = strings.Join(sentences, ". ")
		if len(remaining) > 0 {
			paragraph += string(remaining[0])
			remaining = remaining[1:]
		}
		paragraphs[i] = paragraph
	}
	out := strings.Join(paragraphs, "\n")
	if len(remaining) > 0 {
		out += string(remaining)
	}
	return out
}

// Extract collects every invisible-alphabet rune in text, preserving
// encounter order. It returns "" when text carries no mark.
func Extract(text string) string {
	var b strings.Builder
	for _, r := range text {
		if codec.IsSymbol(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Strip removes every invisible-alphabet rune from text.
func Strip(text string) string {
	return strings.Map(func(r rune) rune {
		if codec.IsSymbol(r) {
			return -1
		}
		return r
	}, text)
}
