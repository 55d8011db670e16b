// Package textutil cleans retrieved excerpt text and splits it into
// bounded-length chunks for delivery as context messages.
package textutil

import (
	"fmt"
	"strings"
	"unicode"
)

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

// Clean normalizes excerpt text: control characters are removed, adjacent
// CJK characters separated only by whitespace are joined, runs of spaces and
// tabs collapse to one space, runs of newlines collapse to one newline, and
// leading/trailing whitespace is trimmed. Idempotent.
func Clean(text string) string {
	runes := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		runes = append(runes, r)
	}

	var b strings.Builder
	b.Grow(len(runes))
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			j := i
			sawNewline := false
		scan:
			for j < len(runes) {
				switch runes[j] {
				case '\n', '\r':
					sawNewline = true
				case ' ', '\t':
				default:
					break scan
				}
				j++
			}
			prevIsCJK := b.Len() > 0 && lastRuneIsCJK(b.String())
			nextIsCJK := j < len(runes) && isCJK(runes[j])
			switch {
			case prevIsCJK && nextIsCJK:
				// whitespace between two CJK characters is joined away
			case sawNewline:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
			i = j
			continue
		}
		b.WriteRune(r)
		i++
	}
	return strings.TrimSpace(b.String())
}

func lastRuneIsCJK(s string) bool {
	var last rune
	for _, r := range s {
		last = r
	}
	return isCJK(last)
}

// Split breaks text into chunks of at most maxLen runes, in order. The
// concatenation of the chunks reconstructs text exactly. Empty input yields
// no chunks.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 || text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for i := 0; i < len(runes); i += maxLen {
		end := i + maxLen
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// FragmentHeader returns the header prefixed to the first chunk of the n-th
// retrieved fragment (1-based).
func FragmentHeader(n int) string {
	return fmt.Sprintf("【片段%d】\n", n)
}
