package pipeline

import "strings"

// summaryMaxLen bounds the spoken synopsis length in runes.
const summaryMaxLen = 140

// Summarize derives the short spoken synopsis of a response: its first
// sentence, truncated on a word boundary when even that runs long.
func Summarize(response string) string {
	text := strings.Join(strings.Fields(response), " ")
	if text == "" {
		return ""
	}

	if end := sentenceEnd(text); end > 0 {
		text = text[:end]
	}

	runes := []rune(text)
	if len(runes) <= summaryMaxLen {
		return text
	}
	cut := string(runes[:summaryMaxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, ",;:") + "..."
}

// sentenceEnd returns the index just past the first sentence terminator, or
// 0 when none is found. Terminators inside numbers ("3.14") do not count.
func sentenceEnd(text string) int {
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			if r == '.' && i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9' {
				continue
			}
			return i + 1
		}
	}
	return 0
}
