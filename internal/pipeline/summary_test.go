package pipeline

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			"first sentence",
			"An avocado has about 240 calories. That covers roughly a tenth of a typical daily intake.",
			"An avocado has about 240 calories.",
		},
		{
			"question mark",
			"Did you mean the fruit? I can look up either.",
			"Did you mean the fruit?",
		},
		{
			"no terminator",
			"about 240 calories",
			"about 240 calories",
		},
		{
			"decimal not a terminator",
			"Pi is roughly 3.14 for most uses. More digits rarely help.",
			"Pi is roughly 3.14 for most uses.",
		},
		{
			"whitespace collapsed",
			"  Spread   over\nlines.  And more.",
			"Spread over lines.",
		},
		{
			"empty",
			"   ",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.response); got != tt.want {
				t.Fatalf("Summarize(%q) = %q, want %q", tt.response, got, tt.want)
			}
		})
	}
}

func TestSummarizeTruncatesLongSentence(t *testing.T) {
	long := strings.Repeat("calories and more ", 20) + "end."
	got := Summarize(long)
	if len([]rune(got)) > summaryMaxLen+3 {
		t.Fatalf("summary is %d runes, want at most %d plus ellipsis", len([]rune(got)), summaryMaxLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated summary %q should end with ellipsis", got)
	}
}
