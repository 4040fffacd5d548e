// CLAUDE:SUMMARY Scores decoded text so callers can spot binary garbage coming out of the fallback path.
// CLAUDE:EXPORTS Quality, Measure
package docpipe

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quality captures metrics about a decoded text.
type Quality struct {
	Chars          int     `json:"chars"`
	Lines          int     `json:"lines"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
}

// LooksBinary reports whether the text is mostly non-printable, which is what
// a lossy decode of a binary upload looks like.
func (q Quality) LooksBinary() bool {
	return q.Chars > 0 && q.PrintableRatio < 0.85
}

// Measure computes quality metrics for text.
func Measure(text string) Quality {
	q := Quality{
		Chars:          utf8.RuneCountInString(text),
		PrintableRatio: computePrintableRatio(text),
		WordlikeRatio:  computeWordlikeRatio(text),
	}
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			q.Lines++
		}
	}
	return q
}

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func computePrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == unicode.ReplacementChar:
		return true
	case r < 0x0020 && r != '\n' && r != '\r' && r != '\t':
		return true
	}
	return false
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
