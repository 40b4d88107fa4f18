package textkit

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// SplitLines splits s into chunks of at most max runes each, breaking only
// at line boundaries. A single line longer than max is hard-wrapped at rune
// boundaries instead of being dropped.
func SplitLines(s string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.Split(s, "\n") {
		lineLen := utf8.RuneCountInString(line)

		if lineLen > max {
			// Oversized line: flush what we have and hard-wrap the line itself.
			flush()
			for _, piece := range wrapRunes(line, max) {
				parts = append(parts, piece)
			}
			continue
		}

		// +1 accounts for the newline separator.
		if curLen > 0 && curLen+1+lineLen > max {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(line)
		curLen += lineLen
	}
	flush()
	return parts
}

func wrapRunes(s string, max int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
