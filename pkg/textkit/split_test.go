package textkit

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello…"},
		{"привет мир", 6, "привет…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSplitLinesShortInput(t *testing.T) {
	t.Parallel()
	got := SplitLines("one\ntwo", 100)
	if len(got) != 1 || got[0] != "one\ntwo" {
		t.Fatalf("unexpected result: %#v", got)
	}
	if SplitLines("", 100) != nil {
		t.Fatal("empty input should produce no chunks")
	}
}

func TestSplitLinesNeverBreaksMidLine(t *testing.T) {
	t.Parallel()
	lines := []string{
		"alpha alpha alpha",
		"beta beta",
		"gamma gamma gamma gamma",
		"delta",
		"epsilon epsilon epsilon",
	}
	in := strings.Join(lines, "\n")

	parts := SplitLines(in, 30)
	if len(parts) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(parts))
	}

	// Reassembling all chunk lines must give back the original lines.
	var seen []string
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 30 {
			t.Fatalf("chunk exceeds limit: %q", p)
		}
		seen = append(seen, strings.Split(p, "\n")...)
	}
	if len(seen) != len(lines) {
		t.Fatalf("line count changed: got %d, want %d", len(seen), len(lines))
	}
	for i := range lines {
		if seen[i] != lines[i] {
			t.Fatalf("line %d broken: got %q, want %q", i, seen[i], lines[i])
		}
	}
}

func TestSplitLinesOversizedLine(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("я", 25)
	parts := SplitLines(long, 10)
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %#v", len(parts), parts)
	}
	if strings.Join(parts, "") != long {
		t.Fatal("hard-wrapped chunks do not reassemble to the original line")
	}
}
