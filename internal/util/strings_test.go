package util

import (
	"strings"
	"testing"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"tiny limit", "hello", 2, "..."},
		{"multibyte runes", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	styled := "\x1b[31mhello world\x1b[0m"
	got := TruncateANSI(styled, 8)
	if !strings.HasSuffix(got, "...") && !strings.Contains(got, "...") {
		t.Errorf("TruncateANSI() = %q, expected ellipsis", got)
	}
	if TruncateANSI("short", 10) != "short" {
		t.Error("short strings should be unchanged")
	}
}

func TestTail(t *testing.T) {
	text := "line one\nline two\nline three"
	if got := Tail(text, 100); got != text {
		t.Errorf("Tail() with large limit = %q", got)
	}
	if got := Tail(text, 14); got != "line three" {
		t.Errorf("Tail(text, 14) = %q, want %q", got, "line three")
	}
	if got := Tail("abcdef", 3); got != "def" {
		t.Errorf("Tail without newline = %q, want %q", got, "def")
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n\n  first  \nsecond"); got != "first" {
		t.Errorf("FirstLine() = %q, want %q", got, "first")
	}
	if got := FirstLine("   "); got != "" {
		t.Errorf("FirstLine(blank) = %q, want empty", got)
	}
}
