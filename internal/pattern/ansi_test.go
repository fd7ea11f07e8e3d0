package pattern

import "testing"

func TestCleanANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor", "\x1b[2J\x1b[Hcleared", "cleared"},
		{"private mode", "\x1b[?25ltext\x1b[?25h", "text"},
		{"osc bel", "\x1b]0;window title\x07body", "body"},
		{"osc st", "\x1b]8;;http://x\x1b\\link", "link"},
		{"single char escape", "\x1bMline", "line"},
		{"carriage return", "progress\rdone", "progressdone"},
		{"control bytes", "a\x00b\x08c", "abc"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"truncated escape", "tail\x1b", "tail"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanANSI(tt.in)
			if got != tt.want {
				t.Errorf("CleanANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanANSI_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"\x1b[31mred\x1b[0m",
		"\x1b]0;t\x07x\r\x1b[K",
		"mixed \x1b[1;32mgreen\x1b[0m and \rCR",
		"unicode ✳ │ text",
	}
	for _, in := range inputs {
		once := CleanANSI(in)
		twice := CleanANSI(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestStripBoxGlyphs(t *testing.T) {
	in := "╭──────╮\n│ hello │\n╰──────╯"
	got := StripBoxGlyphs(in)
	if got != "\n hello \n" {
		t.Errorf("StripBoxGlyphs = %q", got)
	}
}

func TestSanitizeLine(t *testing.T) {
	in := "  \x1b[32m│ Welcome to Claude Code! │\x1b[0m  "
	got := SanitizeLine(in)
	if got != "Welcome to Claude Code!" {
		t.Errorf("SanitizeLine = %q", got)
	}
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines("a\r\nb\nc")
	if len(lines) != 3 || lines[0] != "a" || lines[1] != "b" || lines[2] != "c" {
		t.Errorf("SplitLines = %v", lines)
	}
}
