package pattern

import "strings"

// CleanANSI removes ANSI escape sequences and raw control bytes from
// terminal output using a single-pass scan.
//
// We intentionally avoid regex here: complex ANSI regex patterns can cause
// catastrophic backtracking on malformed escape sequences, and the hot path
// sees every output chunk. Handles CSI (ESC[ and 8-bit 0x9B, including
// private-mode ?-toggles), OSC (ESC] terminated by BEL or ST), single-char
// escapes, carriage returns, and other C0 control bytes (newlines and tabs
// are kept). Idempotent: CleanANSI(CleanANSI(x)) == CleanANSI(x).
func CleanANSI(content string) string {
	// Fast path: nothing to strip.
	if !strings.ContainsAny(content, "\x1b\r") && !hasControlOrCSI(content) {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	runes := []rune(content)
	i := 0
	for i < len(runes) {
		r := runes[i]

		if r == '\x1b' {
			// CSI sequence: ESC [ params... final-byte(0x40-0x7E)
			if i+1 < len(runes) && runes[i+1] == '[' {
				j := i + 2
				for j < len(runes) {
					c := runes[j]
					j++
					if c >= 0x40 && c <= 0x7E {
						break
					}
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL or ESC \
			if i+1 < len(runes) && runes[i+1] == ']' {
				j := i + 2
				for j < len(runes) {
					if runes[j] == '\x07' {
						j++
						break
					}
					if runes[j] == '\x1b' && j+1 < len(runes) && runes[j+1] == '\\' {
						j += 2
						break
					}
					j++
				}
				i = j
				continue
			}
			// Other escape: ESC plus a single following char.
			if i+1 < len(runes) {
				i += 2
				continue
			}
			i++
			continue
		}

		// 8-bit CSI (C1 control 0x9B).
		if r == 0x9B {
			j := i + 1
			for j < len(runes) {
				c := runes[j]
				j++
				if c >= 0x40 && c <= 0x7E {
					break
				}
			}
			i = j
			continue
		}

		// Drop CR and remaining C0 controls; keep newline and tab.
		if r == '\r' || (r < 0x20 && r != '\n' && r != '\t') || r == 0x7F {
			i++
			continue
		}

		b.WriteRune(r)
		i++
	}

	return b.String()
}

func hasControlOrCSI(content string) bool {
	for _, r := range content {
		if r == 0x9B || r == 0x7F || (r < 0x20 && r != '\n' && r != '\t') {
			return true
		}
	}
	return false
}

// StripBoxGlyphs removes box-drawing and block-element glyphs in a single
// strings.Map pass. TUIs frame output with these; they carry no signal for
// classification and destabilize prompt matching.
func StripBoxGlyphs(s string) string {
	return strings.Map(func(r rune) rune {
		// U+2500-U+257F box drawing, U+2580-U+259F block elements.
		if r >= 0x2500 && r <= 0x259F {
			return -1
		}
		return r
	}, s)
}

// SanitizeLine produces the clean, trimmed form of one logical line used for
// pattern matching.
func SanitizeLine(line string) string {
	return strings.TrimSpace(StripBoxGlyphs(CleanANSI(line)))
}

// SplitLines breaks a raw chunk into logical lines on \r\n or \n.
func SplitLines(chunk string) []string {
	return strings.Split(strings.ReplaceAll(chunk, "\r\n", "\n"), "\n")
}
