package events

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// unifyLimit is the first rune dropped by Unify. The game renders its icon
// glyphs from the private band above it; Latin and Cyrillic stay below.
const unifyLimit = 'џ'

// Unify drops every rune at or above U+045F.
func Unify(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= unifyLimit {
			return -1
		}
		return r
	}, s)
}

// StripColors removes the game's bracketed color markup, e.g.
// "[scarlet]red[] plain" becomes "red plain". Brackets nest; text is only
// kept at depth zero. An unmatched ']' is dropped without going negative.
func StripColors(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Sanitize prepares a speaker name or message for relay: terminal escapes,
// color markup and icon glyphs are removed and surrounding space trimmed.
func Sanitize(s string) string {
	return strings.TrimSpace(Unify(StripColors(ansi.Strip(s))))
}
