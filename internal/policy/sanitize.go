package policy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// invisible covers code points that render as nothing (or only reshape
// neighbouring glyphs) and can be spliced into a keyword to dodge matching.
var invisible = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x0300, Hi: 0x036F, Stride: 1}, // combining diacritical marks, incl. U+034F CGJ
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space/joiners, LRM/RLM
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embeddings and overrides
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner, invisible operators
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolates
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // byte-order mark
	},
}

// Sanitize strips invisible and directional-control characters from a task
// description. Visible characters are left untouched.
func Sanitize(s string) string {
	out, _, err := transform.String(runes.Remove(runes.In(invisible)), s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if unicode.Is(invisible, r) {
				return -1
			}
			return r
		}, s)
	}
	return out
}
