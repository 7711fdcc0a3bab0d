package policy

import "unicode"

// Match reports whether text matches a glob pattern, ignoring case.
// '*' matches any run of characters, including none. Every other rune
// in the pattern is literal, so a pattern without '*' means equality.
func Match(text, pattern string) bool {
	t := lowerRunes(text)
	p := lowerRunes(pattern)

	ti, pi := 0, 0
	star, mark := -1, 0
	for ti < len(t) {
		switch {
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = ti
			pi++
		case pi < len(p) && p[pi] == t[ti]:
			ti++
			pi++
		case star >= 0:
			// Backtrack: let the last '*' swallow one more rune.
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}
