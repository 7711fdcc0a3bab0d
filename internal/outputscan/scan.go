// Package outputscan flags executor output that contains keywords taken
// from the deny patterns of a policy. It only detects; it never redacts,
// blocks or retracts.
package outputscan

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/leash/internal/model"
	"github.com/ppiankov/leash/internal/policy"
)

const (
	// contextRunes is how much output is kept on either side of a hit.
	contextRunes = 20
	// minKeywordRunes filters vacuous patterns such as "*" or "*a*".
	minKeywordRunes = 2
)

// Scan returns one flag per deny pattern whose keyword appears in output.
// Output is scanned raw; it is not sanitized.
func Scan(output string, p *policy.Policy) []model.OutputFlag {
	if output == "" || len(p.Deny) == 0 {
		return nil
	}

	orig := []rune(output)
	lower := make([]rune, len(orig))
	for i, r := range orig {
		lower[i] = unicode.ToLower(r)
	}

	var flags []model.OutputFlag
	for _, pattern := range p.Deny {
		keyword, ok := Keyword(pattern)
		if !ok {
			continue
		}
		kw := []rune(keyword)
		idx := indexRunes(lower, kw)
		if idx < 0 {
			continue
		}

		start := max(0, idx-contextRunes)
		end := min(len(orig), idx+len(kw)+contextRunes)
		flags = append(flags, model.OutputFlag{
			Pattern: pattern,
			Keyword: keyword,
			Snippet: strings.TrimSpace(string(orig[start:end])),
		})
	}
	return flags
}

// Keyword derives the literal a deny pattern is looking for:
// "*send*" → "send", "delete*" → "delete". ok is false for patterns that
// reduce to fewer than two characters.
func Keyword(pattern string) (string, bool) {
	kw := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(pattern, "*", "")))
	if utf8.RuneCountInString(kw) < minKeywordRunes {
		return "", false
	}
	return kw, true
}

func indexRunes(s, sub []rune) int {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		match := true
		for j := 0; j < n; j++ {
			if s[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
