// Package pattern evaluates rule condition values against shell-style
// globs or regular expressions.
package pattern

import (
	"regexp"
	"strings"
)

// Translate converts a shell-style glob into an anchored regular
// expression. The supported syntax is:
//
//	*        any run of characters
//	?        any single character
//	[seq]    any character in seq
//	[!seq]   any character not in seq
//	\c       the literal character c
//
// A ']' directly after '[' or '[!' is a member of the set, a backslash
// inside a set is literal, and an unterminated '[' matches itself.
func Translate(glob string) string {
	pat := []rune(glob)
	n := len(pat)

	var b strings.Builder
	b.WriteString(`^(?s:`)

	for i := 0; i < n; {
		c := pat[i]
		i++

		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i < n {
				b.WriteString(regexp.QuoteMeta(string(pat[i])))
				i++
			} else {
				b.WriteString(`\\`)
			}
		case '[':
			j := i
			if j < n && pat[j] == '!' {
				j++
			}
			if j < n && pat[j] == ']' {
				j++
			}
			for j < n && pat[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			writeSet(&b, pat[i:j])
			i = j + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`)$`)
	return b.String()
}

// writeSet renders the body of a bracket expression as an RE2 class.
func writeSet(b *strings.Builder, set []rune) {
	b.WriteByte('[')
	if len(set) > 0 && set[0] == '!' {
		b.WriteByte('^')
		set = set[1:]
	}
	for k, r := range set {
		switch {
		case r == '\\' || r == '[' || r == ']':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '^' && k == 0:
			b.WriteString(`\^`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(']')
}
