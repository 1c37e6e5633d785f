package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlob(t *testing.T) {
	cases := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"abc", "abc", true},
		{"abc", "?*?", true},
		{"abc", "???*", true},
		{"abc", "*???", true},
		{"abc", "???", true},
		{"abc", "*", true},
		{"abc", "ab[cd]", true},
		{"abc", "ab[!de]", true},
		{"abc", "ab[de]", false},
		{"abc", "a?c", true},
		{"a", "??", false},
		{"a", "b", false},
		{"ABC", "abc", false},

		// backslash inside a set is literal
		{`\`, `[\]`, true},
		{"a", `[!\]`, true},
		{`\`, `[!\]`, false},

		// escaping outside a set
		{"[test]", `\[test\]`, true},
		{"[$%^est]", `\[\$\%\^est\]`, true},
		{"a*c", `?\*?`, true},
		{"a?bc", `?\??*`, true},
		{"ab??c", `*\?\??`, true},
		{"*abc", `\**`, true},
		{"abd", "ab[de]", true},
		{"abc", `a\[bc`, false},

		// an escaped ']' still closes the set
		{"abd", `ab[de\]`, true},
		{"abda", `ab[de\]?`, true},

		// an escaped '[' never opens one
		{"ab[de]", `ab\[de]`, true},
		{"abd", `ab\[de]`, false},

		// ']' first in a set is a member; unterminated '[' is literal
		{"]", "[]]", true},
		{"a", "[!]]", true},
		{"[ab", "[ab", true},
		{"x.y", "x.y", true},
		{"xzy", "x.y", false},
		{"line1\nline2", "line1*", true},
	}

	for _, tc := range cases {
		got := Glob(tc.value, tc.pattern)
		assert.Equal(t, tc.want, got, "Glob(%q, %q)", tc.value, tc.pattern)
	}
}

func TestTranslate(t *testing.T) {
	assert.Equal(t, `^(?s:\*\*)$`, Translate(`\*\*`))
	assert.Equal(t, `^(?s:\*[*])$`, Translate(`\*[*]`))
	assert.Equal(t, `^(?s:\[\$%\^est\])$`, Translate(`\[\$\%\^est\]`))
	assert.Equal(t, `^(?s:.*@example\.com)$`, Translate(`*@example.com`))
	assert.Equal(t, `^(?s:ab[de\\])$`, Translate(`ab[de\]`))
}

func TestRegexIsPrefixMatch(t *testing.T) {
	ok, err := Regex("[AVAILABLE] task", `\[AVAILABLE\]`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Regex("re: [AVAILABLE] task", `\[AVAILABLE\]`)
	require.NoError(t, err)
	assert.False(t, ok, "regex must be anchored at the start")

	ok, err = Regex("abc", `ab$`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Regex("abc", `(`)
	assert.Error(t, err)
}

func TestMatchAny(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name      string
		values    []string
		condition any
		syntax    Syntax
		want      bool
	}{
		{"single string", []string{"hello A"}, "*A*", SyntaxGlob, true},
		{"list first alternative", []string{"has A"}, []any{"*A*", "*B*"}, SyntaxGlob, true},
		{"list second alternative", []string{"has B"}, []string{"*A*", "*B*"}, SyntaxGlob, true},
		{"list neither", []string{"has C"}, []any{"*A*", "*B*"}, SyntaxGlob, false},
		{"empty list", []string{"x"}, []any{}, SyntaxGlob, false},
		{"any value of a list field", []string{"<p>a</p>", "<p>b</p>"}, "*b*", SyntaxGlob, true},
		{"regex alternative", []string{"user@odesk.com"}, []any{`.*@gmail\.com`, `.*@odesk\.com`}, SyntaxRegex, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.MatchAny(tc.values, tc.condition, tc.syntax)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchAnyRejectsUnsupportedCondition(t *testing.T) {
	m := NewMatcher()

	_, err := m.MatchAny([]string{"x"}, 42, SyntaxGlob)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = m.MatchAny([]string{"x"}, []any{"ok", 7}, SyntaxGlob)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = m.MatchAny([]string{"x"}, "(", SyntaxRegex)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestParseSyntax(t *testing.T) {
	for name, want := range map[string]Syntax{
		"":       SyntaxGlob,
		"glob":   SyntaxGlob,
		"regex":  SyntaxRegex,
		"regexp": SyntaxRegex,
		"REGEX":  SyntaxRegex,
	} {
		got, err := ParseSyntax(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseSyntax("sql")
	assert.Error(t, err)
}

func TestMatcherCachesCompiledPatterns(t *testing.T) {
	m := NewMatcher()
	a, err := m.Compile("*.txt", SyntaxGlob)
	require.NoError(t, err)
	b, err := m.Compile("*.txt", SyntaxGlob)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
