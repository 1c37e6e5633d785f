package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Syntax selects how a condition pattern is interpreted.
type Syntax string

const (
	SyntaxGlob  Syntax = "glob"
	SyntaxRegex Syntax = "regex"
)

// ParseSyntax maps a configured syntax name to a Syntax. An empty name
// selects glob; "regexp" is accepted as an alias for regex.
func ParseSyntax(name string) (Syntax, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "glob":
		return SyntaxGlob, nil
	case "regex", "regexp", "re":
		return SyntaxRegex, nil
	default:
		return "", fmt.Errorf("unknown pattern syntax %q", name)
	}
}

// ConfigurationError reports a condition that cannot be evaluated
// because of how it was configured rather than because of the message.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "pattern configuration: " + e.Message
	}
	return fmt.Sprintf("pattern configuration (%s): %s", e.Field, e.Message)
}

// IsConfigurationError reports whether err (or any error in its chain)
// is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Patterns normalizes a condition value into its list of alternatives.
// A condition is either a single string or a list of strings; anything
// else is a ConfigurationError.
func Patterns(condition any) ([]string, error) {
	switch v := condition.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &ConfigurationError{
					Message: fmt.Sprintf(
						"pattern list item %d should be a string, not %T", i, item,
					),
				}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("pattern should be a string or list, not %T", condition),
		}
	}
}

// Glob reports whether value matches the shell-style pattern as a whole.
func Glob(value, pattern string) bool {
	re, err := regexp.Compile(Translate(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// Regex reports whether pattern matches at the start of value. The
// match is not anchored at the end unless the pattern anchors itself.
func Regex(value, pattern string) (bool, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

// Matcher evaluates patterns, caching compiled expressions.
type Matcher struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewMatcher creates a Matcher with an empty cache.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*regexp.Regexp)}
}

// Compile returns the compiled expression for pattern in the given syntax.
func (m *Matcher) Compile(pattern string, syntax Syntax) (*regexp.Regexp, error) {
	var expr string
	switch syntax {
	case SyntaxGlob, "":
		expr = Translate(pattern)
	case SyntaxRegex:
		expr = `^(?:` + pattern + `)`
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("unknown syntax %q", syntax)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.cache[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("invalid %s pattern %q: %v", syntax, pattern, err),
		}
	}
	m.cache[expr] = re
	return re, nil
}

// Match reports whether value matches a single pattern.
func (m *Matcher) Match(value, pattern string, syntax Syntax) (bool, error) {
	re, err := m.Compile(pattern, syntax)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

// MatchAny reports whether any of values matches any alternative of the
// condition. An empty list of alternatives never matches.
func (m *Matcher) MatchAny(values []string, condition any, syntax Syntax) (bool, error) {
	patterns, err := Patterns(condition)
	if err != nil {
		return false, err
	}
	for _, p := range patterns {
		re, err := m.Compile(p, syntax)
		if err != nil {
			return false, err
		}
		for _, v := range values {
			if re.MatchString(v) {
				return true, nil
			}
		}
	}
	return false, nil
}
