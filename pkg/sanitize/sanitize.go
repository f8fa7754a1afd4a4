// Package sanitize cleans free-text request input before it reaches the
// services.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLen bounds any single string field.
const DefaultMaxLen = 1000

var strict = bluemonday.StrictPolicy()

// String strips markup and control characters, collapses runs of whitespace
// and truncates to maxLen runes. A maxLen of zero uses DefaultMaxLen.
func String(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strict.Sanitize(s)
	s = strings.Join(strings.Fields(s), " ")

	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return s
}

// Email lowercases and trims an address. Markup is not expected in emails,
// so anything that changes under String is left for the validator to reject.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Value walks decoded JSON and sanitizes every string in place. Keys listed in
// skip (passwords, tokens, codes) are left untouched.
func Value(v interface{}, skip map[string]bool) interface{} {
	switch t := v.(type) {
	case string:
		return String(t, 0)
	case map[string]interface{}:
		for k, inner := range t {
			if skip[k] {
				continue
			}
			t[k] = Value(inner, skip)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = Value(inner, skip)
		}
		return t
	default:
		return v
	}
}
