// Package routes renders API route paths from a fixed template. A template
// consists of literal text, required placeholders written as {name}, and
// optional segments written as [ ... ]. An optional segment is emitted only
// when every placeholder inside it has a non-empty value; otherwise the whole
// segment, including its literal text, is dropped.
package routes

import (
	"fmt"
	"strings"
)

// Pattern is the route template used by the Neuroscout API:
// a required resource route followed by an optional id and sub-route.
const Pattern = "{route}[/{id}][/{sub_route}]"

// Build renders the given template with the supplied placeholder values.
// Values that are absent or empty cause the enclosing optional segment to be
// omitted. A missing value for a placeholder outside any optional segment is
// a programming error and returns a non-nil error.
func Build(pattern string, values map[string]string) (string, error) {
	var out strings.Builder

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated optional segment in pattern %q", pattern)
			}
			segment, ok, err := renderSegment(pattern[i+1:i+end], values, true)
			if err != nil {
				return "", err
			}
			if ok {
				out.WriteString(segment)
			}
			i += end + 1
		case ']':
			return "", fmt.Errorf("unmatched ']' in pattern %q", pattern)
		default:
			next := strings.IndexByte(pattern[i:], '[')
			if next < 0 {
				next = len(pattern) - i
			}
			segment, _, err := renderSegment(pattern[i:i+next], values, false)
			if err != nil {
				return "", err
			}
			out.WriteString(segment)
			i += next
		}
	}

	return out.String(), nil
}

// renderSegment substitutes placeholders inside a single template segment.
// For optional segments a missing placeholder value suppresses the whole
// segment; for required segments it is an error.
func renderSegment(segment string, values map[string]string, optional bool) (string, bool, error) {
	var out strings.Builder

	for {
		open := strings.IndexByte(segment, '{')
		if open < 0 {
			out.WriteString(segment)
			return out.String(), true, nil
		}
		out.WriteString(segment[:open])
		segment = segment[open+1:]

		closing := strings.IndexByte(segment, '}')
		if closing < 0 {
			return "", false, fmt.Errorf("unterminated placeholder in segment")
		}
		name := segment[:closing]
		segment = segment[closing+1:]

		v, present := values[name]
		if !present || v == "" {
			if optional {
				return "", false, nil
			}
			return "", false, fmt.Errorf("missing value for required placeholder %q", name)
		}
		out.WriteString(v)
	}
}
