// Package sanitize normalizes untrusted field values before they reach the
// relational store or an API response.
//
// Bulk CSV uploads and single-row edits go through the same Clean function;
// there is no trust-boundary difference between the two paths.
package sanitize

import (
	"strings"
	"unicode"
)

// Clean trims a value, removes any markup, and collapses internal whitespace.
// The result never contains '<' or '>' so it can be embedded in HTML responses
// without further escaping.
func Clean(value string) string {
	value = stripTags(value)
	value = strings.Map(func(r rune) rune {
		if r == '\x00' || (unicode.IsControl(r) && r != '\t') {
			return -1
		}
		return r
	}, value)
	return strings.Join(strings.Fields(value), " ")
}

// CleanAll sanitizes every value of a row in place and returns it.
func CleanAll(values []string) []string {
	for i, v := range values {
		values[i] = Clean(v)
	}
	return values
}

// CleanMap sanitizes every value of a field map in place and returns it.
func CleanMap(fields map[string]string) map[string]string {
	for k, v := range fields {
		fields[k] = Clean(v)
	}
	return fields
}

// stripTags removes <...> markup. The body of script and style elements is
// dropped along with the tags, an unterminated tag swallows the rest of the
// value, and a stray '>' outside any tag is removed too.
func stripTags(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); {
		switch value[i] {
		case '<':
			name, end := parseTag(value, i)
			if end < 0 {
				return b.String()
			}
			i = end + 1
			if name == "script" || name == "style" {
				i = skipElement(value, i, name)
			}
		case '>':
			i++
		default:
			b.WriteByte(value[i])
			i++
		}
	}
	return b.String()
}

// parseTag returns the lowercase element name of the tag opening at start and
// the index of its closing '>', or -1 when the tag never closes.
func parseTag(value string, start int) (string, int) {
	end := strings.IndexByte(value[start:], '>')
	if end < 0 {
		return "", -1
	}
	end += start

	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value[start+1:end], "/")))
	for j, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			name = name[:j]
			break
		}
	}
	return name, end
}

// skipElement returns the index just past the closing tag of name, or the end
// of the value when the element never closes.
func skipElement(value string, from int, name string) int {
	idx := strings.Index(strings.ToLower(value[from:]), "</"+name)
	if idx < 0 {
		return len(value)
	}
	gt := strings.IndexByte(value[from+idx:], '>')
	if gt < 0 {
		return len(value)
	}
	return from + idx + gt + 1
}
