package llm

import "strings"

// Models asked for strict JSON still pad their answers with prose. These
// helpers pull the first balanced JSON value out of a response so the parse
// step can treat the structure as a fallible contract rather than a typed
// return.

// ExtractJSONObject returns the first balanced {...} substring, or "" when
// none exists. String literals and escapes are honored so braces inside
// values do not break the balance count.
func ExtractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray returns the first balanced [...] substring, or "".
func ExtractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
