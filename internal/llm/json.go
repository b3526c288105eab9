package llm

import "strings"

// CleanFences strips markdown code fences that models wrap around JSON.
func CleanFences(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// ExtractJSONObject locates the outermost {...} span in a model response by
// balanced-brace scan and returns it. Braces inside JSON strings are ignored.
// Returns "" when no complete object is found.
func ExtractJSONObject(resp string) string {
	resp = CleanFences(resp)

	start := strings.IndexByte(resp, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(resp); i++ {
		ch := resp[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return resp[start : i+1]
			}
		}
	}

	return ""
}
