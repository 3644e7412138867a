package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object or array out of reasoning
// output. Models wrap JSON in markdown fences or prose despite
// instructions; this strips fences first and then scans for the first
// balanced object or array.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)

	// Prefer an explicit ```json fence.
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		rest := trimmed[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	// Any fence at all.
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	// Fall back to the first balanced {...} or [...] region.
	for _, open := range []byte{'{', '['} {
		if candidate := balancedRegion(trimmed, open); candidate != "" {
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("no valid JSON found in reasoning output")
}

// UnmarshalResponse extracts JSON from reasoning output and decodes it
// into v.
func UnmarshalResponse(text string, v interface{}) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode reasoning JSON: %w", err)
	}
	return nil
}

// balancedRegion returns the first balanced bracket region starting with
// open, respecting string literals and escapes.
func balancedRegion(s string, open byte) string {
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
