package contract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var fencedJSON = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")

// extractObject locates a single JSON object in raw model text. It tries, in
// order: the whole text, a ```json fenced block, then the largest balanced
// brace-delimited substring.
func extractObject(raw string) (map[string]json.RawMessage, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, eris.Wrap(ErrMalformedResponse, "empty response")
	}

	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}

	if span := largestBalancedObject(text); span != "" {
		if obj, ok := decodeObject(span); ok {
			return obj, nil
		}
	}

	return nil, eris.Wrap(ErrMalformedResponse, "no JSON object found")
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// largestBalancedObject returns the longest top-level {...} span of text.
// Braces inside JSON string literals are ignored.
func largestBalancedObject(text string) string {
	var (
		best     string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && i+1-start > len(best) {
				best = text[start : i+1]
			}
		}
	}
	return best
}
