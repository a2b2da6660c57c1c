package openclaw

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// ResponseText pulls the assistant text out of a provider body. Accepted
// shapes are a bare JSON string, an object with output_text or output as a
// string, the responses-style output[].content[].text list, and a few common
// chat shapes. A body that is not JSON is returned trimmed.
func ResponseText(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	if !gjson.Valid(trimmed) {
		return trimmed
	}

	root := gjson.Parse(trimmed)
	switch {
	case root.Type == gjson.String:
		return root.String()
	case !root.IsObject():
		return trimmed
	}

	for _, path := range []string{"output_text", "output", "text", "message", "choices.0.message.content"} {
		if v := root.Get(path); v.Type == gjson.String {
			return v.String()
		}
	}

	if output := root.Get("output"); output.IsArray() {
		parts := make([]string, 0, 2)
		output.ForEach(func(_, item gjson.Result) bool {
			if item.Type == gjson.String {
				parts = append(parts, item.String())
				return true
			}
			item.Get("content").ForEach(func(_, c gjson.Result) bool {
				if t := c.Get("text"); t.Type == gjson.String {
					parts = append(parts, t.String())
				}
				return true
			})
			return true
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// ExtractObject best-effort parses a JSON object out of model output: the
// whole text when it is an object, otherwise the first balanced {...}
// substring that decodes. It never panics and reports false when nothing
// usable is found.
func ExtractObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if obj, ok := decodeObject(text); ok {
		return obj, true
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			if obj, ok := decodeObject(text[start : end+1]); ok {
				return obj, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
