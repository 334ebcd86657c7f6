package lindi

import (
	"regexp"
	"strings"
)

// controlChars matches raw control characters that break JSONB storage,
// keeping normal whitespace (\t, \n, \r).
var controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

// escapedControls matches textual \u00XX escape sequences for the same range,
// likewise leaving 	,
 and (tab, LF, CR) alone.
var escapedControls = regexp.MustCompile(`\\u000[0-8bcefBCEF]|\\u001[0-9a-fA-F]`)

// Filter reduces a raw structural document to the storable subset. Dropped
// from the refs map: inline base64 payloads, three-element chunk descriptor
// arrays, and strings carrying escaped control sequences. Everything kept is
// recursively scrubbed of control characters, generation metadata included.
func Filter(doc *Document) *Document {
	filtered := &Document{
		Refs:               make(map[string]any, len(doc.Refs)),
		GenerationMetadata: cleanMap(doc.GenerationMetadata),
	}

	for key, val := range doc.Refs {
		if s, ok := val.(string); ok {
			if strings.HasPrefix(s, "base64:") {
				continue
			}
			if escapedControls.MatchString(s) {
				continue
			}
		}
		// [chunk_url, offset, size] descriptors carry no structure.
		if list, ok := val.([]any); ok && len(list) == 3 {
			continue
		}
		filtered.Refs[cleanString(key)] = cleanValue(val)
	}

	return filtered
}

// cleanValue recursively scrubs control characters from strings inside an
// arbitrary decoded JSON value.
func cleanValue(val any) any {
	switch v := val.(type) {
	case string:
		return cleanString(v)
	case map[string]any:
		return cleanMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return val
	}
}

func cleanMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[cleanString(k)] = cleanValue(v)
	}
	return out
}

func cleanString(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	return escapedControls.ReplaceAllString(s, "")
}
