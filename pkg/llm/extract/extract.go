// Package extract pulls structured JSON out of free-form model output.
//
// Model responses are rarely clean JSON: they arrive wrapped in code
// fences, prefixed with prose, decorated with smart quotes, or carrying
// trailing commas. Each repair step here is a small standalone function
// so the fallback chain stays testable piece by piece.
package extract

import (
	"encoding/json"
	"strings"
)

// Unmarshal decodes raw model output into out, applying the repair chain
// until one variant parses. It returns false if no variant parsed.
func Unmarshal(raw string, out any) bool {
	for _, candidate := range candidates(raw) {
		if json.Unmarshal([]byte(candidate), out) == nil {
			return true
		}
	}
	return false
}

// candidates produces progressively more repaired variants of raw.
func candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	variants := []string{raw}

	stripped := StripCodeFences(raw)
	if stripped != raw {
		variants = append(variants, stripped)
	}

	if body := ExtractJSONBody(stripped); body != "" && body != stripped {
		variants = append(variants, body)
	}

	// Repairs apply to the most promising variant (innermost body).
	base := stripped
	if body := ExtractJSONBody(stripped); body != "" {
		base = body
	}
	repaired := StripTrailingCommas(ReplaceSmartQuotes(base))
	if repaired != base {
		variants = append(variants, repaired)
	}

	return variants
}

// StripCodeFences removes a surrounding markdown code fence, with or
// without a language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag up to the first newline.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || isLanguageTag(firstLine) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return len(s) <= 16
}

// ExtractJSONBody returns the first balanced JSON array or object
// embedded in s, or "" if none is found. Quoted brackets are ignored.
func ExtractJSONBody(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '[' || s[i] == '{' {
			start = i
			open = s[i]
			if open == '[' {
				close = ']'
			} else {
				close = '}'
			}
			break
		}
	}
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

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"‘", "'", // left single
	"’", "'", // right single
)

// ReplaceSmartQuotes swaps typographic quotes for ASCII ones.
func ReplaceSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}

// StripTrailingCommas removes commas that directly precede a closing
// bracket or brace, outside of strings.
func StripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnmarshalArray decodes raw model output into a JSON array, unwrapping
// an object that nests the array under one of wrapperKeys.
func UnmarshalArray(raw string, wrapperKeys []string, out any) bool {
	if Unmarshal(raw, out) {
		return true
	}
	var wrapper map[string]json.RawMessage
	if !Unmarshal(raw, &wrapper) {
		return false
	}
	for _, key := range wrapperKeys {
		if inner, ok := wrapper[key]; ok {
			if json.Unmarshal(inner, out) == nil {
				return true
			}
		}
	}
	return false
}
