package toolparse

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// RepairMalformedJSON applies a sequence of textual fixups to text that looks
// like JSON but was produced by a model that doesn't always emit valid JSON:
// strips BOM/control characters, removes // and # comments, converts Python
// literals (True/False/None) to their JSON equivalents, removes trailing
// commas, and escapes bare newlines inside string values.
func RepairMalformedJSON(s string) string {
	s = stripBOMAndControl(s)
	s = stripLineComments(s)
	s = pythonLiteralsRe.ReplaceAllStringFunc(s, func(m string) string {
		switch strings.TrimSpace(m) {
		case "True":
			return "true"
		case "False":
			return "false"
		case "None":
			return "null"
		default:
			return m
		}
	})
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = escapeBareNewlinesInStrings(s)
	return s
}

var (
	pythonLiteralsRe = regexp.MustCompile(`\bTrue\b|\bFalse\b|\bNone\b`)
	trailingCommaRe  = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRe    = regexp.MustCompile(`(?m)(^|\s)//.*$`)
	hashCommentRe    = regexp.MustCompile(`(?m)^\s*#.*$`)
)

func stripBOMAndControl(s string) string {
	s = strings.TrimPrefix(s, string(rune(0xFEFF)))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r == '\r' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripLineComments(s string) string {
	s = lineCommentRe.ReplaceAllString(s, "$1")
	s = hashCommentRe.ReplaceAllString(s, "")
	return s
}

// escapeBareNewlinesInStrings walks the text and, while inside a JSON string
// literal, replaces literal newlines with the escaped \n sequence so the
// standard library parser won't choke on them.
func escapeBareNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		switch {
		case inString && escaped:
			b.WriteRune(r)
			escaped = false
		case inString && r == '\\':
			b.WriteRune(r)
			escaped = true
		case inString && r == '"':
			b.WriteRune(r)
			inString = false
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString:
			b.WriteRune(r)
		case r == '"':
			b.WriteRune(r)
			inString = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseJSONLenient tries, in order: strict parse, parse of the repaired
// text, parse after converting single quotes to double quotes, and finally a
// forgiving scan that tolerates unquoted keys. Returns nil if every attempt
// fails.
func ParseJSONLenient(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if v, ok := tryUnmarshal(s); ok {
		return v
	}

	repaired := RepairMalformedJSON(s)
	if v, ok := tryUnmarshal(repaired); ok {
		return v
	}

	singleQuoted := convertSingleQuotes(repaired)
	if v, ok := tryUnmarshal(singleQuoted); ok {
		return v
	}

	if v, ok := tryUnmarshal(quoteBareKeys(singleQuoted)); ok {
		return v
	}

	return nil
}

func tryUnmarshal(s string) (interface{}, bool) {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// convertSingleQuotes turns a Python-dict-literal-looking string (single
// quoted keys/values) into double-quoted JSON, skipping quotes already
// escaped and leaving double-quoted segments untouched.
func convertSingleQuotes(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	var b bytes.Buffer
	inDouble := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// quoteBareKeys is the JSON5-ish fallback: it quotes unquoted object keys.
func quoteBareKeys(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2"$3`)
}

// UnwrapJSONStructure removes up to one layer of a {tool_call: {...}} or
// {function_call: {...}} or {call: {...}} wrapper, and unwraps a
// single-element array into its sole member.
func UnwrapJSONStructure(v interface{}) interface{} {
	if arr, ok := v.([]interface{}); ok && len(arr) == 1 {
		v = arr[0]
	}
	if obj, ok := v.(map[string]interface{}); ok {
		for _, key := range []string{"tool_call", "function_call", "call"} {
			if inner, ok := obj[key]; ok {
				if innerObj, ok := inner.(map[string]interface{}); ok {
					return innerObj
				}
			}
		}
	}
	return v
}

// ExtractBalancedJSONBraces scans s for the first balanced {...} span
// (tracking string/escape state so braces inside string literals don't
// confuse the counter) and returns it, or "" if none is found.
func ExtractBalancedJSONBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// no-op, inside a string literal
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// FindJSONObjectsInContent scans for every balanced top-level {...} object in
// the text and attempts a lenient parse of each.
func FindJSONObjectsInContent(content string) []interface{} {
	var results []interface{}
	rest := content
	offset := 0
	for {
		idx := strings.IndexByte(rest[offset:], '{')
		if idx < 0 {
			break
		}
		candidate := ExtractBalancedJSONBraces(rest[offset+idx:])
		if candidate == "" {
			break
		}
		if v := ParseJSONLenient(candidate); v != nil {
			results = append(results, v)
		}
		offset += idx + len(candidate)
		if offset >= len(rest) {
			break
		}
	}
	return results
}
