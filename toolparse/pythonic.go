package toolparse

import (
	"regexp"
	"strconv"
	"strings"
)

// pythonicCallRe matches a Python-style call expression: name(kw=val, ...).
// Bare positional arguments aren't supported by any tool schema in this
// system, so only keyword arguments are recognized.
var pythonicCallRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_.]*)\(([^()]*)\)`)

var pythonicKwRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(".*?"|'.*?'|\[[^\]]*\]|\{[^}]*\}|[^,]+)`)

var pythonicFenceRe = regexp.MustCompile("(?is)```\\s*(?:python|py)?\\s*\\n(.*?)```")

// parsePythonicCodeBlockToolCalls scans a fenced python/py code block for
// pythonic call-expression tool invocations.
func parsePythonicCodeBlockToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range pythonicFenceRe.FindAllStringSubmatch(content, -1) {
		calls = append(calls, ParsePythonicToolCalls(m[1])...)
	}
	return calls
}

// ParsePythonicToolCalls scans raw text for bare call-expression tool
// invocations like search_web(query="llamas", limit=5), whether or not
// they're fenced.
func ParsePythonicToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range pythonicCallRe.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if !looksLikeToolName(name) {
			continue
		}
		argsStr := m[2]
		args := map[string]interface{}{}
		for _, am := range pythonicKwRe.FindAllStringSubmatch(argsStr, -1) {
			args[am[1]] = pythonicLiteralValue(strings.TrimSpace(am[2]))
		}
		server, tool := ParseCombinedToolName(name)
		calls = append(calls, ParsedToolCall{
			Server:    server,
			Tool:      tool,
			Arguments: args,
			Raw:       m[0],
		})
	}
	return calls
}

// looksLikeToolName filters out ordinary python builtins/control-flow
// keywords that would otherwise parse as a zero-argument tool call.
func looksLikeToolName(name string) bool {
	switch name {
	case "print", "len", "str", "int", "float", "list", "dict", "set", "range",
		"if", "for", "while", "with", "def", "class", "return", "import", "from":
		return false
	}
	return true
}

func pythonicLiteralValue(s string) interface{} {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	switch s {
	case "True":
		return true
	case "False":
		return false
	case "None":
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if v := ParseJSONLenient(s); v != nil {
		return v
	}
	return s
}
