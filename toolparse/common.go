package toolparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParsedToolCall is the cascade's intermediate result, before the dispatcher
// resolves an "unknown" server against the tool registry.
type ParsedToolCall struct {
	Server    string
	Tool      string
	Arguments map[string]interface{}
	Raw       string
	ID        string
}

// nameFieldOrder is the alias precedence used when pulling a tool name out
// of an arbitrarily-shaped JSON object.
var nameFieldOrder = []string{"name", "tool_name", "function", "action", "command"}

// ExtractToolNameFromJSON walks the alias list, including the nested
// tool.name / function.name forms, and returns the first matching name.
func ExtractToolNameFromJSON(v interface{}) (string, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	for _, field := range nameFieldOrder {
		if s, ok := obj[field].(string); ok && s != "" {
			return s, true
		}
	}
	for _, nested := range []string{"tool", "function"} {
		if inner, ok := obj[nested].(map[string]interface{}); ok {
			if s, ok := inner["name"].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

var argsFieldOrder = []string{"arguments", "parameters", "tool_args"}

// ExtractToolArgumentsFromJSON returns the arguments object under whichever
// alias is present, or an empty map if none match (a tool call with no
// arguments is not an error).
func ExtractToolArgumentsFromJSON(v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	for _, field := range argsFieldOrder {
		if inner, ok := obj[field].(map[string]interface{}); ok {
			return inner
		}
	}
	return map[string]interface{}{}
}

// ExtractToolArgumentsFromJSONOrSelf is ExtractToolArgumentsFromJSON for
// formats whose body is normally the arguments object itself: when no alias
// is present the object is returned as-is; a non-object yields an empty map.
func ExtractToolArgumentsFromJSONOrSelf(v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	for _, field := range argsFieldOrder {
		if inner, ok := obj[field].(map[string]interface{}); ok {
			return inner
		}
	}
	return obj
}

// ParseCombinedToolName splits a server___tool wire name on the first triple
// underscore. A name with no triple underscore resolves to server="unknown"
// so the dispatcher can look it up across every connected MCP server.
func ParseCombinedToolName(name string) (server, tool string) {
	if idx := strings.Index(name, "___"); idx >= 0 {
		return name[:idx], name[idx+3:]
	}
	return "unknown", name
}

var fallbackToolCallRe = regexp.MustCompile(`(?is)(?:tool|function)[_ ]?(?:call|name)["':\s]+([A-Za-z_][A-Za-z0-9_.]*)`)

// ExtractToolCallByRegex is the parser cascade's last resort: a loose regex
// scan for "tool_call: name" style mentions when nothing parsed as JSON.
// It never extracts arguments — only a bare call with no arguments is
// returned, since nothing richer could be reliably recovered this way.
func ExtractToolCallByRegex(content string) (ParsedToolCall, bool) {
	m := fallbackToolCallRe.FindStringSubmatch(content)
	if m == nil {
		return ParsedToolCall{}, false
	}
	server, tool := ParseCombinedToolName(m[1])
	return ParsedToolCall{
		Server:    server,
		Tool:      tool,
		Arguments: map[string]interface{}{},
		Raw:       m[0],
	}, true
}

// ArgumentsJSON marshals the extracted arguments map back to a compact JSON
// RawMessage for chatproto.ToolCall.
func ArgumentsJSON(args map[string]interface{}) json.RawMessage {
	if args == nil {
		args = map[string]interface{}{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
