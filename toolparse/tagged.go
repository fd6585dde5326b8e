package toolparse

import "strings"

// taggedMarker is Mistral's [TOOL_CALLS] convention: everything after the
// marker, up to the next [/TOOL_CALLS] or [TOOL_RESULTS] sentinel (or end of
// string), is a JSON array or object of tool calls.
const (
	taggedStartMarker = "[TOOL_CALLS]"
	taggedEndMarker1  = "[/TOOL_CALLS]"
	taggedEndMarker2  = "[TOOL_RESULTS]"
)

// ParseTaggedToolCalls parses the [TOOL_CALLS]{...}[/TOOL_CALLS] convention.
func ParseTaggedToolCalls(content string) []ParsedToolCall {
	idx := strings.Index(content, taggedStartMarker)
	if idx < 0 {
		return nil
	}
	body := content[idx+len(taggedStartMarker):]

	if end := strings.Index(body, taggedEndMarker1); end >= 0 {
		body = body[:end]
	} else if end := strings.Index(body, taggedEndMarker2); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimSpace(body)

	calls := extractTaggedCalls(body)
	if len(calls) > 0 {
		return calls
	}

	// Bracket-strip retry: some fine-tunes wrap the array in an extra layer
	// of brackets the parser doesn't expect; strip every leading and trailing
	// bracket and retry on the bare object.
	stripped := strings.TrimSpace(strings.Trim(body, "[]"))
	return extractTaggedCalls(stripped)
}

func extractTaggedCalls(body string) []ParsedToolCall {
	v := ParseJSONLenient(body)
	if v == nil {
		return nil
	}
	v = UnwrapJSONStructure(v)

	var calls []ParsedToolCall
	for _, entry := range asEntries(v) {
		name, ok := ExtractToolNameFromJSON(entry)
		if !ok {
			continue
		}
		server, tool := ParseCombinedToolName(name)
		calls = append(calls, ParsedToolCall{
			Server:    server,
			Tool:      tool,
			Arguments: ExtractToolArgumentsFromJSON(entry),
		})
	}
	return calls
}
