package toolparse

import (
	"regexp"
	"strings"
)

// hermesTagRe matches <tool_call>...</tool_call>, case-insensitively and
// tolerant of an unclosed tag (the model cut off mid-generation) or a
// near-miss spelling (some fine-tunes emit <tool-call> or <toolcall>).
var hermesTagRe = regexp.MustCompile(`(?is)<\s*tool[_\-]?call\s*>(.*?)(?:<\s*/\s*tool[_\-]?call\s*>|$)`)

// ParseHermesToolCalls parses the <tool_call>{json}</tool_call> format used
// by Phi/Qwen-family models. If no Hermes tags are found, it runs the full
// fallback cascade shared by every other text-based parser in this package.
func ParseHermesToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall

	for _, m := range hermesTagRe.FindAllStringSubmatch(content, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			continue
		}
		v := ParseJSONLenient(inner)
		if v == nil {
			continue
		}
		v = UnwrapJSONStructure(v)

		entries := asEntries(v)
		for _, entry := range entries {
			name, ok := ExtractToolNameFromJSON(entry)
			if !ok {
				continue
			}
			args := ExtractToolArgumentsFromJSON(entry)
			server, tool := ParseCombinedToolName(name)
			calls = append(calls, ParsedToolCall{
				Server:    server,
				Tool:      tool,
				Arguments: args,
				Raw:       m[0],
			})
		}
	}

	if len(calls) > 0 {
		return calls
	}

	return hermesFallbackCascade(content)
}

// asEntries normalizes a decoded JSON value into a slice of candidate
// tool-call objects: an array is iterated, anything else is treated as one.
func asEntries(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

// hermesFallbackCascade is the universal catch-all other format parsers
// delegate to: tagged -> braintrust -> markdown-json -> pythonic-code-block
// -> pythonic -> raw JSON object scan -> loose regex extraction.
func hermesFallbackCascade(content string) []ParsedToolCall {
	if calls := ParseTaggedToolCalls(content); len(calls) > 0 {
		return calls
	}
	if calls := ParseBraintrustToolCalls(content); len(calls) > 0 {
		return calls
	}
	if calls := ParseMarkdownJSONToolCalls(content); len(calls) > 0 {
		return calls
	}
	if calls := parsePythonicCodeBlockToolCalls(content); len(calls) > 0 {
		return calls
	}
	if calls := ParsePythonicToolCalls(content); len(calls) > 0 {
		return calls
	}
	if calls := scanJSONObjectsForToolCalls(content); len(calls) > 0 {
		return calls
	}
	if call, ok := ExtractToolCallByRegex(content); ok {
		return []ParsedToolCall{call}
	}
	return nil
}

func scanJSONObjectsForToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, v := range FindJSONObjectsInContent(content) {
		v = UnwrapJSONStructure(v)
		name, ok := ExtractToolNameFromJSON(v)
		if !ok {
			continue
		}
		server, tool := ParseCombinedToolName(name)
		calls = append(calls, ParsedToolCall{
			Server:    server,
			Tool:      tool,
			Arguments: ExtractToolArgumentsFromJSON(v),
		})
	}
	return calls
}
