package toolparse

import (
	"regexp"
	"strings"
)

// graniteCallRe matches IBM Granite's <function_call>{json}</function_call>
// envelope (the call-side counterpart of the <function_response> result
// envelope used when formatting tool results for this format).
var graniteCallRe = regexp.MustCompile(`(?is)<\s*function[_\-]?call\s*>(.*?)(?:<\s*/\s*function[_\-]?call\s*>|$)`)

// ParseGraniteToolCalls parses the <function_call>{...}</function_call>
// format. Falls back to the shared cascade when no tags are present, since
// Granite-tuned models sometimes degrade to plain JSON or Hermes tags.
func ParseGraniteToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range graniteCallRe.FindAllStringSubmatch(content, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			continue
		}
		v := ParseJSONLenient(inner)
		if v == nil {
			continue
		}
		v = UnwrapJSONStructure(v)
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
				Raw:       m[0],
			})
		}
	}
	if len(calls) > 0 {
		return calls
	}
	return hermesFallbackCascade(content)
}
