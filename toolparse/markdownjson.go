package toolparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// jsonFenceRe matches a generic ```json ... ``` fenced block.
var jsonFenceRe = regexp.MustCompile("(?is)```\\s*json\\s*\\n(.*?)```")

const maxMarkdownJSONToolNameLen = 100

// ParseMarkdownJSONToolCalls parses JSON embedded in a plain ```json fence.
// Deliberately does not run the candidate through RepairMalformedJSON first:
// a fenced JSON block from a well-behaved model is usually already valid,
// and the repair pass's newline-escaping step would corrupt a value that
// legitimately contains embedded newlines (e.g. multi-line code in an
// argument). A cheap substring pre-filter on "name"/"tool_name" avoids
// wasting a parse attempt on fenced JSON that was never a tool call.
func ParseMarkdownJSONToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range jsonFenceRe.FindAllStringSubmatch(content, -1) {
		body := m[1]
		if !strings.Contains(body, "name") && !strings.Contains(body, "tool_name") {
			continue
		}

		var decoded interface{}
		if json.Unmarshal([]byte(body), &decoded) != nil {
			continue
		}
		v := UnwrapJSONStructure(decoded)

		for _, entry := range asEntries(v) {
			name, ok := ExtractToolNameFromJSON(entry)
			if !ok || len(name) > maxMarkdownJSONToolNameLen || strings.Contains(name, "\n") {
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
	return calls
}
