package toolparse

import (
	"regexp"
	"strings"
)

// harmonyCallRe matches the OpenAI Harmony response format's function-call
// envelope:
//
//	<|start|>assistant<|channel|>commentary to=functions.NAME <|constrain|>json<|message|>{...}<|call|>
//
// to= may also carry a server-qualified name (functions.server___tool).
var harmonyCallRe = regexp.MustCompile(`(?is)to=(?:functions\.)?([A-Za-z0-9_.]+).*?<\|message\|>(.*?)(?:<\|call\|>|<\|end\|>|$)`)

// ParseHarmonyToolCalls parses the Harmony to=functions.NAME<|message|>{json}
// envelope emitted by gpt-oss-family models.
func ParseHarmonyToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range harmonyCallRe.FindAllStringSubmatch(content, -1) {
		name := strings.TrimSpace(m[1])
		body := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}
		args := map[string]interface{}{}
		if body != "" {
			if v := ParseJSONLenient(body); v != nil {
				args = ExtractToolArgumentsFromJSONOrSelf(v)
			}
		}
		server, tool := ParseCombinedToolName(name)
		calls = append(calls, ParsedToolCall{
			Server:    server,
			Tool:      tool,
			Arguments: args,
			Raw:       m[0],
		})
	}
	if len(calls) > 0 {
		return calls
	}
	return hermesFallbackCascade(content)
}
