package toolparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// braintrustCallRe matches <function=name>{json}</function>. The tool name
// comes from the tag itself, not from the JSON body — as with Harmony and
// unlike the other formats in this package, the body is expected to be exactly the arguments
// object, so it's parsed directly with no lenient-repair chain: a
// well-formed fine-tune emitting this format doesn't need it, and applying
// repairs here risks mangling valid JSON that happens to contain braces in
// string values.
var braintrustCallRe = regexp.MustCompile(`(?is)<\s*function\s*=\s*([A-Za-z0-9_.]+)\s*>(.*?)<\s*/\s*function\s*>`)

// ParseBraintrustToolCalls parses the <function=name>{...}</function>
// convention.
func ParseBraintrustToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, m := range braintrustCallRe.FindAllStringSubmatch(content, -1) {
		name := strings.TrimSpace(m[1])
		body := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}

		args := map[string]interface{}{}
		if body != "" {
			var decoded map[string]interface{}
			if json.Unmarshal([]byte(body), &decoded) == nil {
				args = decoded
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
	return calls
}
