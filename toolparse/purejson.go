package toolparse

// ParsePureJSONToolCalls handles models configured for the PureJSON
// tool-call format: the entire assistant message is expected to be a single
// JSON object or array of tool-call objects, with no surrounding prose or
// fencing. Falls back to scanning embedded JSON objects (and from there the
// shared cascade) when the whole-message parse doesn't come back as a
// tool call shape, since a model occasionally wraps the JSON in a sentence
// anyway.
func ParsePureJSONToolCalls(content string) []ParsedToolCall {
	if v := ParseJSONLenient(content); v != nil {
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
		if len(calls) > 0 {
			return calls
		}
	}
	return hermesFallbackCascade(content)
}
