package toolparse

// ParseGeminiToolCalls parses Gemini's functionCall JSON shape:
// {"functionCall": {"name": "...", "args": {...}}}, or a bare array of such
// objects. Ground truth for this format lives entirely behind the provider's
// native response decoding in most cases; this scanner exists for the
// text-based fallback path where a Gemini-family model emits the shape as
// plain text instead of a structured response field.
func ParseGeminiToolCalls(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, v := range FindJSONObjectsInContent(content) {
		obj, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		fc, ok := obj["functionCall"].(map[string]interface{})
		if !ok {
			fc = obj
		}
		name, ok := fc["name"].(string)
		if !ok || name == "" {
			continue
		}
		args := map[string]interface{}{}
		if a, ok := fc["args"].(map[string]interface{}); ok {
			args = a
		} else if a, ok := fc["arguments"].(map[string]interface{}); ok {
			args = a
		}
		server, tool := ParseCombinedToolName(name)
		calls = append(calls, ParsedToolCall{
			Server:    server,
			Tool:      tool,
			Arguments: args,
		})
	}
	if len(calls) > 0 {
		return calls
	}
	return hermesFallbackCascade(content)
}
