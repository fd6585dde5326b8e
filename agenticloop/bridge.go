package agenticloop

import (
	"encoding/json"

	oasis "github.com/nevindra/chatrt"
	"github.com/nevindra/chatrt/chatproto"
)

// The loop speaks chatproto internally — the richer, tool-call-oriented
// shape toolparse/capability/dispatch all already speak — but every actual
// model round travels through actormesh.InferenceActor, which still wraps
// the original oasis wire types. These two functions are the one place that
// boundary crossing happens.

// toOasisRequest renders a chatproto.ChatRequest as the oasis.ChatRequest
// shape InferenceActor.Chat/Stream/ChatWithTools expect. oasis.ChatRequest
// carries no Tools/Temperature/MaxTokens fields of its own — Tools travel
// through the actor's separate ChatWithTools parameter instead, and
// Temperature/MaxTokens have no oasis-side home at all and are not carried
// over (loop.go's Config has no per-request temperature or token limit
// either).
func toOasisRequest(req chatproto.ChatRequest) oasis.ChatRequest {
	out := oasis.ChatRequest{Messages: make([]oasis.ChatMessage, len(req.Messages))}
	for i, m := range req.Messages {
		out.Messages[i] = toOasisMessage(m)
	}
	if req.Schema != nil {
		out.ResponseSchema = &oasis.ResponseSchema{Name: req.Schema.Name, Schema: req.Schema.Schema}
	}
	return out
}

func toOasisMessage(m chatproto.ChatMessage) oasis.ChatMessage {
	out := oasis.ChatMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, oasis.Attachment{MimeType: a.MimeType, Base64: string(a.Data)})
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, oasis.ToolCall{ID: tc.ID, Name: tc.CombinedName(), Args: ensureRawJSON(tc.Arguments)})
	}
	return out
}

func toOasisTools(defs []chatproto.ToolDefinition) []oasis.ToolDefinition {
	out := make([]oasis.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = oasis.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// fromOasisResponse converts a finished oasis.ChatResponse back into the
// chatproto shape the rest of the loop works in. Native tool calls (present
// when the provider honored ChatWithTools) carry no server prefix yet —
// ParseCombinedToolName's "unknown" sentinel convention applies here too,
// resolved later by the Dispatcher against the registry.
func fromOasisResponse(resp oasis.ChatResponse) chatproto.ChatResponse {
	out := chatproto.ChatResponse{
		Content: resp.Content,
		Usage:   chatproto.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	for _, tc := range resp.ToolCalls {
		server, tool := splitCombinedName(tc.Name)
		out.ToolCalls = append(out.ToolCalls, chatproto.ToolCall{
			ID:        tc.ID,
			Server:    server,
			Tool:      tool,
			Arguments: tc.Args,
		})
	}
	return out
}

func splitCombinedName(name string) (server, tool string) {
	for i := 0; i+2 < len(name); i++ {
		if name[i] == '_' && name[i+1] == '_' && name[i+2] == '_' {
			return name[:i], name[i+3:]
		}
	}
	return "unknown", name
}

// ensureRawJSON guards against a nil json.RawMessage reaching a provider
// that marshals arguments unconditionally — an empty object is a safe
// default for "no arguments", matching toolparse.ArgumentsJSON's own
// nil-to-{} normalization.
func ensureRawJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
