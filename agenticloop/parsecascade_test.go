package agenticloop

import (
	"testing"

	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
)

func TestParseModelResponsePrefersStructuredNativeCalls(t *testing.T) {
	resp := chatproto.ChatResponse{
		Content:   "ignored",
		ToolCalls: []chatproto.ToolCall{{Tool: "lookup", Arguments: []byte(`{}`)}},
	}
	calls := ParseModelResponse(resp, capability.ResolvedToolCapabilities{UseNativeTools: true})
	if len(calls) != 1 || calls[0].Tool != "lookup" {
		t.Fatalf("expected the structured native call to win outright, got %+v", calls)
	}
}

func TestParseModelResponseHermesPrimary(t *testing.T) {
	resp := chatproto.ChatResponse{Content: `<tool_call>{"name": "files___read", "arguments": {"path": "a.txt"}}</tool_call>`}
	caps := capability.ResolvedToolCapabilities{
		PrimaryFormat:  chatproto.FormatHermes,
		EnabledFormats: []chatproto.ToolCallFormatName{chatproto.FormatHermes},
	}
	calls := ParseModelResponse(resp, caps)
	if len(calls) != 1 || calls[0].Server != "files" || calls[0].Tool != "read" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestParseModelResponseFallsThroughEnabledFormats(t *testing.T) {
	resp := chatproto.ChatResponse{Content: `[TOOL_CALLS][{"name": "search", "arguments": {"q": "go"}}]`}
	caps := capability.ResolvedToolCapabilities{
		PrimaryFormat:  chatproto.FormatPureJSON,
		EnabledFormats: []chatproto.ToolCallFormatName{chatproto.FormatPureJSON, chatproto.FormatMistral},
	}
	calls := ParseModelResponse(resp, caps)
	if len(calls) != 1 || calls[0].Tool != "search" {
		t.Fatalf("expected the Mistral fallback format to catch this, got %+v", calls)
	}
}

func TestParseModelResponseNoCallsOnPlainProse(t *testing.T) {
	resp := chatproto.ChatResponse{Content: "Sure, here's the answer you asked for."}
	caps := capability.ResolvedToolCapabilities{
		PrimaryFormat:  chatproto.FormatHermes,
		EnabledFormats: []chatproto.ToolCallFormatName{chatproto.FormatHermes},
	}
	if calls := ParseModelResponse(resp, caps); len(calls) != 0 {
		t.Fatalf("expected no calls on plain prose, got %+v", calls)
	}
}

func TestParseModelResponseEmptyContentShortCircuits(t *testing.T) {
	caps := capability.ResolvedToolCapabilities{UseNativeTools: true}
	if calls := ParseModelResponse(chatproto.ChatResponse{}, caps); calls != nil {
		t.Fatalf("expected nil for an entirely empty response, got %+v", calls)
	}
}
