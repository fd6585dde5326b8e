package agenticloop

import (
	"context"
	"testing"

	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/dispatch"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolregistry"
)

// fakeDispatcher records every call it's given and returns a canned
// envelope, standing in for dispatch.Dispatcher in tests that shouldn't
// have to stand up a real Python/MCP/DB backend.
type fakeDispatcher struct {
	calls []chatproto.ToolCall
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, caller, schemaContext string) dispatch.Outcome {
	f.calls = append(f.calls, call)
	switch call.Tool {
	case capability.BuiltinToolSearch:
		return dispatch.Outcome{Envelope: "found: files___read", Event: statemachine.StateEvent{Kind: statemachine.EventToolsMaterialized, NewlyMaterialized: []string{"read"}}}
	case capability.BuiltinSchemaSearch:
		return dispatch.Outcome{Envelope: "table users: id, name", Event: statemachine.StateEvent{Kind: statemachine.EventSchemaSearched, MaxRelevancy: 0.8, Tables: []string{"users"}}}
	case capability.BuiltinRagSearch:
		return dispatch.Outcome{Envelope: "[chunk-1] relevant passage", Event: statemachine.StateEvent{Kind: statemachine.EventRagSearched, MaxRelevancy: 0.9, Tables: []string{"chunk-1"}}}
	default:
		return dispatch.Outcome{Envelope: "error: unexpected builtin", Event: statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted}}
	}
}

func TestAutoDiscoverSkipsOnEmptyPrompt(t *testing.T) {
	d := &fakeDispatcher{}
	result := autoDiscover(context.Background(), d, capability.ResolvedToolCapabilities{
		AvailableBuiltins: map[string]bool{capability.BuiltinToolSearch: true},
	}, "caller", "   ")
	if len(d.calls) != 0 || len(result.Events) != 0 {
		t.Fatalf("expected no dispatch calls for a blank prompt, got %+v", d.calls)
	}
}

func TestAutoDiscoverSkipsToolSearchWithNothingDeferred(t *testing.T) {
	d := &fakeDispatcher{}
	caps := capability.ResolvedToolCapabilities{
		AvailableBuiltins: map[string]bool{capability.BuiltinToolSearch: true},
		DeferredMCPTools:  nil,
	}
	autoDiscover(context.Background(), d, caps, "caller", "find me a tool")
	if len(d.calls) != 0 {
		t.Fatalf("expected tool_search skipped when nothing is deferred, got %+v", d.calls)
	}
}

func TestAutoDiscoverRunsBothPassesAndFoldsEvents(t *testing.T) {
	d := &fakeDispatcher{}
	caps := capability.ResolvedToolCapabilities{
		AvailableBuiltins: map[string]bool{
			capability.BuiltinToolSearch:   true,
			capability.BuiltinSchemaSearch: true,
		},
		DeferredMCPTools: []capability.ActiveMCPTool{
			{ServerID: "files", Schema: toolregistry.ToolSchema{Name: "read"}},
		},
	}
	result := autoDiscover(context.Background(), d, caps, "caller", "how many users signed up last week?")

	if len(d.calls) != 2 {
		t.Fatalf("expected both tool_search and schema_search to run, got %d calls", len(d.calls))
	}
	if result.ToolSearchEnvelope == "" || result.SchemaSearchEnvelope == "" {
		t.Fatalf("expected both envelopes populated, got %+v", result)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected two folded events, got %+v", result.Events)
	}
}

func TestAutoDiscoverRunsRagSearchUnconditionally(t *testing.T) {
	d := &fakeDispatcher{}
	caps := capability.ResolvedToolCapabilities{
		AvailableBuiltins: map[string]bool{capability.BuiltinRagSearch: true},
	}
	result := autoDiscover(context.Background(), d, caps, "caller", "what does the manual say about refunds?")

	if len(d.calls) != 1 || d.calls[0].Tool != capability.BuiltinRagSearch {
		t.Fatalf("expected exactly one rag_search dispatch, got %+v", d.calls)
	}
	if result.RagSearchEnvelope == "" {
		t.Fatalf("expected a populated rag search envelope, got %+v", result)
	}
}
