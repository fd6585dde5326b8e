package agenticloop

import (
	"context"
	"testing"

	oasis "github.com/nevindra/chatrt"
	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/dispatch"
	"github.com/nevindra/chatrt/statemachine"
)

// fakeInference replays a canned sequence of responses, one per round, so a
// test can script exactly how many rounds the loop should take without a
// real model.
type fakeInference struct {
	responses []oasis.ChatResponse
	round     int
}

func (f *fakeInference) next() oasis.ChatResponse {
	if f.round >= len(f.responses) {
		return oasis.ChatResponse{Content: "done"}
	}
	r := f.responses[f.round]
	f.round++
	return r
}

func (f *fakeInference) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	return f.next(), nil
}

func (f *fakeInference) ChatWithTools(ctx context.Context, req oasis.ChatRequest, tools []oasis.ToolDefinition) (oasis.ChatResponse, error) {
	return f.next(), nil
}

func (f *fakeInference) Stream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	return f.next(), nil
}

// toolCallDispatcher answers every dispatch with a fixed envelope and an
// McpToolCompleted event, which ShouldContinue always answers with "one more
// round" until the tool-call cap is reached.
type toolCallDispatcher struct{}

func (toolCallDispatcher) Dispatch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, caller, schemaContext string) dispatch.Outcome {
	return dispatch.Outcome{Envelope: "ok", Event: statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted}}
}

func baseConfig(inf Inference, disp ToolDispatcher) Config {
	return Config{
		Inference:  inf,
		Dispatcher: disp,
		Model:      "local",
		Caller:     "agent",
		Mode:       statemachine.ModeTools,
		PromptCtx:  statemachine.PromptContext{BasePrompt: "you are an assistant"},
		Thresholds: statemachine.DefaultRelevancyThresholds(),
		ResolveTemplate: capability.ResolveInput{
			ModelSupportsNative: true,
			ModelToolFormat:     chatproto.ToolFormatOpenAI,
			FormatConfig:        chatproto.ToolCallFormatConfig{Enabled: []chatproto.ToolCallFormatName{chatproto.FormatNative}, Primary: chatproto.FormatNative},
		},
	}
}

func TestRunTurnFinishesImmediatelyWithNoToolCalls(t *testing.T) {
	inf := &fakeInference{responses: []oasis.ChatResponse{{Content: "hello there"}}}
	cfg := baseConfig(inf, toolCallDispatcher{})

	result, err := RunTurn(context.Background(), cfg, TurnInput{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalContent != "hello there" {
		t.Fatalf("unexpected final content: %q", result.FinalContent)
	}
	if result.ToolCallCount != 0 {
		t.Fatalf("expected no tool calls, got %d", result.ToolCallCount)
	}
}

func TestRunTurnDispatchesAndTerminatesOnSecondRound(t *testing.T) {
	inf := &fakeInference{responses: []oasis.ChatResponse{
		{ToolCalls: []oasis.ToolCall{{Name: "builtin___lookup", Args: []byte(`{}`)}}},
		{Content: "final answer"},
	}}
	cfg := baseConfig(inf, toolCallDispatcher{})

	result, err := RunTurn(context.Background(), cfg, TurnInput{Prompt: "look something up"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalContent != "final answer" {
		t.Fatalf("unexpected final content: %q", result.FinalContent)
	}
	if result.ToolCallCount != 1 {
		t.Fatalf("expected exactly one dispatched tool call, got %d", result.ToolCallCount)
	}
}

func TestRunTurnStopsAtHardRoundCap(t *testing.T) {
	// Every round asks for another tool call; the hard MaxToolCallCount cap
	// must still terminate the loop rather than spin forever.
	inf := &stubInfiniteToolCaller{}
	cfg := baseConfig(inf, toolCallDispatcher{})

	result, err := RunTurn(context.Background(), cfg, TurnInput{Prompt: "keep going forever"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ToolCallCount != statemachine.MaxToolCallCount {
		t.Fatalf("expected the loop capped at %d tool calls, got %d", statemachine.MaxToolCallCount, result.ToolCallCount)
	}
}

type stubInfiniteToolCaller struct{}

func (stubInfiniteToolCaller) Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error) {
	return oasis.ChatResponse{ToolCalls: []oasis.ToolCall{{Name: "builtin___lookup", Args: []byte(`{}`)}}}, nil
}

func (s stubInfiniteToolCaller) ChatWithTools(ctx context.Context, req oasis.ChatRequest, tools []oasis.ToolDefinition) (oasis.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func (s stubInfiniteToolCaller) Stream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error) {
	return s.Chat(ctx, req)
}
