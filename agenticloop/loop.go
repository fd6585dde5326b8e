package agenticloop

import (
	"context"
	"fmt"
	"sync"

	oasis "github.com/nevindra/chatrt"
	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/dispatch"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolregistry"
)

// maxParallelDispatch caps the number of concurrent tool-call goroutines one
// round fans out to, mirroring the teacher's dispatchParallel constant.
const maxParallelDispatch = 10

// Inference is the subset of actormesh.InferenceActor one turn needs. Kept
// as a narrow local interface (rather than importing actormesh directly) so
// tests can drive the loop against a fake without standing up a real
// mailbox-backed actor.
type Inference interface {
	Chat(ctx context.Context, req oasis.ChatRequest) (oasis.ChatResponse, error)
	ChatWithTools(ctx context.Context, req oasis.ChatRequest, tools []oasis.ToolDefinition) (oasis.ChatResponse, error)
	Stream(ctx context.Context, req oasis.ChatRequest, ch chan<- oasis.StreamEvent) (oasis.ChatResponse, error)
}

// ToolDispatcher is the subset of dispatch.Dispatcher one turn needs.
// *dispatch.Dispatcher satisfies this with no adapter required.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, caller string, schemaContext string) dispatch.Outcome
}

// Config is everything a turn needs that doesn't change within the turn
// itself (wired once, at startup, by cmd/chatrt).
type Config struct {
	Inference  Inference
	Dispatcher ToolDispatcher
	Registry   *toolregistry.ToolRegistry

	Model  string
	Caller string

	Mode       statemachine.OperationalMode
	PromptCtx  statemachine.PromptContext
	Thresholds statemachine.RelevancyThresholds

	// ResolveTemplate is the ResolveInput the caller has already filled in
	// with settings/MCP-server/filter state; only Registry is refreshed
	// per-turn (materialization is monotonic across the turn's rounds).
	ResolveTemplate capability.ResolveInput

	// SchemaContext is passed through to dispatch for the enhanced
	// sql_select error-recovery guidance.
	SchemaContext string
}

// TurnInput is the one user-facing request a turn processes.
type TurnInput struct {
	Prompt  string
	History []chatproto.ChatMessage
}

// TurnResult is everything the caller needs once a turn settles: the final
// assistant-visible text, the full event history (for persistence /
// Tier 2 replay elsewhere), and the updated message log to carry into the
// next turn.
type TurnResult struct {
	FinalContent string
	Usage        chatproto.Usage
	Messages     []chatproto.ChatMessage
	Events       []statemachine.StateEvent
	ToolCallCount int
}

// RunTurn drives the full agentic loop for one user turn: auto-discovery,
// then repeated rounds of (build prompt, call model, parse, dispatch,
// fold state, decide whether to continue) until the model stops asking for
// tools, the hard round cap is hit, or ctx is cancelled. ch receives
// streaming text/tool events for a live UI; pass nil to run non-streaming.
//
// Grounded in the teacher's runLoop (loop.go), generalized from its single
// builtin/MCP split into the four-builtin Tool Capability Resolver driven
// cascade, and its dispatchParallel worker-pool shape reused verbatim for
// fan-out dispatch.
func RunTurn(ctx context.Context, cfg Config, input TurnInput, ch chan<- oasis.StreamEvent) (TurnResult, error) {
	mid := statemachine.NewMidTurnState()
	agentic := statemachine.NewAgenticMachine(cfg.Mode, cfg.PromptCtx, cfg.Thresholds)
	detector := NewRepetitionDetector()

	messages := append(append([]chatproto.ChatMessage{}, input.History...), chatproto.UserMessage(input.Prompt))
	var events []statemachine.StateEvent
	var lastEvent statemachine.StateEvent
	var lastUsage chatproto.Usage

	resolveInput := resolveInputWithRegistry(cfg.ResolveTemplate, cfg.Registry)
	caps := capability.Resolve(resolveInput)

	if discovery := autoDiscover(ctx, cfg.Dispatcher, caps, cfg.Caller, input.Prompt); len(discovery.Events) > 0 {
		for _, evt := range discovery.Events {
			agentic.Apply(evt)
			events = append(events, evt)
			lastEvent = evt
		}
		if discovery.ToolSearchEnvelope != "" {
			messages = append(messages, chatproto.ToolResultMessage("", "tool_search", discovery.ToolSearchEnvelope))
		}
		if discovery.SchemaSearchEnvelope != "" {
			messages = append(messages, chatproto.ToolResultMessage("", "schema_search", discovery.SchemaSearchEnvelope))
		}
		if discovery.RagSearchEnvelope != "" {
			messages = append(messages, chatproto.ToolResultMessage("", "rag_search", discovery.RagSearchEnvelope))
		}
		// Re-resolve: auto-discovery may have materialized deferred tools.
		caps = capability.Resolve(resolveInputWithRegistry(cfg.ResolveTemplate, cfg.Registry))
	}

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return TurnResult{}, err
		}

		toolDefs, manifest := buildToolManifest(caps)
		systemPrompt := agentic.BuildSystemPrompt()
		if manifest != "" {
			systemPrompt += "\n\n" + manifest
		}
		promptMessages := append([]chatproto.ChatMessage{chatproto.SystemMessage(systemPrompt)}, messages...)

		resp, err := runModelRound(ctx, cfg, caps, promptMessages, toolDefs, ch, detector)
		if err != nil {
			return TurnResult{Messages: messages, Events: events}, err
		}
		lastUsage = resp.Usage

		calls := ParseModelResponse(resp, caps)
		messages = append(messages, chatproto.AssistantMessage(resp.Content, calls))

		if len(calls) == 0 {
			mid = mid.Complete()
			break
		}

		outcomes := dispatchCalls(ctx, cfg.Dispatcher, calls, caps, cfg.Caller, cfg.SchemaContext)
		for i, out := range outcomes {
			mid = mid.EnterProcessing(calls[i].Tool)
			agentic.Apply(out.Event)
			events = append(events, out.Event)
			lastEvent = out.Event
			messages = append(messages, chatproto.ToolResultMessage(calls[i].ID, calls[i].CombinedName(), out.Envelope))
		}
		mid = mid.AwaitModel()

		// Re-resolve after dispatch: tool_search/schema_search may have
		// materialized new tools the next round's manifest should show.
		caps = capability.Resolve(resolveInputWithRegistry(cfg.ResolveTemplate, cfg.Registry))

		if !mid.ShouldContinue(agentic.Current(), lastEvent) {
			mid = mid.Complete()
			break
		}
	}

	return TurnResult{
		FinalContent:  lastAssistantContent(messages),
		Usage:         lastUsage,
		Messages:      messages,
		Events:        events,
		ToolCallCount: mid.ToolCallCount,
	}, nil
}

func lastAssistantContent(messages []chatproto.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatproto.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

// runModelRound picks native vs. text-based vs. streamed calling convention
// and returns the round's ChatResponse in chatproto terms.
func runModelRound(ctx context.Context, cfg Config, caps capability.ResolvedToolCapabilities, messages []chatproto.ChatMessage, toolDefs []chatproto.ToolDefinition, ch chan<- oasis.StreamEvent, detector *RepetitionDetector) (chatproto.ChatResponse, error) {
	req := toOasisRequest(chatproto.ChatRequest{Model: cfg.Model, Messages: messages})

	if caps.UseNativeTools {
		resp, err := cfg.Inference.ChatWithTools(ctx, req, toOasisTools(toolDefs))
		if err != nil {
			return chatproto.ChatResponse{}, err
		}
		return fromOasisResponse(resp), nil
	}

	if ch == nil {
		resp, err := cfg.Inference.Chat(ctx, req)
		if err != nil {
			return chatproto.ChatResponse{}, err
		}
		return fromOasisResponse(resp), nil
	}

	return streamModelRound(ctx, cfg, req, ch, detector)
}

// streamModelRound forwards every event from the provider's stream to ch
// while feeding text deltas into detector; a detected repetition loop
// cancels the round's own sub-context so the provider stops generating
// instead of running out its full token budget.
func streamModelRound(ctx context.Context, cfg Config, req oasis.ChatRequest, ch chan<- oasis.StreamEvent, detector *RepetitionDetector) (chatproto.ChatResponse, error) {
	detector.Reset()
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	internal := make(chan oasis.StreamEvent)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for evt := range internal {
			if evt.Type == oasis.EventTextDelta {
				detector.Push(evt.Content)
				if found, _ := detector.DetectLoop(); found {
					cancel()
				}
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
			}
		}
	}()

	resp, err := cfg.Inference.Stream(roundCtx, req, internal)
	close(internal)
	wg.Wait()

	if err != nil && roundCtx.Err() != nil && ctx.Err() == nil {
		// Cancelled by the repetition detector, not the caller: treat
		// whatever content streamed so far as the round's final answer.
		return fromOasisResponse(resp), nil
	}
	if err != nil {
		return chatproto.ChatResponse{}, err
	}
	return fromOasisResponse(resp), nil
}

type indexedOutcome struct {
	idx int
	out dispatch.Outcome
}

// dispatchCalls runs every parsed tool call concurrently through the
// dispatcher, capped at maxParallelDispatch workers, and returns results in
// the same order as calls — the same worker-pool shape as the teacher's
// dispatchParallel, generalized from its single DispatchFunc to the
// dispatcher's richer (format, caller, schemaContext) signature.
func dispatchCalls(ctx context.Context, d ToolDispatcher, calls []chatproto.ToolCall, caps capability.ResolvedToolCapabilities, caller, schemaContext string) []dispatch.Outcome {
	format := formatForBuiltin(caps)
	if len(calls) == 1 {
		return []dispatch.Outcome{safeDispatchOne(ctx, d, calls[0], format, caller, schemaContext)}
	}

	workCh := make(chan int, len(calls))
	for i := range calls {
		workCh <- i
	}
	close(workCh)

	resultCh := make(chan indexedOutcome, len(calls))
	numWorkers := len(calls)
	if numWorkers > maxParallelDispatch {
		numWorkers = maxParallelDispatch
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range workCh {
				resultCh <- indexedOutcome{idx, safeDispatchOne(ctx, d, calls[idx], format, caller, schemaContext)}
			}
		}()
	}
	go func() { wg.Wait(); close(resultCh) }()

	results := make([]dispatch.Outcome, len(calls))
	seen := make([]bool, len(calls))
	for r := range resultCh {
		results[r.idx] = r.out
		seen[r.idx] = true
	}
	for i := range results {
		if !seen[i] {
			results[i] = dispatch.Outcome{Envelope: "error: result not received", Event: statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted}}
		}
	}
	return results
}

func safeDispatchOne(ctx context.Context, d ToolDispatcher, call chatproto.ToolCall, format chatproto.ToolFormat, caller, schemaContext string) (out dispatch.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = dispatch.Outcome{
				Envelope: fmt.Sprintf("error: tool %q panicked: %v", call.Tool, p),
				Event:    statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted},
			}
		}
	}()
	if ctx.Err() != nil {
		return dispatch.Outcome{Envelope: "error: " + ctx.Err().Error(), Event: statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted}}
	}
	return d.Dispatch(ctx, call, format, caller, schemaContext)
}

