package statemachine

// MaxToolCallCount is the hard cap on tool_call_count within a single turn;
// beyond it the loop terminates with TurnComplete regardless of what the
// agentic state would otherwise permit.
const MaxToolCallCount = 10

// MidTurnKind discriminates the transient per-iteration Tier 3 state.
type MidTurnKind int

const (
	MidAwaitingModel MidTurnKind = iota
	MidProcessing
	MidTurnComplete
	MidError
)

// MidTurnState is Tier 3: transient, reset at the start of every user turn.
type MidTurnState struct {
	Kind           MidTurnKind
	Tool           string // MidProcessing
	Recoverable    bool   // MidError
	ToolCallCount  int
}

// NewMidTurnState resets to the turn-start state.
func NewMidTurnState() MidTurnState {
	return MidTurnState{Kind: MidAwaitingModel}
}

// EnterProcessing records that the loop is now dispatching a tool call,
// incrementing tool_call_count.
func (s MidTurnState) EnterProcessing(tool string) MidTurnState {
	s.Kind = MidProcessing
	s.Tool = tool
	s.ToolCallCount++
	return s
}

// Complete marks the turn finished.
func (s MidTurnState) Complete() MidTurnState {
	s.Kind = MidTurnComplete
	s.Tool = ""
	return s
}

// Fail marks the turn as ended in error, recoverable or not.
func (s MidTurnState) Fail(recoverable bool) MidTurnState {
	s.Kind = MidError
	s.Recoverable = recoverable
	return s
}

// AwaitModel returns to the awaiting-model state between tool rounds.
func (s MidTurnState) AwaitModel() MidTurnState {
	s.Kind = MidAwaitingModel
	s.Tool = ""
	return s
}

// ShouldContinue decides, from the current Tier 3 state, the Tier 2
// AgenticState the last event produced, and the last StateEvent itself,
// whether another model round is required. True for SqlResultCommentary,
// ToolsDiscovered, a PythonExecuted handoff that requested continuation,
// and McpToolCompleted; false for TurnComplete and unrecoverable errors.
// The hard tool-call-count bound overrides everything else.
func (s MidTurnState) ShouldContinue(agentic AgenticState, lastEvent StateEvent) bool {
	if s.ToolCallCount >= MaxToolCallCount {
		return false
	}
	switch s.Kind {
	case MidTurnComplete:
		return false
	case MidError:
		return s.Recoverable
	}

	if lastEvent.Kind == EventMCPToolCompleted {
		return true
	}

	switch agentic.Kind {
	case StateSQLResultCommentary, StateToolsDiscovered:
		return true
	case StateCodeExecutionHandoff:
		return lastEvent.NeedsContinuation
	default:
		return s.Kind == MidProcessing
	}
}
