package statemachine

// RelevancyThresholds holds the three documented-default float cutoffs used
// by Tier 2 transitions. All comparisons against a threshold are strict
// >=.
type RelevancyThresholds struct {
	Chunk       float64
	Schema      float64
	RagDominant float64
}

// DefaultRelevancyThresholds returns the spec's documented defaults.
func DefaultRelevancyThresholds() RelevancyThresholds {
	return RelevancyThresholds{Chunk: 0.3, Schema: 0.4, RagDominant: 0.6}
}

// AgenticKind discriminates the tagged AgenticState union. The discriminant
// is the contract — AgenticState is never modeled as a type hierarchy.
type AgenticKind int

const (
	StateConversational AgenticKind = iota
	StateRagRetrieval
	StateSQLRetrieval
	StateToolOrchestration
	StateCodeExecution
	StateHybrid

	// Mid-turn-only states: these never appear before the first model call
	// of a turn, only after an observed StateEvent.
	StateRagContextInjected
	StateSchemaContextInjected
	StateSQLResultCommentary
	StateCodeExecutionHandoff
	StateToolsDiscovered
)

func (k AgenticKind) midTurnOnly() bool {
	return k >= StateRagContextInjected
}

// AgenticState is the Tier 2 tagged union. Only the fields relevant to Kind
// are meaningful; the zero value of the rest is ignored.
type AgenticState struct {
	Kind AgenticKind

	// RagContextInjected
	Chunks       int
	MaxRelevancy float64

	// SchemaContextInjected
	Tables    []string
	SQLEnabled bool

	// SQLResultCommentary
	RowCount    int
	QueryContext string

	// CodeExecutionHandoff
	Stdout string
	Stderr string

	// ToolsDiscovered
	NewlyMaterialized []string
}

// PromptContext is everything Tier 2 needs besides the Tier 1 mode and the
// event stream to build the system prompt text.
type PromptContext struct {
	BasePrompt      string
	Attachments     []string
	MCPContext      string
	ToolCallFormat  string
	ModelToolFormat string
	CustomPrompt    string
	PythonPrimary   bool
}

// StateEventKind discriminates a Tier 2 transition trigger.
type StateEventKind int

const (
	EventSchemaSearched StateEventKind = iota
	EventPythonExecuted
	EventRagSearched
	EventSQLExecuted
	EventMCPToolCompleted
	EventToolsMaterialized
)

// StateEvent is one observed trigger driving a Tier 2 transition.
type StateEvent struct {
	Kind StateEventKind

	MaxRelevancy      float64 // EventSchemaSearched, EventRagSearched
	Tables            []string
	Stdout            string // EventPythonExecuted
	Stderr            string
	NeedsContinuation bool
	RowCount          int
	QueryContext      string
	NewlyMaterialized []string // EventToolsMaterialized
}

// AgenticMachine is Tier 2: it takes the Tier 1 mode once, then folds a
// stream of StateEvents deterministically. Rebuilding one from scratch and
// replaying the same event history must reproduce the same current state —
// that purity is the testable property spec §4.2 requires.
type AgenticMachine struct {
	mode       OperationalMode
	ctx        PromptContext
	thresholds RelevancyThresholds
	current    AgenticState
	history    []StateEvent
}

// NewAgenticMachine starts in the turn-start state implied by mode.
func NewAgenticMachine(mode OperationalMode, ctx PromptContext, thresholds RelevancyThresholds) *AgenticMachine {
	m := &AgenticMachine{mode: mode, ctx: ctx, thresholds: thresholds}
	m.current = AgenticState{Kind: turnStartKindForMode(mode)}
	return m
}

func turnStartKindForMode(mode OperationalMode) AgenticKind {
	switch mode {
	case ModeRag:
		return StateRagRetrieval
	case ModeSQL:
		return StateSQLRetrieval
	case ModeTools:
		return StateToolOrchestration
	case ModeCode:
		return StateCodeExecution
	case ModeHybrid:
		return StateHybrid
	default:
		return StateConversational
	}
}

// Current returns the machine's present AgenticState.
func (m *AgenticMachine) Current() AgenticState {
	return m.current
}

// Apply folds one StateEvent into the machine, replacing Current() with the
// deterministic result of (mode, ctx, history+event).
func (m *AgenticMachine) Apply(evt StateEvent) AgenticState {
	m.history = append(m.history, evt)
	m.current = transition(m.mode, m.thresholds, m.current, evt)
	return m.current
}

// Replay rebuilds the machine's state purely from a mode, context,
// thresholds, and a recorded event history — the mechanism that makes
// Tier 2 replay-reproducible and therefore testable in isolation.
func Replay(mode OperationalMode, ctx PromptContext, thresholds RelevancyThresholds, history []StateEvent) AgenticState {
	m := NewAgenticMachine(mode, ctx, thresholds)
	for _, evt := range history {
		m.Apply(evt)
	}
	return m.current
}

// transition is the total, deterministic Tier 2 step function.
func transition(mode OperationalMode, th RelevancyThresholds, current AgenticState, evt StateEvent) AgenticState {
	switch evt.Kind {
	case EventSchemaSearched:
		// A SchemaSearched event moves a SqlRetrieval state into
		// SchemaContextInjected, with sql_enabled gated on the schema
		// threshold.
		return AgenticState{
			Kind:       StateSchemaContextInjected,
			Tables:     evt.Tables,
			SQLEnabled: evt.MaxRelevancy >= th.Schema,
		}

	case EventPythonExecuted:
		// CodeExecutionHandoff iff stderr is non-empty; a clean run with no
		// stderr returns to the turn-start code-execution state instead of a
		// distinct handoff.
		if evt.Stderr != "" {
			return AgenticState{Kind: StateCodeExecutionHandoff, Stdout: evt.Stdout, Stderr: evt.Stderr}
		}
		return AgenticState{Kind: StateCodeExecution, Stdout: evt.Stdout}

	case EventRagSearched:
		return AgenticState{
			Kind:         StateRagContextInjected,
			Chunks:       len(evt.Tables), // chunk identifiers travel in Tables for this event kind
			MaxRelevancy: evt.MaxRelevancy,
		}

	case EventSQLExecuted:
		return AgenticState{
			Kind:         StateSQLResultCommentary,
			RowCount:     evt.RowCount,
			QueryContext: evt.QueryContext,
		}

	case EventMCPToolCompleted:
		return current // MCP completion drives Tier 3's should_continue, not a Tier 2 state change

	case EventToolsMaterialized:
		return AgenticState{Kind: StateToolsDiscovered, NewlyMaterialized: evt.NewlyMaterialized}

	default:
		return current
	}
}

// BuildSystemPrompt renders the prompt text from the PromptContext: the base
// prompt, then the custom prompt and the MCP context when set, separated by
// blank lines. The text does not depend on the current AgenticState.
func (m *AgenticMachine) BuildSystemPrompt() string {
	prompt := m.ctx.BasePrompt
	if m.ctx.CustomPrompt != "" {
		prompt += "\n\n" + m.ctx.CustomPrompt
	}
	if m.ctx.MCPContext != "" {
		prompt += "\n\n" + m.ctx.MCPContext
	}
	return prompt
}
