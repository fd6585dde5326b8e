package statemachine

import "testing"

func TestResolveSettingsConversationalByDefault(t *testing.T) {
	mode, enabled := ResolveSettings(Settings{}, LaunchFilter{})
	if mode != ModeConversational {
		t.Fatalf("expected conversational mode, got %v", mode)
	}
	if len(enabled) != 0 {
		t.Fatalf("expected no enabled builtins, got %v", enabled)
	}
}

func TestResolveSettingsRagMode(t *testing.T) {
	mode, enabled := ResolveSettings(Settings{RagEnabled: true}, LaunchFilter{})
	if mode != ModeRag {
		t.Fatalf("expected rag mode, got %v", mode)
	}
	if !enabled["rag_search"] {
		t.Fatal("expected rag_search enabled")
	}
}

func TestResolveSettingsLaunchFilterBlocks(t *testing.T) {
	filter := LaunchFilter{AllowedBuiltins: map[string]bool{"rag_search": false}}
	_, enabled := ResolveSettings(Settings{RagEnabled: true}, filter)
	if enabled["rag_search"] {
		t.Fatal("expected launch filter to block rag_search")
	}
}

func TestResolveSettingsHybrid(t *testing.T) {
	mode, _ := ResolveSettings(Settings{RagEnabled: true, PythonEnabled: true}, LaunchFilter{})
	if mode != ModeHybrid {
		t.Fatalf("expected hybrid mode for rag+python, got %v", mode)
	}
}

func TestResolveSettingsSQLRequiresDatabaseSources(t *testing.T) {
	mode, enabled := ResolveSettings(Settings{SQLEnabled: true, HasDatabaseSources: false}, LaunchFilter{})
	if mode != ModeConversational {
		t.Fatalf("expected conversational when no database sources present, got %v", mode)
	}
	if enabled["sql_select"] {
		t.Fatal("sql_select should not be enabled without database sources")
	}
}

func TestAgenticTransitionSchemaSearched(t *testing.T) {
	m := NewAgenticMachine(ModeSQL, PromptContext{}, DefaultRelevancyThresholds())
	state := m.Apply(StateEvent{Kind: EventSchemaSearched, MaxRelevancy: 0.5, Tables: []string{"orders"}})
	if state.Kind != StateSchemaContextInjected {
		t.Fatalf("expected SchemaContextInjected, got %v", state.Kind)
	}
	if !state.SQLEnabled {
		t.Fatal("expected sql_enabled true when relevancy >= threshold")
	}
}

func TestAgenticTransitionSchemaSearchedBelowThreshold(t *testing.T) {
	m := NewAgenticMachine(ModeSQL, PromptContext{}, DefaultRelevancyThresholds())
	state := m.Apply(StateEvent{Kind: EventSchemaSearched, MaxRelevancy: 0.1})
	if state.SQLEnabled {
		t.Fatal("expected sql_enabled false below threshold")
	}
}

func TestAgenticTransitionPythonExecutedWithStderr(t *testing.T) {
	m := NewAgenticMachine(ModeCode, PromptContext{}, DefaultRelevancyThresholds())
	state := m.Apply(StateEvent{Kind: EventPythonExecuted, Stdout: "1", Stderr: "traceback"})
	if state.Kind != StateCodeExecutionHandoff {
		t.Fatalf("expected CodeExecutionHandoff with nonempty stderr, got %v", state.Kind)
	}
}

func TestAgenticTransitionPythonExecutedNoStderr(t *testing.T) {
	m := NewAgenticMachine(ModeCode, PromptContext{}, DefaultRelevancyThresholds())
	state := m.Apply(StateEvent{Kind: EventPythonExecuted, Stdout: "1"})
	if state.Kind == StateCodeExecutionHandoff {
		t.Fatal("expected no handoff state with empty stderr")
	}
}

func TestReplayIsPureAndReproducible(t *testing.T) {
	history := []StateEvent{
		{Kind: EventSchemaSearched, MaxRelevancy: 0.9, Tables: []string{"a"}},
		{Kind: EventSQLExecuted, RowCount: 3, QueryContext: "select 1"},
	}
	a := Replay(ModeSQL, PromptContext{}, DefaultRelevancyThresholds(), history)
	b := Replay(ModeSQL, PromptContext{}, DefaultRelevancyThresholds(), history)
	if a.Kind != b.Kind || a.RowCount != b.RowCount || a.QueryContext != b.QueryContext {
		t.Fatalf("expected replay to be deterministic, got %+v vs %+v", a, b)
	}
	if a.Kind != StateSQLResultCommentary || a.RowCount != 3 {
		t.Fatalf("unexpected replayed state: %+v", a)
	}
}

func TestMidTurnHardCapStopsContinuation(t *testing.T) {
	s := NewMidTurnState()
	for i := 0; i < MaxToolCallCount; i++ {
		s = s.EnterProcessing("some_tool")
	}
	if s.ShouldContinue(AgenticState{Kind: StateToolsDiscovered}, StateEvent{}) {
		t.Fatal("expected hard cap to stop continuation regardless of state")
	}
}

func TestMidTurnShouldContinueCases(t *testing.T) {
	s := NewMidTurnState().EnterProcessing("x")

	if !s.ShouldContinue(AgenticState{Kind: StateSQLResultCommentary}, StateEvent{}) {
		t.Error("expected continue on SqlResultCommentary")
	}
	if !s.ShouldContinue(AgenticState{Kind: StateToolsDiscovered}, StateEvent{}) {
		t.Error("expected continue on ToolsDiscovered")
	}
	if !s.ShouldContinue(AgenticState{}, StateEvent{Kind: EventMCPToolCompleted}) {
		t.Error("expected continue on McpToolCompleted event")
	}
	if s.ShouldContinue(AgenticState{Kind: StateCodeExecutionHandoff}, StateEvent{NeedsContinuation: false}) {
		t.Error("expected no continue on code handoff without needs_continuation")
	}
	if !s.ShouldContinue(AgenticState{Kind: StateCodeExecutionHandoff}, StateEvent{NeedsContinuation: true}) {
		t.Error("expected continue on code handoff with needs_continuation")
	}
	if s.Complete().ShouldContinue(AgenticState{Kind: StateToolsDiscovered}, StateEvent{}) {
		t.Error("expected TurnComplete to never continue")
	}
	if s.Fail(false).ShouldContinue(AgenticState{}, StateEvent{}) {
		t.Error("expected unrecoverable error to never continue")
	}
	if !s.Fail(true).ShouldContinue(AgenticState{}, StateEvent{}) {
		t.Error("expected recoverable error to continue")
	}
}
