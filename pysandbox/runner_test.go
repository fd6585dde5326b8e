package pysandbox

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"

	"github.com/nevindra/chatrt/actormesh"
)

func TestLimitedWriterTruncatesAtLimit(t *testing.T) {
	w := &limitedWriter{limit: 5}
	w.Write([]byte("hello world"))
	if w.String() != "hello" {
		t.Fatalf("expected truncated to 5 bytes, got %q", w.String())
	}
}

func TestToExecutionRequestCarriesToolResultsAndAvailableTools(t *testing.T) {
	req := actormesh.ExecutionRequest{
		Code: []string{"print(1)"},
		ToolResults: map[string]actormesh.InnerCallResult{
			"lookup": {Success: true, Result: json.RawMessage(`"ok"`)},
		},
		AvailableTools: []actormesh.SandboxToolInfo{
			{Name: "lookup", ServerID: "files", Description: "looks things up"},
		},
		Context: &actormesh.ExecutionContext{ExecID: "t1", UserContext: "hello"},
	}

	wire := toExecutionRequest(req)
	if wire.ToolResults["lookup"].Result == nil || string(wire.ToolResults["lookup"].Result) != `"ok"` {
		t.Fatalf("unexpected tool result: %+v", wire.ToolResults)
	}
	if len(wire.AvailableTools) != 1 || wire.AvailableTools[0].ServerID != "files" {
		t.Fatalf("unexpected available tools: %+v", wire.AvailableTools)
	}
	var ctx struct {
		UserContext string `json:"user_context"`
	}
	if err := json.Unmarshal(wire.Context, &ctx); err != nil {
		t.Fatalf("unexpected context: %v", err)
	}
	if ctx.UserContext != "hello" {
		t.Fatalf("expected user_context propagated, got %q", ctx.UserContext)
	}
}

func TestToSandboxResultMapsStatusAndTruncatesStdout(t *testing.T) {
	big := strings.Repeat("x", defaultMaxOutput+10)
	res := toSandboxResult(ExecutionResult{Status: StatusComplete, Stdout: big}, "")
	if res.Status != actormesh.StatusComplete {
		t.Fatalf("expected StatusComplete, got %v", res.Status)
	}
	if !strings.HasSuffix(res.Stdout, "[output truncated]") {
		t.Fatalf("expected truncation suffix, got tail: %q", res.Stdout[len(res.Stdout)-30:])
	}
}

func TestToSandboxResultCarriesPendingCalls(t *testing.T) {
	res := toSandboxResult(ExecutionResult{
		Status: StatusToolCallsPending,
		PendingCalls: []PendingToolCall{
			{ToolName: "lookup", ServerID: "files", Arguments: json.RawMessage(`{}`)},
		},
	}, "")
	if res.Status != actormesh.StatusToolCallsPending {
		t.Fatalf("expected ToolCallsPending, got %v", res.Status)
	}
	if len(res.PendingCalls) != 1 || res.PendingCalls[0].ToolName != "lookup" {
		t.Fatalf("unexpected pending calls: %+v", res.PendingCalls)
	}
}

// TestRunnerExecutesSimpleSnippet is an integration test against a real
// python3 subprocess, following the same optional-external-dependency skip
// pattern as the teacher's provider integration tests.
func TestRunnerExecutesSimpleSnippet(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found on PATH, skipping integration test")
	}

	r := NewRunner("python3")
	out := r.Run(context.Background(), actormesh.ExecutionRequest{
		Code:        []string{"print('hello')", "set_result(1 + 2)"},
		ToolResults: map[string]actormesh.InnerCallResult{},
	})
	if out.Status != actormesh.StatusComplete {
		t.Fatalf("expected complete, got %v (stderr: %s)", out.Status, out.Stderr)
	}
	if out.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", out.Stdout)
	}
	if string(out.Result) != "3" {
		t.Fatalf("unexpected result: %s", out.Result)
	}
}

func TestRunnerRejectsDisallowedImport(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found on PATH, skipping integration test")
	}

	r := NewRunner("python3")
	out := r.Run(context.Background(), actormesh.ExecutionRequest{
		Code:        []string{"import os"},
		ToolResults: map[string]actormesh.InnerCallResult{},
	})
	if out.Status != actormesh.StatusError {
		t.Fatalf("expected error status for disallowed import, got %v", out.Status)
	}
}

func TestRunnerSuspendsOnToolCall(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found on PATH, skipping integration test")
	}

	r := NewRunner("python3")
	out := r.Run(context.Background(), actormesh.ExecutionRequest{
		Code:        []string{"tool_call('lookup', q='x')"},
		ToolResults: map[string]actormesh.InnerCallResult{},
		AvailableTools: []actormesh.SandboxToolInfo{
			{Name: "lookup", ServerID: "files"},
		},
	})
	if out.Status != actormesh.StatusToolCallsPending {
		t.Fatalf("expected tool calls pending, got %v (stderr: %s)", out.Status, out.Stderr)
	}
	if len(out.PendingCalls) != 1 || out.PendingCalls[0].ToolName != "lookup" {
		t.Fatalf("unexpected pending calls: %+v", out.PendingCalls)
	}

	out2 := r.Run(context.Background(), actormesh.ExecutionRequest{
		Code: []string{"tool_call('lookup', q='x')"},
		ToolResults: map[string]actormesh.InnerCallResult{
			"lookup": {Success: true, Result: json.RawMessage(`"found it"`)},
		},
		AvailableTools: []actormesh.SandboxToolInfo{
			{Name: "lookup", ServerID: "files"},
		},
	})
	if out2.Status != actormesh.StatusComplete {
		t.Fatalf("expected complete on rerun with cached result, got %v (stderr: %s)", out2.Status, out2.Stderr)
	}
}
