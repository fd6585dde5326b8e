// Package pysandbox runs one round of the restricted Python interpreter
// the agentic loop's python_execution built-in drives. It implements
// actormesh.SandboxRunner: the actor owns retry/round bookkeeping, this
// package owns getting one snippet safely in front of a real CPython
// subprocess and parsing back what happened.
//
// Ported field-for-field from the original's python-sandbox crate
// (protocol.rs/sandbox.rs/lib.rs), which embedded RustPython directly.
// Go has no equivalent embeddable interpreter, so the same restrictions —
// no open/eval/exec/compile, import allowlist, buffered print, tool_call()
// suspension — are installed by a setup script injected ahead of user code
// and enforced by a real CPython subprocess instead of an in-process VM.
package pysandbox

import "encoding/json"

// ToolInfo describes one tool callable via tool_call() from sandboxed code.
type ToolInfo struct {
	Name        string          `json:"name"`
	ServerID    string          `json:"server_id"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCallResult is the host's answer to one pending tool_call(), fed back
// into the next round's ExecutionRequest.ToolResults.
type ToolCallResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PendingToolCall is one tool_call() invocation the subprocess raised on
// because no cached result existed for it yet.
type PendingToolCall struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	ServerID  string          `json:"server_id"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExecutionRequest is sent into one subprocess round, serialized to the
// file setup.py reads via _SANDBOX_REQUEST_PATH. ToolResults is keyed by
// tool name (not call ID) — re-running the exact same code from the top
// means the Nth tool_call() to a given name always resolves to the same
// cached answer, so the name itself is the stable key across reruns.
// Code is not part of the wire payload — the caller concatenates it onto
// setup.py to form the subprocess's script file directly.
type ExecutionRequest struct {
	Code           []string                  `json:"-"`
	Context        json.RawMessage           `json:"context,omitempty"`
	ToolResults    map[string]ToolCallResult `json:"tool_results"`
	AvailableTools []ToolInfo                `json:"available_tools"`
}

// ExecutionStatus mirrors protocol.rs's ExecutionStatus enum. Timeout and
// OutOfFuel are never produced by setup.py itself — a process-level
// deadline never reaches atexit, so the runners set Timeout directly when
// the round's deadline passes. No runner in this package produces
// OutOfFuel; a resource kill surfaces as Error.
type ExecutionStatus int

const (
	StatusComplete ExecutionStatus = iota
	StatusToolCallsPending
	StatusError
	StatusTimeout
	StatusOutOfFuel
)

// ExecutionResult is what one subprocess round produces, before the runner
// folds it into actormesh.SandboxResult.
type ExecutionResult struct {
	Status        ExecutionStatus
	ErrorMessage  string
	Stdout        string
	Stderr        string
	Result        json.RawMessage
	PendingCalls  []PendingToolCall
	ToolCallsMade int
}

// wireResult is the literal JSON shape setup.py's _emit_protocol writes;
// status is a string on the wire since the subprocess has no access to
// this package's ExecutionStatus enum.
type wireResult struct {
	Status       string            `json:"status"`
	Error        string            `json:"error"`
	Stdout       string            `json:"stdout"`
	Result       json.RawMessage   `json:"result"`
	PendingCalls []PendingToolCall `json:"pending_calls"`
}

// decodeResult parses one protocol line into an ExecutionResult.
func decodeResult(line string) (ExecutionResult, error) {
	var w wireResult
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return ExecutionResult{}, err
	}
	res := ExecutionResult{
		Stdout:       w.Stdout,
		Result:       w.Result,
		PendingCalls: w.PendingCalls,
	}
	switch w.Status {
	case "tool_calls_pending":
		res.Status = StatusToolCallsPending
		res.ToolCallsMade = len(w.PendingCalls)
	case "error":
		res.Status = StatusError
		res.ErrorMessage = w.Error
	default:
		res.Status = StatusComplete
	}
	return res, nil
}
