package actormesh

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// MaxSandboxOutputSize bounds the stdout the Python actor keeps from one
// execution, truncated past this many bytes.
const MaxSandboxOutputSize = 1024 * 1024 // 1MB

// MaxToolCallRounds bounds the batch-execution loop below: a round that
// keeps returning ToolCallsPending forever is treated as a runaway script,
// not an infinite wait.
const MaxToolCallRounds = 10

// ExecutionContext carries the per-call identifiers and already-available
// tool stubs a sandbox run needs, independent of the code body itself.
type ExecutionContext struct {
	ExecID         string
	ToolStubs      string
	UserContext    string
	AvailableTools []SandboxToolInfo
}

// SandboxToolInfo is one tool exposed to the sandboxed interpreter as a
// callable stub.
type SandboxToolInfo struct {
	Name        string
	ServerID    string
	Description string
	Parameters  json.RawMessage
}

// CodeExecutionInput is one request to run a snippet in the sandbox.
type CodeExecutionInput struct {
	Code    []string
	Context *ExecutionContext
}

// CodeExecutionOutput is the accumulated result across every round of the
// batch-continuation loop.
type CodeExecutionOutput struct {
	Success       bool
	Result        json.RawMessage
	Stdout        string
	Stderr        string
	ToolCallsMade int
	DurationMs    int64
}

// InnerToolCall is a tool_call() invocation the sandboxed code made mid-run,
// forwarded to whatever owns tool dispatch outside this actor.
type InnerToolCall struct {
	ToolName     string
	ServerID     string
	Arguments    json.RawMessage
	ParentExecID string
}

// InnerCallResult answers one InnerToolCall.
type InnerCallResult struct {
	Success bool
	Result  json.RawMessage
	Error   string
}

// ExecutionStatus mirrors the sandbox runner's per-round outcome.
type ExecutionStatus int

const (
	StatusComplete ExecutionStatus = iota
	StatusToolCallsPending
	StatusError
	StatusTimeout
	StatusOutOfFuel
)

// PendingCall is one tool_call() the sandbox suspended on, awaiting a result
// before it can resume from the top of the snippet with tool_results filled
// in (the batched-continuation / rerun-from-top model).
type PendingCall struct {
	ToolName  string
	ServerID  string
	Arguments json.RawMessage
}

// SandboxResult is what one round of the underlying Python runner returns.
type SandboxResult struct {
	Status        ExecutionStatus
	ErrorMessage  string
	Stdout        string
	Stderr        string
	Result        json.RawMessage
	ToolCallsMade int
	PendingCalls  []PendingCall
}

// SandboxRunner is the process-boundary-restricted interpreter this actor
// drives. Implemented by pysandbox.Runner; kept as an interface here so
// actormesh has no import dependency on the subprocess/process-management
// details.
type SandboxRunner interface {
	Run(ctx context.Context, req ExecutionRequest) SandboxResult
}

// ExecutionRequest is what gets sent to the runner for one round; ToolResults
// carries the prior round's answers back in by tool name, same as the
// original's HashMap<String, ToolCallResult> keyed re-run.
type ExecutionRequest struct {
	Code           []string
	Context        *ExecutionContext
	ToolResults    map[string]InnerCallResult
	AvailableTools []SandboxToolInfo
}

// ToolCallRequest is one tool_call() invocation the sandboxed code made
// mid-run, forwarded out through PythonActor.ToolCallChannel to whatever
// owns tool dispatch. The receiver must call Respond exactly once.
type ToolCallRequest struct {
	Call  InnerToolCall
	reply reply[InnerCallResult]
}

// Respond answers the pending tool call, letting the suspended sandbox
// round resume. Safe to call from any goroutine; must be called exactly
// once per request.
func (r ToolCallRequest) Respond(result InnerCallResult) {
	sendReply(context.Background(), r.reply, result)
}

type pythonMsg struct {
	kind string

	execInput CodeExecutionInput
	execCtx   *ExecutionContext

	replyExec   reply[execResult]
	replyHealth reply[bool]
}

type execResult struct {
	output CodeExecutionOutput
	err    error
}

// PythonActor runs sandboxed Python snippets using the batch tool-call
// model: execution pauses on tool_call(), the actor forwards the pending
// calls out through a second channel so the orchestrator can execute them
// without this actor's own mailbox loop deadlocking on itself, then resumes
// the snippet from the top with results filled in.
type PythonActor struct {
	mailbox  chan pythonMsg
	toolCall chan ToolCallRequest // second mailbox: pending tool calls out to the orchestrator
	runner   SandboxRunner
	logger   *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	lastStatus Status
}

// NewPythonActor starts the actor's processing goroutine. The toolCall
// channel's DefaultMailboxSize capacity mirrors the original's mpsc::channel(32) sizing for the inner tool-call
// forwarding channel.
func NewPythonActor(runner SandboxRunner, logger *slog.Logger) *PythonActor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &PythonActor{
		mailbox:  make(chan pythonMsg, DefaultMailboxSize),
		toolCall: make(chan ToolCallRequest, DefaultMailboxSize),
		runner:   runner,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *PythonActor) run() {
	for msg := range a.mailbox {
		a.handle(msg)
	}
	close(a.done)
}

func (a *PythonActor) handle(msg pythonMsg) {
	switch msg.kind {
	case "execute":
		out, err := a.executeCode(msg.execInput, msg.execCtx)
		if err != nil {
			a.setStatus(false, true, err)
		} else {
			a.setStatus(true, false, nil)
		}
		sendReply(context.Background(), msg.replyExec, execResult{output: out, err: err})
	case "health":
		sendReply(context.Background(), msg.replyHealth, true)
	}
}

// ToolCallChannel exposes the channel the orchestrator reads pending inner
// tool calls from. Each entry must be answered via its Respond method for
// the suspended round to resume.
func (a *PythonActor) ToolCallChannel() <-chan ToolCallRequest {
	return a.toolCall
}

// Execute runs a snippet to completion (including any number of
// tool_call()-driven rounds, bounded by MaxToolCallRounds) and returns the
// combined output.
func (a *PythonActor) Execute(ctx context.Context, input CodeExecutionInput, execCtx *ExecutionContext) (CodeExecutionOutput, error) {
	r := make(reply[execResult], 1)
	select {
	case a.mailbox <- pythonMsg{kind: "execute", execInput: input, execCtx: execCtx, replyExec: r}:
	case <-ctx.Done():
		return CodeExecutionOutput{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.output, res.err
	case <-ctx.Done():
		return CodeExecutionOutput{}, ctx.Err()
	}
}

func (a *PythonActor) executeCode(input CodeExecutionInput, execCtx *ExecutionContext) (CodeExecutionOutput, error) {
	start := time.Now()

	req := ExecutionRequest{
		Code:           input.Code,
		Context:        execCtx,
		ToolResults:    map[string]InnerCallResult{},
		AvailableTools: execCtx.AvailableTools,
	}

	var output CodeExecutionOutput
	totalToolCalls := 0

	for round := 1; ; round++ {
		if round > MaxToolCallRounds {
			return output, errMaxRoundsExceeded
		}

		result := a.runner.Run(context.Background(), req)

		output.Stdout += result.Stdout
		output.Stderr += result.Stderr
		totalToolCalls += result.ToolCallsMade

		switch result.Status {
		case StatusComplete:
			output.Success = true
			output.Result = result.Result
			output.ToolCallsMade = totalToolCalls
			output.DurationMs = time.Since(start).Milliseconds()
			truncateOutput(&output)
			return output, nil

		case StatusToolCallsPending:
			if len(result.PendingCalls) == 0 {
				output.Success = true
				output.Result = result.Result
				output.ToolCallsMade = totalToolCalls
				output.DurationMs = time.Since(start).Milliseconds()
				truncateOutput(&output)
				return output, nil
			}
			toolResults := map[string]InnerCallResult{}
			for _, pending := range result.PendingCalls {
				toolResults[pending.ToolName] = a.executeToolCall(execCtx, pending)
			}
			req.ToolResults = toolResults

		case StatusError:
			output.Success = false
			output.Stderr += "\nError: " + result.ErrorMessage
			output.ToolCallsMade = totalToolCalls
			output.DurationMs = time.Since(start).Milliseconds()
			truncateOutput(&output)
			return output, nil

		case StatusTimeout:
			return output, errExecutionTimedOut

		case StatusOutOfFuel:
			return output, errResourceLimitExceeded
		}
	}
}

func (a *PythonActor) executeToolCall(execCtx *ExecutionContext, pending PendingCall) InnerCallResult {
	call := InnerToolCall{
		ToolName:  pending.ToolName,
		ServerID:  pending.ServerID,
		Arguments: pending.Arguments,
	}
	if execCtx != nil {
		call.ParentExecID = execCtx.ExecID
	}

	r := make(reply[InnerCallResult], 1)
	req := ToolCallRequest{Call: call, reply: r}

	a.toolCall <- req

	select {
	case result := <-r:
		return result
	case <-time.After(mcpRequestTimeout):
		return InnerCallResult{Success: false, Error: "tool call response channel timed out"}
	}
}

func truncateOutput(output *CodeExecutionOutput) {
	if len(output.Stdout) > MaxSandboxOutputSize {
		output.Stdout = output.Stdout[:MaxSandboxOutputSize] + "\n... [output truncated]"
	}
}

func (a *PythonActor) setStatus(healthy, degraded bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastStatus = Status{Name: "python", Healthy: healthy, Degraded: degraded, LastError: err}
}

func (a *PythonActor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastStatus
}

func (a *PythonActor) Stop() {
	a.stopOnce.Do(func() {
		close(a.mailbox)
	})
	<-a.done
}

var (
	errMaxRoundsExceeded     = sandboxError("maximum tool call rounds exceeded - possible infinite loop")
	errExecutionTimedOut     = sandboxError("execution timed out")
	errResourceLimitExceeded = sandboxError("execution exceeded resource limits")
)

type sandboxError string

func (e sandboxError) Error() string { return string(e) }
