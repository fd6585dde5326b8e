package pysandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nevindra/chatrt/actormesh"
)

//go:embed setup.py
var setupSource string

// defaultMaxOutput mirrors actormesh.MaxSandboxOutputSize; kept local so
// this package has no compile-time dependency beyond the SandboxRunner
// types it needs to produce.
const defaultMaxOutput = 1024 * 1024

const defaultTimeout = 30 * time.Second

// Runner executes one round of sandboxed Python in a fresh subprocess per
// call, replacing the teacher's single-pass code/subprocess.go model with
// the batched-continuation protocol actormesh.PythonActor drives: every
// call to Run is one round, and the caller (PythonActor) decides whether
// another round is needed based on the returned SandboxResult.
type Runner struct {
	PythonBin string
	MaxOutput int
	Timeout   time.Duration
}

// NewRunner returns a Runner with the given python3 binary path. Zero
// MaxOutput/Timeout fall back to the package defaults.
func NewRunner(pythonBin string) *Runner {
	return &Runner{PythonBin: pythonBin}
}

func (r *Runner) pythonBin() string {
	if r.PythonBin != "" {
		return r.PythonBin
	}
	return "python3"
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return defaultMaxOutput
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultTimeout
}

// Run implements actormesh.SandboxRunner. One round: render the request to
// the wire protocol, spawn python3 on a script of setup.py + the user's
// code joined by newlines, and parse the trailing protocol line off stdout.
func (r *Runner) Run(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	wireReq := toExecutionRequest(req)
	reqFile, err := writeRequestFile(wireReq)
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}
	defer os.Remove(reqFile)

	script := setupSource + "\n" + strings.Join(req.Code, "\n")
	scriptFile, err := os.CreateTemp("", "pysandbox-*.py")
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}
	defer os.Remove(scriptFile.Name())
	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}
	scriptFile.Close()

	cmd := exec.CommandContext(ctx, r.pythonBin(), "-I", scriptFile.Name())
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"LANG=en_US.UTF-8",
		"_SANDBOX_REQUEST_PATH=" + reqFile,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: err.Error()}
	}
	var stderrBuf limitedWriter
	stderrBuf.limit = r.maxOutput()
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "start subprocess: " + err.Error()}
	}

	var protoLine string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), r.maxOutput()+64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, _protoMarker) {
			protoLine = strings.TrimPrefix(line, _protoMarker)
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return actormesh.SandboxResult{Status: actormesh.StatusTimeout, Stderr: stderrBuf.String()}
	}

	if protoLine == "" {
		// The subprocess never reached atexit — a crash at the interpreter
		// level (segfault, killed, import of setup.py itself failing).
		msg := stderrBuf.String()
		if waitErr != nil && msg == "" {
			msg = waitErr.Error()
		}
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: msg, Stderr: msg}
	}

	parsed, err := decodeResult(protoLine)
	if err != nil {
		return actormesh.SandboxResult{Status: actormesh.StatusError, ErrorMessage: "malformed protocol line: " + err.Error()}
	}

	return toSandboxResult(parsed, stderrBuf.String())
}

const _protoMarker = "\x01SANDBOX-RESULT\x01"

// toExecutionRequest adapts the actor's in-memory request into the wire
// payload setup.py reads. Code isn't part of it — the caller concatenates
// it onto setup.py to build the subprocess's script file directly.
func toExecutionRequest(req actormesh.ExecutionRequest) ExecutionRequest {
	w := ExecutionRequest{Code: req.Code, ToolResults: make(map[string]ToolCallResult, len(req.ToolResults))}
	for name, result := range req.ToolResults {
		w.ToolResults[name] = ToolCallResult{Success: result.Success, Result: result.Result, Error: result.Error}
	}
	for _, t := range req.AvailableTools {
		w.AvailableTools = append(w.AvailableTools, ToolInfo{
			Name: t.Name, ServerID: t.ServerID, Description: t.Description, Parameters: t.Parameters,
		})
	}
	if req.Context != nil && req.Context.UserContext != "" {
		ctx, _ := json.Marshal(map[string]string{"user_context": req.Context.UserContext})
		w.Context = ctx
	}
	return w
}

func writeRequestFile(req ExecutionRequest) (string, error) {
	f, err := os.CreateTemp("", "pysandbox-req-*.json")
	if err != nil {
		return "", fmt.Errorf("create request file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(req); err != nil {
		return "", fmt.Errorf("write request file: %w", err)
	}
	return f.Name(), nil
}

func toSandboxResult(r ExecutionResult, stderr string) actormesh.SandboxResult {
	// ExecutionStatus and actormesh.ExecutionStatus share the same iota
	// ordering (Complete, ToolCallsPending, Error, Timeout, OutOfFuel) —
	// decodeResult only ever produces the first three from the wire, the
	// Timeout/OutOfFuel cases are set directly by Run before this is called.
	res := actormesh.SandboxResult{
		Status:        actormesh.ExecutionStatus(r.Status),
		ErrorMessage:  r.ErrorMessage,
		Stdout:        r.Stdout,
		Stderr:        stderr,
		Result:        r.Result,
		ToolCallsMade: r.ToolCallsMade,
	}
	if res.Stderr == "" {
		res.Stderr = r.ErrorMessage
	}
	for _, p := range r.PendingCalls {
		res.PendingCalls = append(res.PendingCalls, actormesh.PendingCall{
			ToolName: p.ToolName, ServerID: p.ServerID, Arguments: p.Arguments,
		})
	}
	if len(res.Stdout) > defaultMaxOutput {
		res.Stdout = res.Stdout[:defaultMaxOutput] + "\n... [output truncated]"
	}
	return res
}

// limitedWriter captures up to limit bytes and discards the rest, same
// shape as cmd/sandbox/runner.go's helper of the same name.
type limitedWriter struct {
	buf   strings.Builder
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remaining := w.limit - w.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return len(p), nil
}

func (w *limitedWriter) String() string { return w.buf.String() }
