package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolparse"
	"github.com/nevindra/chatrt/toolregistry"
)

// pythonExecutionArgs is the shape of python_execution's sole argument.
type pythonExecutionArgs struct {
	Code string `json:"code"`
}

// dispatchPython normalizes the submitted code, runs it to completion on
// the Python actor (including any number of tool_call()-driven rounds, each
// serviced inline by draining the actor's ToolCallChannel), and formats the
// accumulated stdout/result.
func (d *Dispatcher) dispatchPython(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat) Outcome {
	if d.Python == nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("dispatch: python_execution is not configured"), "", statemachine.EventPythonExecuted)
	}

	var args pythonExecutionArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Code) == "" {
		return d.errorOutcomeKind(call, format, fmt.Errorf("python_execution: expected a non-empty %q argument", "code"), "", statemachine.EventPythonExecuted)
	}

	code, err := normalizePythonCode(args.Code)
	if err != nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("python_execution: %w", err), "", statemachine.EventPythonExecuted)
	}

	// The actor processes one "execute" message at a time off its mailbox,
	// so at most one ToolCallRequest is ever pending — one drain goroutine
	// per call is enough, stopped the moment Execute returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case req, ok := <-d.Python.ToolCallChannel():
				if !ok {
					return
				}
				req.Respond(d.executeInnerToolCall(ctx, req.Call))
			case <-stop:
				return
			}
		}
	}()

	execCtx := &actormesh.ExecutionContext{
		ExecID:         call.ID,
		AvailableTools: d.sandboxToolStubs(),
	}
	input := actormesh.CodeExecutionInput{Code: []string{code}, Context: execCtx}

	out, err := d.Python.Execute(ctx, input, execCtx)
	if err != nil {
		return d.errorOutcomeKind(call, format, err, "", statemachine.EventPythonExecuted)
	}

	var resultText string
	if len(out.Result) > 0 {
		resultText = string(out.Result)
	} else {
		resultText = out.Stdout
	}
	if out.Stderr != "" {
		resultText += "\n--- stderr ---\n" + out.Stderr
	}

	envelope := toolparse.FormatToolResult(call, resultText, !out.Success, format, "")
	event := statemachine.StateEvent{
		Kind:              statemachine.EventPythonExecuted,
		Stdout:            out.Stdout,
		Stderr:            out.Stderr,
		NeedsContinuation: false,
	}
	return Outcome{Envelope: envelope, Event: event}
}

// executeInnerToolCall answers one tool_call() a sandbox round suspended
// on. python_execution is restricted to calling other tools only through
// this path — it never re-enters Dispatch/dispatchPython itself, matching
// the allowed_callers restriction that keeps execute_code from recursing
// into itself.
func (d *Dispatcher) executeInnerToolCall(ctx context.Context, call actormesh.InnerToolCall) actormesh.InnerCallResult {
	key := toolregistry.Key{ServerID: call.ServerID, ToolName: call.ToolName}
	if key.ServerID == "" || key.ServerID == "unknown" {
		if d.Registry != nil {
			if resolved, _, err := d.Registry.Resolve(call.ToolName); err == nil {
				key = resolved
			}
		}
	}

	if d.Registry != nil {
		schema, ok := d.Registry.Get(key)
		if !ok {
			return actormesh.InnerCallResult{Success: false, Error: fmt.Sprintf("unknown tool %q", call.ToolName)}
		}
		if !schema.AllowedForCaller("python_execution") {
			return actormesh.InnerCallResult{Success: false, Error: fmt.Sprintf("tool %q is not callable from python_execution", call.ToolName)}
		}
		if err := d.validateArguments(schema, call.Arguments); err != nil {
			return actormesh.InnerCallResult{Success: false, Error: err.Error()}
		}
	}

	if d.MCPHost == nil {
		return actormesh.InnerCallResult{Success: false, Error: "no MCP host configured"}
	}
	result, err := d.MCPHost.ExecuteTool(ctx, key, call.Arguments)
	if err != nil {
		return actormesh.InnerCallResult{Success: false, Error: err.Error()}
	}
	text := mcpContentToText(result.Content)
	if result.IsError {
		return actormesh.InnerCallResult{Success: false, Error: text}
	}
	return actormesh.InnerCallResult{Success: true, Result: json.RawMessage(jsonString(text))}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// sandboxToolStubs lists every currently-visible, python-callable tool so
// the sandbox's generated stub module can expose them as callables.
func (d *Dispatcher) sandboxToolStubs() []actormesh.SandboxToolInfo {
	if d.Registry == nil {
		return nil
	}
	var stubs []actormesh.SandboxToolInfo
	for _, schema := range d.Registry.VisibleSchemas() {
		if schema.Builtin() || !schema.AllowedForCaller("python_execution") {
			continue
		}
		stubs = append(stubs, actormesh.SandboxToolInfo{
			Name:        schema.Name,
			ServerID:    schema.ServerID,
			Description: schema.Description,
			Parameters:  schema.Parameters,
		})
	}
	return stubs
}

// normalizePythonCode applies two submission-time fixups in order (await
// stripping, then indentation autofix), then a best-effort syntax sanity
// check. A genuine
// AST parse is left to the sandbox subprocess itself (no third-party Python
// parser exists anywhere in this Go module's dependency surface); this
// check only catches the obviously-malformed submissions — unbalanced
// brackets or quotes — before they reach the subprocess boundary.
func normalizePythonCode(code string) (string, error) {
	code = stripAwaitPrefixes(code)
	code = autofixIndentation(code)
	if err := sanityCheckPython(code); err != nil {
		return "", err
	}
	return code, nil
}

// stripAwaitPrefixes removes a leading "await " token from any line: the
// sandbox runs synchronously, so model-emitted async-style code (common
// when a model has seen JS/async-Python examples) is coerced to plain
// calls rather than rejected outright.
func stripAwaitPrefixes(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		if strings.HasPrefix(trimmed, "await ") {
			lines[i] = indent + strings.TrimPrefix(trimmed, "await ")
		}
	}
	return strings.Join(lines, "\n")
}

// blockOpeners are the keywords that, when a line ends with ':', open a new
// indented block in Python.
var blockOpeners = []string{"if", "elif", "else", "for", "while", "try", "except", "finally", "def", "class", "with"}

// autofixIndentation re-derives indentation from block-opening keywords
// rather than trusting whatever whitespace the model emitted: a line ending
// in ':' after one of blockOpeners increases the expected indent of the
// following non-blank line by one level; a bare 'return'/'pass'/'break'/
// 'continue' line does not change it; anything else keeps the current
// level. This repairs the common model failure mode of flattening
// indentation or using inconsistent tab/space widths, at the cost of not
// supporting deliberately irregular (but valid) indentation styles.
func autofixIndentation(code string) string {
	lines := strings.Split(code, "\n")
	const unit = "    "
	depth := 0
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		lineDepth := depth
		if isDedentKeyword(trimmed) && depth > 0 {
			lineDepth = depth - 1
		}
		out = append(out, strings.Repeat(unit, lineDepth)+trimmed)

		if opensBlock(trimmed) {
			depth = lineDepth + 1
		} else {
			depth = lineDepth
		}
	}
	return strings.Join(out, "\n")
}

func opensBlock(trimmed string) bool {
	if !strings.HasSuffix(trimmed, ":") {
		return false
	}
	for _, kw := range blockOpeners {
		if trimmed == kw+":" || strings.HasPrefix(trimmed, kw+" ") || strings.HasPrefix(trimmed, kw+"(") {
			return true
		}
	}
	return false
}

func isDedentKeyword(trimmed string) bool {
	for _, kw := range []string{"else:", "elif ", "except:", "except ", "finally:"} {
		if strings.HasPrefix(trimmed, kw) {
			return true
		}
	}
	return false
}

// sanityCheckPython rejects code with unbalanced brackets or an unterminated
// quoted string — cheap checks that catch truncated model output without
// needing a real parser.
func sanityCheckPython(code string) error {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var quote rune
	escaped := false
	for _, r := range code {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Errorf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated string literal")
	}
	if len(stack) != 0 {
		return fmt.Errorf("unbalanced %q", stack[len(stack)-1])
	}
	return nil
}
