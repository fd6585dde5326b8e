// Package dispatch routes one parsed tool call to whatever actually
// executes it — a built-in (python_execution, tool_search, schema_search,
// sql_select, rag_search) or an MCP server behind the mesh's MCPHost — and formats the
// outcome back into the wire envelope the active ToolCallFormat expects.
//
// Generalized from the teacher's loop.go: dispatchTool/dispatchBuiltins
// handled a flat two-way split (builtin special case vs a single
// tool-executor function); this package keeps dispatchParallel's worker-pool
// shape (reused verbatim by agenticloop, not duplicated here) but replaces
// the builtin special-casing with the five database/search/sandbox
// built-ins the Tool Capability Resolver can surface.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolparse"
	"github.com/nevindra/chatrt/toolregistry"
)

// Embedder is the subset of the inference actor a query-driven built-in
// (tool_search, schema_search) needs to turn free text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Dispatcher wires every backend one parsed ToolCall might route to. Fields
// left nil simply make the built-ins that depend on them unavailable —
// capability.Resolve already keeps those built-ins out of the tool manifest
// in that case, so Dispatch never has to guess.
type Dispatcher struct {
	Registry     *toolregistry.ToolRegistry
	MCPHost      *actormesh.MCPHost
	Python       *actormesh.PythonActor
	DB           *actormesh.DatabaseToolbox
	SchemaSearch *actormesh.VectorActor // purpose "schema"
	RAG          *actormesh.VectorActor // purpose "rag_chunks"
	Embedder     Embedder
	Logger       *slog.Logger

	// EnabledSources gates sql_select/schema_search per source, mirroring
	// the settings layer's per-connection enable toggle.
	EnabledSources map[string]bool

	ToolSearchTopK    int // default 5 when 0
	SchemaSearchTopK  int // default 3 when 0
	RagSearchTopK     int // default 5 when 0
	NumericColumnTopK int // default 5 when 0 — the hybrid column selection's N

	schemaCompiler *jsonschema.Compiler
}

// Outcome is one dispatch's result: the formatted envelope to inject back
// into the conversation, plus the StateEvent Tier 2 should fold on.
type Outcome struct {
	Envelope string
	Event    statemachine.StateEvent
}

func (d *Dispatcher) toolSearchTopK() int {
	if d.ToolSearchTopK > 0 {
		return d.ToolSearchTopK
	}
	return 5
}

func (d *Dispatcher) schemaSearchTopK() int {
	if d.SchemaSearchTopK > 0 {
		return d.SchemaSearchTopK
	}
	return 3
}

func (d *Dispatcher) ragSearchTopK() int {
	if d.RagSearchTopK > 0 {
		return d.RagSearchTopK
	}
	return 5
}

func (d *Dispatcher) numericColumnTopK() int {
	if d.NumericColumnTopK > 0 {
		return d.NumericColumnTopK
	}
	return 5
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dispatch resolves call's server (filling in "unknown" against the
// registry, then the MCP host's live descriptions) and routes it to the
// matching handler. schemaContext, when non-empty, feeds the enhanced
// SQL-error recovery guidance on a failed sql_select.
func (d *Dispatcher) Dispatch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, caller string, schemaContext string) Outcome {
	call = d.resolveServer(ctx, call)

	switch call.Tool {
	case capability.BuiltinPythonExecution:
		return d.dispatchPython(ctx, call, format)
	case capability.BuiltinToolSearch:
		return d.dispatchToolSearch(ctx, call, format, caller)
	case capability.BuiltinSchemaSearch:
		return d.dispatchSchemaSearch(ctx, call, format)
	case capability.BuiltinSQLSelect:
		return d.dispatchSQL(ctx, call, format, schemaContext)
	case capability.BuiltinRagSearch:
		return d.dispatchRagSearch(ctx, call, format)
	default:
		return d.dispatchMCP(ctx, call, format)
	}
}

func isBuiltinName(name string) bool {
	switch name {
	case capability.BuiltinPythonExecution, capability.BuiltinToolSearch,
		capability.BuiltinSchemaSearch, capability.BuiltinSQLSelect, capability.BuiltinRagSearch:
		return true
	}
	return false
}

// resolveServer fills in call.Server when the parser cascade left it as
// "unknown" (a wire format, like Hermes, that never distinguished a server
// in the first place). Built-ins resolve to the "builtin" sentinel
// directly; everything else checks the registry first (covers every
// already-materialized or deferred MCP tool), falling back to the MCP
// host's live per-connection tool cache for a tool the registry hasn't
// learned about yet.
func (d *Dispatcher) resolveServer(ctx context.Context, call chatproto.ToolCall) chatproto.ToolCall {
	if call.Server != "" && call.Server != "unknown" {
		return call
	}
	if isBuiltinName(call.Tool) {
		call.Server = "builtin"
		return call
	}
	if d.Registry != nil {
		if key, _, err := d.Registry.Resolve(call.Tool); err == nil {
			call.Server = key.ServerID
			return call
		}
	}
	if d.MCPHost != nil {
		if all, err := d.MCPHost.GetAllToolDescriptions(ctx); err == nil {
			for serverID, tools := range all {
				for _, t := range tools {
					if t.Name == call.Tool {
						call.Server = serverID
						return call
					}
				}
			}
		}
	}
	return call
}

// dispatchMCP forwards a resolved, non-builtin call to the MCP host,
// validating its arguments against the registered JSON Schema first so a
// malformed call fails fast with a schema-shaped error instead of reaching
// the subprocess.
func (d *Dispatcher) dispatchMCP(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat) Outcome {
	key := toolregistry.Key{ServerID: call.Server, ToolName: call.Tool}

	var schema toolregistry.ToolSchema
	if d.Registry != nil {
		s, ok := d.Registry.Get(key)
		if !ok {
			return d.errorOutcome(call, format, fmt.Errorf("dispatch: unknown tool %q on server %q", call.Tool, call.Server), "")
		}
		schema = s
	}

	if err := d.validateArguments(schema, call.Arguments); err != nil {
		return d.errorOutcome(call, format, err, "")
	}

	if d.MCPHost == nil {
		return d.errorOutcome(call, format, fmt.Errorf("dispatch: no MCP host configured"), "")
	}
	result, err := d.MCPHost.ExecuteTool(ctx, key, call.Arguments)
	if err != nil {
		return d.errorOutcome(call, format, err, "")
	}

	content := mcpContentToText(result.Content)
	envelope := toolparse.FormatToolResult(call, content, result.IsError, format, "")
	return Outcome{Envelope: envelope, Event: statemachine.StateEvent{Kind: statemachine.EventMCPToolCompleted}}
}

func mcpContentToText(content []actormesh.MCPContent) string {
	var b strings.Builder
	for i, c := range content {
		if i > 0 {
			b.WriteString("\n")
		}
		if c.Text != "" {
			b.WriteString(c.Text)
		} else if c.Data != "" {
			fmt.Fprintf(&b, "[%s attachment, %d bytes base64]", c.MimeType, len(c.Data))
		}
	}
	return b.String()
}

// validateArguments checks call arguments against schema.Parameters (a JSON
// Schema document) before the call reaches the subprocess boundary. A
// schema with no Parameters is treated as unconstrained, matching MCP
// servers that never publish an inputSchema.
func (d *Dispatcher) validateArguments(schema toolregistry.ToolSchema, args json.RawMessage) error {
	if len(schema.Parameters) == 0 {
		return nil
	}
	if d.schemaCompiler == nil {
		d.schemaCompiler = jsonschema.NewCompiler()
	}

	url := "mem://tool/" + schema.ServerID + "/" + schema.Name
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schema.Parameters)))
	if err != nil {
		return fmt.Errorf("dispatch: tool %q has an invalid parameter schema: %w", schema.Name, err)
	}
	if err := d.schemaCompiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("dispatch: tool %q has an invalid parameter schema: %w", schema.Name, err)
	}
	compiled, err := d.schemaCompiler.Compile(url)
	if err != nil {
		return fmt.Errorf("dispatch: tool %q has an invalid parameter schema: %w", schema.Name, err)
	}

	var instance any
	raw := args
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("dispatch: tool %q arguments are not valid JSON: %w", schema.Name, err)
	}
	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("dispatch: tool %q arguments failed schema validation: %w", schema.Name, err)
	}
	return nil
}

// errorOutcome formats an error through the same per-format envelope a
// successful result would use, so the model sees one uniform tool-result
// shape regardless of outcome. Its StateEvent is EventMCPToolCompleted;
// built-ins use errorOutcomeKind instead, so the event carries the kind of
// the built-in that failed and Tier 2 folds a failed sql_select the same
// way it folds a successful one.
func (d *Dispatcher) errorOutcome(call chatproto.ToolCall, format chatproto.ToolFormat, err error, schemaContext string) Outcome {
	return d.errorOutcomeKind(call, format, err, schemaContext, statemachine.EventMCPToolCompleted)
}

func (d *Dispatcher) errorOutcomeKind(call chatproto.ToolCall, format chatproto.ToolFormat, err error, schemaContext string, kind statemachine.StateEventKind) Outcome {
	envelope := toolparse.FormatToolResult(call, "error: "+err.Error(), true, format, schemaContext)
	return Outcome{
		Envelope: envelope,
		Event:    statemachine.StateEvent{Kind: kind},
	}
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / math.Sqrt(normA*normB))
}
