package agenticloop

import (
	"fmt"
	"strings"

	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/toolregistry"
)

var builtinOrder = []string{
	capability.BuiltinPythonExecution,
	capability.BuiltinToolSearch,
	capability.BuiltinSchemaSearch,
	capability.BuiltinSQLSelect,
	capability.BuiltinRagSearch,
}

// buildToolManifest turns a turn's ResolvedToolCapabilities into the two
// things the model round needs: the native ToolDefinition list (non-empty
// only when UseNativeTools) and a rendered text block describing every
// visible tool for the system prompt, in whatever wire format the turn is
// using. Built-ins are always described; MCP tools only when materialized
// (ActiveMCPTools) — a deferred tool is deliberately invisible here, so the
// model can only reach it through tool_search.
func buildToolManifest(caps capability.ResolvedToolCapabilities) (defs []chatproto.ToolDefinition, promptBlock string) {
	var b strings.Builder

	if instr := capability.GetPromptFormatInstructions([]chatproto.ToolCallFormatName{caps.PrimaryFormat}); instr[caps.PrimaryFormat] != "" {
		b.WriteString(instr[caps.PrimaryFormat])
		b.WriteString("\n\n")
	}

	for _, name := range builtinOrder {
		if !caps.AvailableBuiltins[name] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, builtinDescription(name))
		if caps.UseNativeTools {
			defs = append(defs, chatproto.ToolDefinition{Name: name, Description: builtinDescription(name), Parameters: builtinParameters(name)})
		}
	}

	for _, t := range caps.ActiveMCPTools {
		fmt.Fprintf(&b, "- %s___%s: %s\n", t.ServerID, t.Schema.Name, t.Schema.Description)
		if caps.UseNativeTools {
			defs = append(defs, chatproto.ToolDefinition{
				Name:        t.ServerID + "___" + t.Schema.Name,
				Description: t.Schema.Description,
				Parameters:  t.Schema.Parameters,
			})
		}
	}

	return defs, b.String()
}

func builtinDescription(name string) string {
	switch name {
	case capability.BuiltinPythonExecution:
		return "execute a Python snippet in the sandbox; tool_call(name, **kwargs) inside it invokes any discovered tool"
	case capability.BuiltinToolSearch:
		return "semantic search over tools not yet materialized into this prompt"
	case capability.BuiltinSchemaSearch:
		return "semantic search over database table schemas"
	case capability.BuiltinSQLSelect:
		return "run a read-only SELECT against a connected database"
	case capability.BuiltinRagSearch:
		return "semantic search over ingested documents, returning the most relevant passages"
	default:
		return ""
	}
}

func builtinParameters(name string) []byte {
	switch name {
	case capability.BuiltinPythonExecution:
		return []byte(`{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`)
	case capability.BuiltinToolSearch, capability.BuiltinSchemaSearch, capability.BuiltinRagSearch:
		return []byte(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
	case capability.BuiltinSQLSelect:
		return []byte(`{"type":"object","properties":{"source":{"type":"string"},"sql":{"type":"string"}},"required":["source","sql"]}`)
	default:
		return []byte(`{}`)
	}
}

// resolveInputWithRegistry stamps in the one piece of ResolveInput that
// changes within a running turn (the registry, already mutated by
// materialization during dispatch) on top of the caller-supplied template.
func resolveInputWithRegistry(template capability.ResolveInput, reg *toolregistry.ToolRegistry) capability.ResolveInput {
	template.Registry = reg
	return template
}
