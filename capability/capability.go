// Package capability resolves, once per turn, exactly which tools a model
// may see and in which wire format — the Tool Capability Resolver. Ported
// from tool_capability.rs's ResolvedToolCapabilities/ToolCapabilityResolver.
package capability

import (
	"sort"

	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/toolregistry"
)

const (
	BuiltinPythonExecution = "python_execution"
	BuiltinToolSearch      = "tool_search"
	BuiltinSchemaSearch    = "schema_search"
	BuiltinSQLSelect       = "sql_select"
	BuiltinRagSearch       = "rag_search"
)

// defaultMaxMCPToolsInPrompt is ported as-is from calculate_max_mcp_tools's
// current constant. Decided Open Question: kept as a constant rather than
// scaled by model context size, matching the original's own TODO (see
// DESIGN.md).
const defaultMaxMCPToolsInPrompt = 2

// MCPServerConfig is the subset of a connected MCP server's configuration
// the resolver needs.
type MCPServerConfig struct {
	ServerID       string
	IsDatabaseSource bool
	DeferTools     bool
}

// ActiveMCPTool pairs a materialized tool with the server it came from.
type ActiveMCPTool struct {
	ServerID string
	Schema   toolregistry.ToolSchema
}

// ResolvedToolCapabilities is the per-turn snapshot the system prompt and
// dispatcher are built from.
type ResolvedToolCapabilities struct {
	AvailableBuiltins   map[string]bool
	PrimaryFormat       chatproto.ToolCallFormatName
	EnabledFormats      []chatproto.ToolCallFormatName
	UseNativeTools      bool
	ActiveMCPTools      []ActiveMCPTool
	DeferredMCPTools    []ActiveMCPTool
	ModelSupportsNative bool
	ModelToolFormat     chatproto.ToolFormat
	MaxMCPToolsInPrompt int
}

// ToolLaunchFilter restricts resolution to an explicit allowlist, mirroring
// the launch-time command-line/env override.
type ToolLaunchFilter struct {
	AllowAll        bool
	AllowedBuiltins map[string]bool
	AllowedServers  map[string]bool
	AllowedTools    map[toolregistry.Key]bool
}

func (f ToolLaunchFilter) builtinAllowed(name string) bool {
	if f.AllowAll || f.AllowedBuiltins == nil {
		return true
	}
	return f.AllowedBuiltins[name]
}

func (f ToolLaunchFilter) serverAllowed(serverID string) bool {
	if f.AllowAll || f.AllowedServers == nil {
		return true
	}
	return f.AllowedServers[serverID]
}

func (f ToolLaunchFilter) toolAllowed(key toolregistry.Key) bool {
	if f.AllowAll || f.AllowedTools == nil {
		return true
	}
	return f.AllowedTools[key]
}

// ResolveInput bundles everything the resolver needs for one turn.
type ResolveInput struct {
	EnableToolSearch   bool
	EnableSchemaSearch bool
	EnableSQLSelect    bool
	EnablePython       bool
	EnableRagSearch    bool

	HasEnabledDatabaseSources bool

	ModelSupportsNative bool
	ModelToolFormat     chatproto.ToolFormat

	FormatConfig chatproto.ToolCallFormatConfig

	MCPServers []MCPServerConfig
	Filter     ToolLaunchFilter
	Registry   *toolregistry.ToolRegistry
}

// Resolve produces the ResolvedToolCapabilities snapshot for one turn.
func Resolve(in ResolveInput) ResolvedToolCapabilities {
	builtins := determineAvailableBuiltins(in)
	codeModeAvailable := builtins[BuiltinPythonExecution]

	primary := in.FormatConfig.ResolvePrimaryForPrompt(codeModeAvailable, in.ModelSupportsNative)
	enabled := selectFormats(in.FormatConfig, codeModeAvailable, in.ModelSupportsNative)

	// The resolved primary always leads EnabledFormats.
	ordered := []chatproto.ToolCallFormatName{primary}
	for _, f := range enabled {
		if f != primary {
			ordered = append(ordered, f)
		}
	}
	enabled = ordered

	active, deferred := categorizeMCPTools(in)

	return ResolvedToolCapabilities{
		AvailableBuiltins:   builtins,
		PrimaryFormat:       primary,
		EnabledFormats:      enabled,
		UseNativeTools:      primary == chatproto.FormatNative,
		ActiveMCPTools:      active,
		DeferredMCPTools:    deferred,
		ModelSupportsNative: in.ModelSupportsNative,
		ModelToolFormat:     in.ModelToolFormat,
		MaxMCPToolsInPrompt: calculateMaxMCPTools(),
	}
}

// extractEnabledBuiltins reads the five boolean settings flags that gate
// builtin availability, before further preconditions (deferred tools
// present, database sources present) are checked.
func extractEnabledBuiltins(in ResolveInput) map[string]bool {
	flags := map[string]bool{
		BuiltinPythonExecution: in.EnablePython,
		BuiltinToolSearch:      in.EnableToolSearch,
		BuiltinSchemaSearch:    in.EnableSchemaSearch,
		BuiltinSQLSelect:       in.EnableSQLSelect,
		BuiltinRagSearch:       in.EnableRagSearch,
	}
	return flags
}

// determineAvailableBuiltins applies each builtin's precondition on top of
// the settings flags: python_execution needs Code-Mode format enabled;
// tool_search needs at least one deferred non-database MCP tool; schema
// search/sql_select need at least one enabled database source; rag_search
// has no further precondition beyond the settings flag itself (the caller
// only sets EnableRagSearch when a store and embedder are actually wired).
func determineAvailableBuiltins(in ResolveInput) map[string]bool {
	flags := extractEnabledBuiltins(in)
	out := map[string]bool{}

	if flags[BuiltinPythonExecution] && in.FormatConfig.IsEnabled(chatproto.FormatCodeMode) && in.Filter.builtinAllowed(BuiltinPythonExecution) {
		out[BuiltinPythonExecution] = true
	}
	if flags[BuiltinToolSearch] && hasDeferredMCPTools(in) && in.Filter.builtinAllowed(BuiltinToolSearch) {
		out[BuiltinToolSearch] = true
	}
	if flags[BuiltinSchemaSearch] && in.HasEnabledDatabaseSources && in.Filter.builtinAllowed(BuiltinSchemaSearch) {
		out[BuiltinSchemaSearch] = true
	}
	if flags[BuiltinSQLSelect] && in.HasEnabledDatabaseSources && in.Filter.builtinAllowed(BuiltinSQLSelect) {
		out[BuiltinSQLSelect] = true
	}
	if flags[BuiltinRagSearch] && in.Filter.builtinAllowed(BuiltinRagSearch) {
		out[BuiltinRagSearch] = true
	}
	return out
}

func hasDeferredMCPTools(in ResolveInput) bool {
	if in.Registry == nil {
		return false
	}
	for _, s := range in.Registry.DeferredSchemas() {
		if s.Builtin() {
			continue
		}
		if isDatabaseServer(in.MCPServers, s.ServerID) {
			continue
		}
		return true
	}
	return false
}

func isDatabaseServer(servers []MCPServerConfig, serverID string) bool {
	for _, s := range servers {
		if s.ServerID == serverID {
			return s.IsDatabaseSource
		}
	}
	return false
}

// selectFormats returns every enabled format whose precondition currently
// holds (Native needs model support, CodeMode needs python_execution), in
// configured order; Resolve then moves the primary to the front.
func selectFormats(cfg chatproto.ToolCallFormatConfig, codeModeAvailable, nativeAvailable bool) []chatproto.ToolCallFormatName {
	var out []chatproto.ToolCallFormatName
	for _, f := range cfg.Enabled {
		switch f {
		case chatproto.FormatNative:
			if !nativeAvailable {
				continue
			}
		case chatproto.FormatCodeMode:
			if !codeModeAvailable {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

// categorizeMCPTools walks every tool in the registry, excludes
// database-source servers entirely (those are surfaced only via
// sql_select/schema_search, never as ordinary MCP tools), and splits the
// rest into active (already materialized, or its server doesn't defer
// tools) versus deferred.
func categorizeMCPTools(in ResolveInput) (active, deferred []ActiveMCPTool) {
	if in.Registry == nil {
		return nil, nil
	}

	for _, s := range in.Registry.VisibleSchemas() {
		if s.Builtin() {
			continue
		}
		if !in.Filter.serverAllowed(s.ServerID) {
			continue
		}
		if isDatabaseServer(in.MCPServers, s.ServerID) {
			continue
		}
		key := toolregistry.Key{ServerID: s.ServerID, ToolName: s.Name}
		if !in.Filter.toolAllowed(key) {
			continue
		}
		active = append(active, ActiveMCPTool{ServerID: s.ServerID, Schema: s})
	}

	for _, s := range in.Registry.DeferredSchemas() {
		if s.Builtin() {
			continue
		}
		if !in.Filter.serverAllowed(s.ServerID) {
			continue
		}
		if isDatabaseServer(in.MCPServers, s.ServerID) {
			continue
		}
		key := toolregistry.Key{ServerID: s.ServerID, ToolName: s.Name}
		if !in.Filter.toolAllowed(key) {
			continue
		}
		if !serverDefers(in.MCPServers, s.ServerID) {
			active = append(active, ActiveMCPTool{ServerID: s.ServerID, Schema: s})
			continue
		}
		deferred = append(deferred, ActiveMCPTool{ServerID: s.ServerID, Schema: s})
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Schema.Name < active[j].Schema.Name })
	sort.Slice(deferred, func(i, j int) bool { return deferred[i].Schema.Name < deferred[j].Schema.Name })
	return active, deferred
}

func serverDefers(servers []MCPServerConfig, serverID string) bool {
	for _, s := range servers {
		if s.ServerID == serverID {
			return s.DeferTools
		}
	}
	return false
}

// calculateMaxMCPTools returns the constant cap on materialized MCP tools
// shown in one prompt. TODO: scale by model context size once a model
// registry exposes context length here, rather than a flat constant.
func calculateMaxMCPTools() int {
	return defaultMaxMCPToolsInPrompt
}

// GetPromptFormatInstructions returns the format-specific instruction block
// telling the model how to emit a tool call, for every format in
// EnabledFormats. Native and CodeMode need no textual instructions — the
// model either uses its native tool-calling channel or writes plain Python.
func GetPromptFormatInstructions(formats []chatproto.ToolCallFormatName) map[chatproto.ToolCallFormatName]string {
	out := map[chatproto.ToolCallFormatName]string{}
	for _, f := range formats {
		switch f {
		case chatproto.FormatHermes:
			out[f] = `To call a tool, emit exactly: <tool_call>{"name": "tool_name", "arguments": {...}}</tool_call>`
		case chatproto.FormatMistral:
			out[f] = `To call a tool, emit exactly: [TOOL_CALLS][{"name": "tool_name", "arguments": {...}}]`
		case chatproto.FormatPythonic:
			out[f] = `To call a tool, write a Python-style call expression: tool_name(arg="value")`
		case chatproto.FormatPureJSON:
			out[f] = `Respond with only a JSON object: {"name": "tool_name", "arguments": {...}}`
		case chatproto.FormatNative, chatproto.FormatCodeMode:
			// no textual instructions needed
		}
	}
	return out
}
