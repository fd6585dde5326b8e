// Package statemachine implements the three-tier state machine hierarchy:
// Settings (Tier 1) resolves what the user configured, Agentic (Tier 2)
// resolves what shape the current turn is in, Mid-Turn (Tier 3) resolves
// whether another model round is needed. Kept as three files mirroring the
// three-module split upstream, on purpose — each tier has a distinct
// lifecycle (recomputed on settings change, once per turn, reset every
// turn) and merging them would blur that.
package statemachine

// OperationalMode is Tier 1's output: an enumerated snapshot of which
// capabilities the user's settings enable for this chat.
type OperationalMode int

const (
	ModeConversational OperationalMode = iota
	ModeRag
	ModeSQL
	ModeCode
	ModeTools
	ModeHybrid
)

func (m OperationalMode) String() string {
	switch m {
	case ModeConversational:
		return "conversational"
	case ModeRag:
		return "rag"
	case ModeSQL:
		return "sql"
	case ModeCode:
		return "code"
	case ModeTools:
		return "tools"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Capability is one of the enumerated abilities whose union defines the
// current AgenticState.
type Capability int

const (
	CapRag Capability = iota
	CapSQLQuery
	CapMCPTools
	CapPythonExecution
	CapSchemaSearch
	CapToolSearch
)

// Settings is the subset of persisted configuration Tier 1 reads. It is
// intentionally narrow — only the fields that decide OperationalMode and
// the built-in tool set, not the full settings document.
type Settings struct {
	RagEnabled        bool
	SQLEnabled        bool
	PythonEnabled     bool
	MCPEnabled        bool
	DeferredMCPTools  bool
	HasDatabaseSources bool
}

// LaunchFilter restricts which built-ins are available regardless of what
// settings would otherwise enable — the command-line/environment launch
// configuration's override.
type LaunchFilter struct {
	AllowAllBuiltins bool
	AllowedBuiltins  map[string]bool
}

func (f LaunchFilter) allows(name string) bool {
	if f.AllowAllBuiltins {
		return true
	}
	if f.AllowedBuiltins == nil {
		return true // unset filter behaves as allow-all, matching ToolSchema.AllowedForCaller's default
	}
	return f.AllowedBuiltins[name]
}

// ResolveSettings is Tier 1: a pure function of persisted settings plus a
// launch-time filter. No I/O, recomputed whenever settings mutate.
func ResolveSettings(s Settings, filter LaunchFilter) (OperationalMode, map[string]bool) {
	enabled := map[string]bool{}
	caps := []Capability{}

	if s.RagEnabled {
		caps = append(caps, CapRag)
		if filter.allows("rag_search") {
			enabled["rag_search"] = true
		}
	}
	if s.SQLEnabled && s.HasDatabaseSources {
		caps = append(caps, CapSQLQuery, CapSchemaSearch)
		if filter.allows("sql_select") {
			enabled["sql_select"] = true
		}
		if filter.allows("schema_search") {
			enabled["schema_search"] = true
		}
	}
	if s.PythonEnabled {
		caps = append(caps, CapPythonExecution)
		if filter.allows("python_execution") {
			enabled["python_execution"] = true
		}
	}
	if s.MCPEnabled {
		caps = append(caps, CapMCPTools)
		if s.DeferredMCPTools && filter.allows("tool_search") {
			caps = append(caps, CapToolSearch)
			enabled["tool_search"] = true
		}
	}

	return modeFromCapabilities(caps), enabled
}

func modeFromCapabilities(caps []Capability) OperationalMode {
	switch len(caps) {
	case 0:
		return ModeConversational
	case 1:
		switch caps[0] {
		case CapRag:
			return ModeRag
		case CapSQLQuery, CapSchemaSearch:
			return ModeSQL
		case CapPythonExecution:
			return ModeCode
		case CapMCPTools, CapToolSearch:
			return ModeTools
		}
		return ModeConversational
	default:
		// More than one capability present is still a single named mode
		// when they're all facets of the same family (SQL query + schema
		// search), otherwise Hybrid.
		if allIn(caps, CapSQLQuery, CapSchemaSearch) {
			return ModeSQL
		}
		if allIn(caps, CapMCPTools, CapToolSearch) {
			return ModeTools
		}
		return ModeHybrid
	}
}

func allIn(caps []Capability, allowed ...Capability) bool {
	set := map[Capability]bool{}
	for _, c := range allowed {
		set[c] = true
	}
	for _, c := range caps {
		if !set[c] {
			return false
		}
	}
	return true
}
