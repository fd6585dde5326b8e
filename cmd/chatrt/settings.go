package main

import (
	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/internal/config"
	"github.com/nevindra/chatrt/statemachine"
)

// toToolFormat maps the TOML string a user writes into ToolsConfig to the
// wire-shape enum the capability resolver and agenticloop key everything on.
func toToolFormat(s string) chatproto.ToolFormat {
	switch s {
	case "hermes":
		return chatproto.ToolFormatHermes
	case "gemini":
		return chatproto.ToolFormatGemini
	case "granite":
		return chatproto.ToolFormatGranite
	case "harmony":
		return chatproto.ToolFormatHarmony
	case "text":
		return chatproto.ToolFormatTextBased
	default:
		return chatproto.ToolFormatOpenAI
	}
}

func toFormatName(s string) chatproto.ToolCallFormatName {
	switch s {
	case "mistral":
		return chatproto.FormatMistral
	case "pythonic":
		return chatproto.FormatPythonic
	case "pure_json":
		return chatproto.FormatPureJSON
	case "native":
		return chatproto.FormatNative
	case "code_mode":
		return chatproto.FormatCodeMode
	default:
		return chatproto.FormatHermes
	}
}

func toFormatNames(ss []string) []chatproto.ToolCallFormatName {
	out := make([]chatproto.ToolCallFormatName, 0, len(ss))
	for _, s := range ss {
		out = append(out, toFormatName(s))
	}
	return out
}

// tier1Settings turns the persisted ToolsConfig into statemachine's Tier 1
// input, resolving OperationalMode once at startup — settings changes mid-
// process would require re-deriving this, which this reference entrypoint
// doesn't support (restart to pick up a changed chatrt.toml).
func tier1Settings(t config.ToolsConfig, hasDBSources bool) (statemachine.OperationalMode, map[string]bool) {
	return statemachine.ResolveSettings(statemachine.Settings{
		RagEnabled:         t.RagEnabled,
		SQLEnabled:         t.SQLEnabled,
		PythonEnabled:      t.PythonEnabled,
		MCPEnabled:         t.MCPEnabled,
		DeferredMCPTools:   t.DeferredMCPTools,
		HasDatabaseSources: hasDBSources,
	}, statemachine.LaunchFilter{AllowAllBuiltins: true})
}

// resolveTemplate builds the part of capability.ResolveInput that's fixed
// for the whole process lifetime; RunTurn stamps in the live Registry each
// round via its own resolveInputWithRegistry.
func resolveTemplate(t config.ToolsConfig, enabledBuiltins map[string]bool, hasDBSources bool) capability.ResolveInput {
	servers := make([]capability.MCPServerConfig, 0, len(t.MCPServers))
	for _, s := range t.MCPServers {
		servers = append(servers, capability.MCPServerConfig{
			ServerID:         s.ServerID,
			IsDatabaseSource: s.IsDatabaseSource,
			DeferTools:       s.DeferTools,
		})
	}

	return capability.ResolveInput{
		EnableToolSearch:          enabledBuiltins[capability.BuiltinToolSearch],
		EnableSchemaSearch:        enabledBuiltins[capability.BuiltinSchemaSearch],
		EnableSQLSelect:           enabledBuiltins[capability.BuiltinSQLSelect],
		EnablePython:              enabledBuiltins[capability.BuiltinPythonExecution],
		EnableRagSearch:           enabledBuiltins[capability.BuiltinRagSearch],
		HasEnabledDatabaseSources: hasDBSources,
		ModelSupportsNative:       t.ModelSupportsNative,
		ModelToolFormat:           toToolFormat(t.ModelToolFormat),
		FormatConfig: chatproto.ToolCallFormatConfig{
			Enabled: toFormatNames(t.EnabledFormats),
			Primary: toFormatName(t.PrimaryFormat),
		},
		MCPServers: servers,
		Filter:     capability.ToolLaunchFilter{AllowAll: true},
	}
}

func promptContext(t config.ToolsConfig, systemPrompt string) statemachine.PromptContext {
	return statemachine.PromptContext{
		BasePrompt:      systemPrompt,
		ToolCallFormat:  t.PrimaryFormat,
		ModelToolFormat: t.ModelToolFormat,
		PythonPrimary:   t.PrimaryFormat == "code_mode",
	}
}
