package agenticloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/dispatch"
	"github.com/nevindra/chatrt/statemachine"
)

// DiscoveryResult bundles the two auto-discovery envelopes (empty when that
// pass didn't run) plus the StateEvents Tier 2 should fold, in the order
// they happened.
type DiscoveryResult struct {
	ToolSearchEnvelope   string
	SchemaSearchEnvelope string
	RagSearchEnvelope    string
	Events               []statemachine.StateEvent
}

// autoDiscover runs the tool_search, schema_search and rag_search builtins
// (each only when available) against the user's prompt before the first
// model call of a turn, so a turn that would otherwise need a dedicated
// discovery round starts with relevant tools, table schemas and passages
// already in context. Ported from auto_discovery.rs's
// perform_auto_discovery_for_prompt, reimplemented here as synthetic
// builtin calls through the same Dispatcher every other tool call goes
// through, rather than a second copy of the embedding/ranking logic.
func autoDiscover(ctx context.Context, d ToolDispatcher, caps capability.ResolvedToolCapabilities, caller, prompt string) DiscoveryResult {
	var result DiscoveryResult

	if strings.TrimSpace(prompt) == "" {
		return result
	}

	if caps.AvailableBuiltins[capability.BuiltinToolSearch] {
		if out, ok := autoToolSearch(ctx, d, caps, caller, prompt); ok {
			result.ToolSearchEnvelope = out.Envelope
			result.Events = append(result.Events, out.Event)
		}
	}

	if caps.AvailableBuiltins[capability.BuiltinSchemaSearch] {
		if out, ok := autoSchemaSearch(ctx, d, caps, prompt); ok {
			result.SchemaSearchEnvelope = out.Envelope
			result.Events = append(result.Events, out.Event)
		}
	}

	if caps.AvailableBuiltins[capability.BuiltinRagSearch] {
		if out, ok := autoRagSearch(ctx, d, caps, prompt); ok {
			result.RagSearchEnvelope = out.Envelope
			result.Events = append(result.Events, out.Event)
		}
	}

	return result
}

// autoToolSearch skips entirely when there is nothing deferred to discover
// (the Dispatcher's own dispatchToolSearch already no-ops gracefully on an
// empty hit set, but skipping here avoids spending an embedding call on a
// turn where nothing could possibly be materialized).
func autoToolSearch(ctx context.Context, d ToolDispatcher, caps capability.ResolvedToolCapabilities, caller, prompt string) (dispatch.Outcome, bool) {
	if len(caps.DeferredMCPTools) == 0 {
		return dispatch.Outcome{}, false
	}
	call := syntheticCall(capability.BuiltinToolSearch, prompt)
	format := formatForBuiltin(caps)
	return d.Dispatch(ctx, call, format, caller, ""), true
}

// autoSchemaSearch mirrors auto_schema_search_for_prompt's fallback
// behavior: with no enabled database sources there is nothing to search, so
// it skips outright; otherwise it delegates to the Dispatcher exactly like
// any other schema_search call. The "0 tables cached" warning and
// "include every table when there are ten or fewer" fallbacks from the
// original are the Dispatcher's own dispatchSchemaSearch's job to reproduce
// once it is handed real database sources — this pass only decides whether
// to run the search at all.
func autoSchemaSearch(ctx context.Context, d ToolDispatcher, caps capability.ResolvedToolCapabilities, prompt string) (dispatch.Outcome, bool) {
	if !caps.AvailableBuiltins[capability.BuiltinSchemaSearch] {
		return dispatch.Outcome{}, false
	}
	call := syntheticCall(capability.BuiltinSchemaSearch, prompt)
	format := formatForBuiltin(caps)
	return d.Dispatch(ctx, call, format, "", ""), true
}

// autoRagSearch retrieves passages for the turn's prompt up front, the same
// way autoSchemaSearch primes table context for a SQL-mode turn: a chat
// whose mode resolved to RAG gets its context injected before the model
// ever has to ask for it.
func autoRagSearch(ctx context.Context, d ToolDispatcher, caps capability.ResolvedToolCapabilities, prompt string) (dispatch.Outcome, bool) {
	call := syntheticCall(capability.BuiltinRagSearch, prompt)
	format := formatForBuiltin(caps)
	return d.Dispatch(ctx, call, format, "", ""), true
}

func syntheticCall(tool, query string) chatproto.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return chatproto.ToolCall{Server: "builtin", Tool: tool, Arguments: json.RawMessage(args)}
}

func formatForBuiltin(caps capability.ResolvedToolCapabilities) chatproto.ToolFormat {
	if caps.ModelSupportsNative {
		return caps.ModelToolFormat
	}
	return chatproto.ToolFormatTextBased
}

// warnNoCachedTables is the message a caller should surface instead of
// running auto-discovery at all when a database source is enabled but its
// schema has never been indexed — ported verbatim from the original's
// zero-tables-cached branch.
func warnNoCachedTables(source string) string {
	return fmt.Sprintf("WARNING: no cached schema found for %q; refresh its schema index before running a query against it.", source)
}
