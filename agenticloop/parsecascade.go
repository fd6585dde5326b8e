package agenticloop

import (
	"github.com/nevindra/chatrt/capability"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/toolparse"
)

// textFormatParser is the per-format entry point the cascade tries. The
// Hermes and PureJSON parsers fall back internally through
// hermesFallbackCascade when their own convention isn't found (see
// toolparse/hermes.go); the Mistral (tagged) and Pythonic parsers match only
// their own convention. Trying a handful of formats in priority order is
// enough — there is no need to additionally run every auxiliary scanner
// (Braintrust, Markdown, Harmony, Granite, Gemini) at this layer.
var textFormatParsers = map[chatproto.ToolCallFormatName]func(string) []toolparse.ParsedToolCall{
	chatproto.FormatHermes:   toolparse.ParseHermesToolCalls,
	chatproto.FormatMistral:  toolparse.ParseTaggedToolCalls,
	chatproto.FormatPythonic: toolparse.ParsePythonicToolCalls,
	chatproto.FormatPureJSON: toolparse.ParsePureJSONToolCalls,
}

// nativeTextFallbackParsers covers a provider whose native tool-calling
// convention leaks into plain Content instead of arriving as a structured
// ChatResponse.ToolCalls list — some Gemini/Granite/Harmony-family backends
// do this when run through an OpenAI-compatible shim that doesn't fully
// translate the response.
var nativeTextFallbackParsers = map[chatproto.ToolFormat]func(string) []toolparse.ParsedToolCall{
	chatproto.ToolFormatGemini:  toolparse.ParseGeminiToolCalls,
	chatproto.ToolFormatGranite: toolparse.ParseGraniteToolCalls,
	chatproto.ToolFormatHarmony: toolparse.ParseHarmonyToolCalls,
	chatproto.ToolFormatHermes:  toolparse.ParseHermesToolCalls,
}

// ParseModelResponse extracts tool calls from one finished model round.
// Native-format responses already carry structured ToolCalls — those win
// outright. Otherwise it tries the resolved primary text format first, then
// falls through EnabledFormats in order, stopping at the first format that
// finds anything; a native-format response with an empty ToolCalls list but
// non-empty Content gets one more try through the model's own native
// text-fallback scanner before giving up.
func ParseModelResponse(resp chatproto.ChatResponse, caps capability.ResolvedToolCapabilities) []chatproto.ToolCall {
	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls
	}
	if resp.Content == "" {
		return nil
	}

	if caps.UseNativeTools {
		if parser, ok := nativeTextFallbackParsers[caps.ModelToolFormat]; ok {
			if calls := parser(resp.Content); len(calls) > 0 {
				return convertParsed(calls)
			}
		}
		return nil
	}

	tried := map[chatproto.ToolCallFormatName]bool{}
	order := append([]chatproto.ToolCallFormatName{caps.PrimaryFormat}, caps.EnabledFormats...)
	for _, format := range order {
		if tried[format] {
			continue
		}
		tried[format] = true
		parser, ok := textFormatParsers[format]
		if !ok {
			continue
		}
		if calls := parser(resp.Content); len(calls) > 0 {
			return convertParsed(calls)
		}
	}
	return nil
}

func convertParsed(calls []toolparse.ParsedToolCall) []chatproto.ToolCall {
	out := make([]chatproto.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = chatproto.ToolCall{
			ID:        c.ID,
			Server:    c.Server,
			Tool:      c.Tool,
			Arguments: toolparse.ArgumentsJSON(c.Arguments),
			Raw:       c.Raw,
		}
	}
	return out
}
