package chatproto

// ToolFormat identifies a model family's native tool-calling wire shape.
// This is distinct from ToolCallFormatName: ToolFormat describes what the
// model itself natively speaks; ToolCallFormatName describes which text-based
// parsing strategy we ask the model to use and scan for.
type ToolFormat int

const (
	ToolFormatOpenAI ToolFormat = iota
	ToolFormatHermes
	ToolFormatGemini
	ToolFormatGranite
	ToolFormatHarmony
	ToolFormatTextBased
)

// ToolCallFormatName is one of the text-based tool-calling conventions the
// parser cascade knows how to scan for.
type ToolCallFormatName int

const (
	FormatHermes ToolCallFormatName = iota
	FormatMistral
	FormatPythonic
	FormatPureJSON
	FormatNative
	FormatCodeMode
)

// ToolCallFormatConfig is the settings-derived set of enabled text formats
// plus which one is primary. Mirrors settings.ToolCallFormatConfig from the
// original implementation.
type ToolCallFormatConfig struct {
	Enabled []ToolCallFormatName
	Primary ToolCallFormatName
}

func (c ToolCallFormatConfig) IsEnabled(name ToolCallFormatName) bool {
	for _, f := range c.Enabled {
		if f == name {
			return true
		}
	}
	return false
}

// ResolvePrimaryForPrompt applies the fallback chain: Native requires the
// model to support native tool calling; CodeMode requires python_execution
// to be available. If the configured primary fails its precondition, fall
// back to the first enabled format that isn't itself gated the same way.
func (c ToolCallFormatConfig) ResolvePrimaryForPrompt(codeModeAvailable, nativeAvailable bool) ToolCallFormatName {
	ok := func(f ToolCallFormatName) bool {
		switch f {
		case FormatNative:
			return nativeAvailable
		case FormatCodeMode:
			return codeModeAvailable
		default:
			return true
		}
	}

	if ok(c.Primary) {
		return c.Primary
	}
	for _, f := range c.Enabled {
		if ok(f) {
			return f
		}
	}
	return c.Primary
}
