package toolparse

import "testing"

func TestParseHermesToolCalls_Basic(t *testing.T) {
	content := `I'll check the weather.
<tool_call>{"name": "weather___get_forecast", "arguments": {"city": "Lisbon"}}</tool_call>`
	calls := ParseHermesToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Server != "weather" || calls[0].Tool != "get_forecast" {
		t.Errorf("unexpected server/tool: %+v", calls[0])
	}
	if calls[0].Arguments["city"] != "Lisbon" {
		t.Errorf("unexpected arguments: %+v", calls[0].Arguments)
	}
}

func TestParseHermesToolCalls_UnclosedTag(t *testing.T) {
	content := `<tool_call>{"name": "search", "arguments": {"q": "go"}}`
	calls := ParseHermesToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call for unclosed tag, got %d", len(calls))
	}
}

func TestParseHermesToolCalls_MalformedJSONRepaired(t *testing.T) {
	content := `<tool_call>{'name': 'search', 'arguments': {'q': 'go', 'strict': True,}}</tool_call>`
	calls := ParseHermesToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["strict"] != true {
		t.Errorf("expected python True repaired to bool true, got %+v", calls[0].Arguments["strict"])
	}
}

func TestParseTaggedToolCalls(t *testing.T) {
	content := `[TOOL_CALLS][{"name": "db___sql_select", "arguments": {"query": "select 1"}}][/TOOL_CALLS]`
	calls := ParseTaggedToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "sql_select" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParseTaggedToolCalls_BracketStripRetry(t *testing.T) {
	// Three bracket layers: the first pass unwraps only one and finds no named
	// entry, so only the bracket-strip retry recovers the call.
	content := `[TOOL_CALLS][[[{"name": "search", "arguments": {}}]]]`
	calls := ParseTaggedToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "search" {
		t.Fatalf("unexpected result after bracket-strip retry: %+v", calls)
	}
}

func TestParseBraintrustToolCalls(t *testing.T) {
	content := `<function=python_execution>{"code": "print(1)"}</function>`
	calls := ParseBraintrustToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "python_execution" {
		t.Fatalf("unexpected result: %+v", calls)
	}
	if calls[0].Arguments["code"] != "print(1)" {
		t.Errorf("unexpected arguments: %+v", calls[0].Arguments)
	}
}

func TestParseMarkdownJSONToolCalls(t *testing.T) {
	content := "```json\n{\"tool_name\": \"tool_search\", \"parameters\": {\"query\": \"pdf\"}}\n```"
	calls := ParseMarkdownJSONToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "tool_search" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParsePythonicToolCalls(t *testing.T) {
	content := `search_web(query="go concurrency", limit=5)`
	calls := ParsePythonicToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["query"] != "go concurrency" {
		t.Errorf("unexpected query arg: %+v", calls[0].Arguments)
	}
	if calls[0].Arguments["limit"] != float64(5) {
		t.Errorf("unexpected limit arg: %+v", calls[0].Arguments)
	}
}

func TestParsePythonicToolCalls_IgnoresBuiltins(t *testing.T) {
	content := `print("hello")`
	calls := ParsePythonicToolCalls(content)
	if len(calls) != 0 {
		t.Fatalf("expected builtins to be filtered out, got %+v", calls)
	}
}

func TestParseHarmonyToolCalls(t *testing.T) {
	content := "<|start|>assistant<|channel|>commentary to=functions.weather___get_forecast <|constrain|>json<|message|>{\"city\": \"Porto\"}<|call|>"
	calls := ParseHarmonyToolCalls(content)
	if len(calls) != 1 || calls[0].Server != "weather" || calls[0].Tool != "get_forecast" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParseGraniteToolCalls(t *testing.T) {
	content := `<function_call>{"name": "schema_search", "arguments": {"table": "orders"}}</function_call>`
	calls := ParseGraniteToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "schema_search" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParseGeminiToolCalls(t *testing.T) {
	content := `{"functionCall": {"name": "tool_search", "args": {"query": "vector db"}}}`
	calls := ParseGeminiToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "tool_search" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParsePureJSONToolCalls(t *testing.T) {
	content := `{"name": "sql_select", "arguments": {"query": "select * from t"}}`
	calls := ParsePureJSONToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "sql_select" {
		t.Fatalf("unexpected result: %+v", calls)
	}
}

func TestParsePureJSONToolCalls_FallsBackOnProse(t *testing.T) {
	content := `Sure, I'll call it: <tool_call>{"name": "search", "arguments": {}}</tool_call>`
	calls := ParsePureJSONToolCalls(content)
	if len(calls) != 1 || calls[0].Tool != "search" {
		t.Fatalf("expected fallback cascade to recover the Hermes tag, got %+v", calls)
	}
}

func TestNoToolCallReturnsEmpty(t *testing.T) {
	content := "Just a regular answer with no tool calls in it at all."
	if calls := ParseHermesToolCalls(content); len(calls) != 0 {
		t.Errorf("expected no calls, got %+v", calls)
	}
}

func TestDetectPythonCode_ExplicitFence(t *testing.T) {
	content := "Here you go:\n```python\nprint('hi')\n```"
	detected := DetectPythonCode(content)
	if len(detected) != 1 || !detected[0].ExplicitPython {
		t.Fatalf("expected one explicit python block, got %+v", detected)
	}
}

func TestDetectPythonCode_GenericFenceFiltered(t *testing.T) {
	content := "```\nconst x = 1;\nfunction f() { return x; }\n```"
	detected := DetectPythonCode(content)
	if len(detected) != 0 {
		t.Fatalf("expected JS fence to be rejected, got %+v", detected)
	}
}

func TestDetectPythonCode_TriggerPhrase(t *testing.T) {
	content := "execute this:\n    import math\n    print(math.pi)\n"
	detected := DetectPythonCode(content)
	if len(detected) != 1 {
		t.Fatalf("expected one detected block from trigger phrase, got %+v", detected)
	}
	if detected[0].Code != "import math\nprint(math.pi)" {
		t.Errorf("unexpected dedented code: %q", detected[0].Code)
	}
}

func TestRepairMalformedJSON(t *testing.T) {
	in := `{"a": True, "b": None, "c": 1,}`
	out := RepairMalformedJSON(in)
	v := ParseJSONLenient(out)
	obj, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("expected repaired JSON to parse, got %v", v)
	}
	if obj["a"] != true || obj["b"] != nil {
		t.Errorf("unexpected repaired values: %+v", obj)
	}
}

func TestExtractBalancedJSONBraces(t *testing.T) {
	in := `prefix {"a": {"b": 1}} suffix`
	got := ExtractBalancedJSONBraces(in)
	want := `{"a": {"b": 1}}`
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
