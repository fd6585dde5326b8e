package oasis

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStreamEventTypeValues(t *testing.T) {
	tests := []struct {
		got  StreamEventType
		want string
	}{
		{EventTextDelta, "text-delta"},
		{EventToolCallStart, "tool-call-start"},
		{EventToolCallResult, "tool-call-result"},
		{EventAgentStart, "agent-start"},
		{EventAgentFinish, "agent-finish"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("event type = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStreamEventOmitsEmptyFields(t *testing.T) {
	ev := StreamEvent{Type: EventTextDelta, Content: "hi"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"name"`, `"args"`} {
		if strings.Contains(string(data), field) {
			t.Errorf("expected %s omitted from zero-value event, got %s", field, data)
		}
	}
	if !strings.Contains(string(data), `"content":"hi"`) {
		t.Errorf("missing content field: %s", data)
	}
}

func TestStreamEventToolCallStartCarriesArgs(t *testing.T) {
	ev := StreamEvent{
		Type: EventToolCallStart,
		Name: "search",
		Args: json.RawMessage(`{"q":"test"}`),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var decoded StreamEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Name != "search" {
		t.Errorf("Name = %q, want %q", decoded.Name, "search")
	}
	if string(decoded.Args) != `{"q":"test"}` {
		t.Errorf("Args = %s, want %s", decoded.Args, `{"q":"test"}`)
	}
}
