package toolparse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/chatrt/chatproto"
)

// sqlSuccessGuidance tells the model that sql_select results have already
// been rendered to the user, so it shouldn't repeat the full table back.
const sqlSuccessGuidance = "\n\n(Results have already been displayed to the user in a table. Summarize or answer the question; do not repeat the raw rows.)"

// FormatToolResult renders a tool's outcome back into the conversation in
// whichever envelope the active ToolFormat expects. schemaContext, when
// non-empty, is appended as SQL error-recovery guidance for a failed
// sql_select call.
func FormatToolResult(call chatproto.ToolCall, result string, isError bool, format chatproto.ToolFormat, schemaContext string) string {
	name := call.CombinedName()

	if !isError && call.Tool == "sql_select" {
		result += sqlSuccessGuidance
	}
	if isError && call.Tool == "sql_select" && schemaContext != "" {
		result += buildSQLErrorRecoveryGuidance(result, schemaContext)
	}

	switch format {
	case chatproto.ToolFormatHermes:
		tag := "tool_response"
		return fmt.Sprintf("<%s>\n%s\n</%s>", tag, result, tag)
	case chatproto.ToolFormatGemini:
		escaped := strings.ReplaceAll(result, `"`, `\"`)
		return fmt.Sprintf(`{"function_response": {"name": %q, "response": "%s"}}`, name, escaped)
	case chatproto.ToolFormatGranite:
		return fmt.Sprintf("<function_response>\n%s\n</function_response>", result)
	case chatproto.ToolFormatHarmony:
		return fmt.Sprintf("<|start|>tool to=%s<|message|>%s<|end|>", name, result)
	default: // ToolFormatOpenAI, ToolFormatTextBased
		errAttr := ""
		if isError {
			errAttr = ` error="true"`
		}
		return fmt.Sprintf(`<tool_result server=%q tool=%q%s>%s</tool_result>`, call.Server, call.Tool, errAttr, result)
	}
}

// buildSQLErrorRecoveryGuidance extracts the failed statement and error
// message from a JSON-shaped tool result and appends schema-aware recovery
// guidance so the model can retry with a corrected query.
func buildSQLErrorRecoveryGuidance(result, schemaContext string) string {
	var parsed struct {
		SQLExecuted string `json:"sql_executed"`
		Error       string `json:"error"`
	}
	executed, errMsg := "", result
	if json.Unmarshal([]byte(result), &parsed) == nil {
		executed = parsed.SQLExecuted
		if parsed.Error != "" {
			errMsg = parsed.Error
		}
	}

	var b strings.Builder
	b.WriteString("\n\nThe query failed")
	if executed != "" {
		fmt.Fprintf(&b, " (`%s`)", executed)
	}
	fmt.Fprintf(&b, ": %s\n\n", errMsg)
	b.WriteString("Available schema:\n")
	b.WriteString(schemaContext)
	b.WriteString("\n\nRevise the query against the schema above and retry sql_select.")
	return b.String()
}
