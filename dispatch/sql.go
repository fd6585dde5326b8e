package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolparse"
)

type sqlSelectArgs struct {
	Source string `json:"source"`
	SQL    string `json:"sql"`
}

// hasLimitClause matches a trailing (optionally semicolon-terminated) LIMIT
// clause, case-insensitively, so ensureRowCap never double-appends one.
var hasLimitClause = regexp.MustCompile(`(?is)\blimit\s+\d+\s*;?\s*$`)

const defaultRowCap = 100

// dispatchSQL enforces the default row cap and per-source enablement, then
// runs the statement via the Database Toolbox actor. A failed query gets
// the schema-aware recovery guidance attached so the model can repair its
// own query instead of repeating the same mistake.
func (d *Dispatcher) dispatchSQL(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, schemaContext string) Outcome {
	if d.DB == nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("dispatch: sql_select is not configured"), "", statemachine.EventSQLExecuted)
	}

	var args sqlSelectArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.SQL) == "" {
		return d.errorOutcomeKind(call, format, fmt.Errorf("sql_select: expected a non-empty %q argument", "sql"), "", statemachine.EventSQLExecuted)
	}
	if len(d.EnabledSources) > 0 && !d.EnabledSources[args.Source] {
		return d.errorOutcomeKind(call, format, fmt.Errorf("sql_select: source %q is not enabled", args.Source), schemaContext, statemachine.EventSQLExecuted)
	}

	sqlText := ensureRowCap(args.SQL, defaultRowCap)

	result, err := d.DB.ExecuteSql(ctx, args.Source, sqlText)
	if err != nil {
		body, _ := json.Marshal(map[string]string{"sql_executed": sqlText, "error": err.Error()})
		envelope := toolparse.FormatToolResult(call, string(body), true, format, schemaContext)
		event := statemachine.StateEvent{Kind: statemachine.EventSQLExecuted, RowCount: 0, QueryContext: sqlText}
		return Outcome{Envelope: envelope, Event: event}
	}

	body, _ := json.Marshal(struct {
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
	}{Columns: result.Columns, Rows: result.Rows})

	envelope := toolparse.FormatToolResult(call, string(body), false, format, "")
	event := statemachine.StateEvent{Kind: statemachine.EventSQLExecuted, RowCount: len(result.Rows), QueryContext: sqlText}
	return Outcome{Envelope: envelope, Event: event}
}

// ensureRowCap appends "LIMIT n" when the statement has none, protecting
// against a model-generated query that would otherwise return an unbounded
// result set into the conversation.
func ensureRowCap(sql string, n int) string {
	if hasLimitClause.MatchString(sql) {
		return sql
	}
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	return fmt.Sprintf("%s LIMIT %d", trimmed, n)
}
