package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolparse"
	"github.com/nevindra/chatrt/toolregistry"
)

type searchQueryArgs struct {
	Query string `json:"query"`
}

// dispatchToolSearch embeds the query, runs nearest-neighbor over the
// registry's deferred tool embeddings (already filtered to caller-permitted,
// embedded entries by ToolRegistry.SemanticSearch), materializes every hit
// (the monotonic visibility flip — once discovered, a tool stays visible
// for the rest of the chat), and renders each as a Python function stub
// with one example call.
func (d *Dispatcher) dispatchToolSearch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat, caller string) Outcome {
	if d.Registry == nil || d.Embedder == nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("dispatch: tool_search is not configured"), "", statemachine.EventToolsMaterialized)
	}

	var args searchQueryArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return d.errorOutcomeKind(call, format, fmt.Errorf("tool_search: expected a non-empty %q argument", "query"), "", statemachine.EventToolsMaterialized)
	}

	vecs, err := d.Embedder.Embed(ctx, []string{args.Query})
	if err != nil || len(vecs) == 0 {
		return d.errorOutcomeKind(call, format, fmt.Errorf("tool_search: failed to embed query: %w", err), "", statemachine.EventToolsMaterialized)
	}

	hits := d.Registry.SemanticSearch(vecs[0], caller, d.toolSearchTopK())
	if len(hits) == 0 {
		envelope := toolparse.FormatToolResult(call, "no matching tools found for this query", false, format, "")
		return Outcome{Envelope: envelope, Event: statemachine.StateEvent{Kind: statemachine.EventToolsMaterialized}}
	}

	var b strings.Builder
	materialized := make([]string, 0, len(hits))
	for _, hit := range hits {
		schema, ok := d.Registry.Get(hit.Key)
		if !ok {
			continue
		}
		d.Registry.Materialize(hit.Key)
		materialized = append(materialized, schema.Name)
		b.WriteString(formatToolStub(schema))
		b.WriteString("\n\n")
	}

	envelope := toolparse.FormatToolResult(call, strings.TrimRight(b.String(), "\n"), false, format, "")
	event := statemachine.StateEvent{Kind: statemachine.EventToolsMaterialized, NewlyMaterialized: materialized}
	return Outcome{Envelope: envelope, Event: event}
}

// formatToolStub renders one schema as a Python function signature plus one
// example call, the shape tool_search hands back so a model running in
// Code Mode can call the newly-discovered tool directly.
func formatToolStub(schema toolregistry.ToolSchema) string {
	params := schemaProperties(schema.Parameters)
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	fnName := schema.ServerID + "___" + schema.Name
	var b strings.Builder
	fmt.Fprintf(&b, "def %s(%s):\n", fnName, strings.Join(names, ", "))
	if schema.Description != "" {
		fmt.Fprintf(&b, "    \"\"\"%s\"\"\"\n", schema.Description)
	}
	exampleArgs := make(map[string]interface{}, len(names))
	for _, n := range names {
		exampleArgs[n] = "..."
	}
	exampleJSON, _ := json.Marshal(exampleArgs)
	fmt.Fprintf(&b, "# example:\ntool_call(%q, %s)", fnName, exampleJSON)
	return b.String()
}

func schemaProperties(parameters json.RawMessage) map[string]interface{} {
	if len(parameters) == 0 {
		return nil
	}
	var doc struct {
		Properties map[string]interface{} `json:"properties"`
	}
	if json.Unmarshal(parameters, &doc) != nil {
		return nil
	}
	return doc.Properties
}

type schemaQueryArgs struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"`
}

// dispatchSchemaSearch embeds the query, runs nearest-neighbor over the
// cached per-table embeddings, then applies hybrid column selection for
// each matched table: every non-numeric column is always included
// (categorical WHERE/GROUP BY filters rarely embed well), and the
// remaining numeric columns are ranked by per-query semantic relevance,
// keeping only the top N.
func (d *Dispatcher) dispatchSchemaSearch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat) Outcome {
	if d.SchemaSearch == nil || d.DB == nil || d.Embedder == nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("dispatch: schema_search is not configured"), "", statemachine.EventSchemaSearched)
	}

	var args schemaQueryArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return d.errorOutcomeKind(call, format, fmt.Errorf("schema_search: expected a non-empty %q argument", "query"), "", statemachine.EventSchemaSearched)
	}

	vecs, err := d.Embedder.Embed(ctx, []string{args.Query})
	if err != nil || len(vecs) == 0 {
		return d.errorOutcomeKind(call, format, fmt.Errorf("schema_search: failed to embed query: %w", err), "", statemachine.EventSchemaSearched)
	}
	queryEmbedding := vecs[0]

	hits, err := d.SchemaSearch.Search(ctx, queryEmbedding, d.schemaSearchTopK())
	if err != nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("schema_search: %w", err), "", statemachine.EventSchemaSearched)
	}

	var maxRelevancy float64
	var tables []string
	var b strings.Builder
	for _, hit := range hits {
		source, table, ok := splitSchemaHitID(hit.ID)
		if !ok {
			continue
		}
		if args.Source != "" && source != args.Source {
			continue
		}
		if float64(hit.Score) > maxRelevancy {
			maxRelevancy = float64(hit.Score)
		}
		tables = append(tables, table)

		schema, err := d.DB.GetTableSchema(ctx, source, table)
		if err != nil {
			continue
		}
		b.WriteString(renderHybridColumns(ctx, d, schema, queryEmbedding))
		b.WriteString("\n\n")
	}

	envelope := toolparse.FormatToolResult(call, strings.TrimRight(b.String(), "\n"), false, format, "")
	event := statemachine.StateEvent{Kind: statemachine.EventSchemaSearched, MaxRelevancy: maxRelevancy, Tables: tables}
	return Outcome{Envelope: envelope, Event: event}
}

// splitSchemaHitID recovers the (source, table) pair the schema vector
// backend's upsert encoded into VectorHit.ID as "source::table" — the
// convention this dispatcher and whatever populates the schema index both
// follow (recorded as a decided Open Question in DESIGN.md).
func splitSchemaHitID(id string) (source, table string, ok bool) {
	source, table, found := strings.Cut(id, "::")
	return source, table, found
}

var numericSQLTypeSubstrings = []string{
	"int", "serial", "float", "double", "real", "numeric", "decimal", "money",
}

func isNumericColumnType(t string) bool {
	lower := strings.ToLower(t)
	for _, substr := range numericSQLTypeSubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// renderHybridColumns formats one table's schema for the prompt: every
// non-numeric column always included, numeric columns ranked against
// queryEmbedding and truncated to the dispatcher's configured top N.
func renderHybridColumns(ctx context.Context, d *Dispatcher, schema actormesh.TableSchema, queryEmbedding []float32) string {
	var categorical, numeric []actormesh.ColumnInfo
	for _, col := range schema.Columns {
		if isNumericColumnType(col.Type) {
			numeric = append(numeric, col)
		} else {
			categorical = append(categorical, col)
		}
	}

	selected := categorical
	if len(numeric) > 0 {
		ranked := rankColumnsByRelevance(ctx, d, numeric, queryEmbedding)
		topK := d.numericColumnTopK()
		if topK < len(ranked) {
			ranked = ranked[:topK]
		}
		selected = append(selected, ranked...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "table %s:\n", schema.Name)
	for _, col := range schema.Columns {
		if !containsColumn(selected, col.Name) {
			continue
		}
		nullable := ""
		if col.Nullable {
			nullable = ", nullable"
		}
		fmt.Fprintf(&b, "  - %s %s%s\n", col.Name, col.Type, nullable)
	}
	return b.String()
}

func containsColumn(cols []actormesh.ColumnInfo, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// rankColumnsByRelevance embeds each numeric column's name (cheap: one
// short string per column, batched in a single Embed call) and sorts by
// cosine similarity to queryEmbedding, most relevant first.
func rankColumnsByRelevance(ctx context.Context, d *Dispatcher, cols []actormesh.ColumnInfo, queryEmbedding []float32) []actormesh.ColumnInfo {
	if len(cols) <= 1 {
		return cols
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	vecs, err := d.Embedder.Embed(ctx, names)
	if err != nil || len(vecs) != len(cols) {
		return cols // embedding failed: keep declaration order rather than drop columns
	}

	type scored struct {
		col   actormesh.ColumnInfo
		score float32
	}
	entries := make([]scored, len(cols))
	for i, c := range cols {
		entries[i] = scored{col: c, score: cosineSimilarity(queryEmbedding, vecs[i])}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	out := make([]actormesh.ColumnInfo, len(entries))
	for i, e := range entries {
		out[i] = e.col
	}
	return out
}
