package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nevindra/chatrt/actormesh"
	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/toolregistry"
)

// fakeEmbedder returns a deterministic, query-dependent vector so search
// rankings are stable without a real embedding model.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 1} // default: orthogonal to anything meaningful
	}
	return out, nil
}

func TestEnsureRowCapAppendsDefaultLimit(t *testing.T) {
	got := ensureRowCap("SELECT * FROM customers", 100)
	if got != "SELECT * FROM customers LIMIT 100" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestEnsureRowCapLeavesExistingLimitAlone(t *testing.T) {
	got := ensureRowCap("SELECT * FROM customers LIMIT 5;", 100)
	if got != "SELECT * FROM customers LIMIT 5;" {
		t.Fatalf("expected unchanged, got: %q", got)
	}
}

func TestDispatchSQLEnforcesSourceEnablement(t *testing.T) {
	db := actormesh.NewDatabaseToolbox(nil)
	defer db.Stop()

	d := &Dispatcher{DB: db, EnabledSources: map[string]bool{"other": true}}
	call := chatproto.ToolCall{Server: "builtin", Tool: "sql_select", Arguments: json.RawMessage(`{"source":"main","sql":"select 1"}`)}

	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")
	if !strings.Contains(out.Envelope, "not enabled") {
		t.Fatalf("expected not-enabled error, got: %s", out.Envelope)
	}
}

func TestDispatchSQLRunsQueryAgainstSQLiteSource(t *testing.T) {
	src, err := actormesh.OpenSQLiteSource("main", ":memory:")
	if err != nil {
		t.Fatalf("open source: %v", err)
	}

	db := actormesh.NewDatabaseToolbox(nil)
	defer db.Stop()
	if err := db.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if _, err := db.ExecuteSql(context.Background(), "main", "CREATE TABLE customers(id INTEGER, name TEXT, total_spend REAL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.ExecuteSql(context.Background(), "main", "INSERT INTO customers VALUES (1, 'Ada', 100.5)"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	d := &Dispatcher{DB: db}
	call := chatproto.ToolCall{Server: "builtin", Tool: "sql_select", Arguments: json.RawMessage(`{"source":"main","sql":"select * from customers"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "Ada") {
		t.Fatalf("expected row data in envelope, got: %s", out.Envelope)
	}
	if out.Event.RowCount != 1 {
		t.Fatalf("expected RowCount 1, got %d", out.Event.RowCount)
	}
}

func TestDispatchSQLSurfacesErrorWithSchemaContext(t *testing.T) {
	src, err := actormesh.OpenSQLiteSource("main", ":memory:")
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	db := actormesh.NewDatabaseToolbox(nil)
	defer db.Stop()
	if err := db.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("register source: %v", err)
	}

	d := &Dispatcher{DB: db}
	call := chatproto.ToolCall{Server: "builtin", Tool: "sql_select", Arguments: json.RawMessage(`{"source":"main","sql":"select * from no_such_table"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "schema: customers(id, name)")

	if !strings.Contains(out.Envelope, "schema: customers") {
		t.Fatalf("expected schema context echoed back, got: %s", out.Envelope)
	}
	if out.Event.RowCount != 0 {
		t.Fatalf("expected RowCount 0 on error, got %d", out.Event.RowCount)
	}
}

func TestDispatchToolSearchMaterializesTopHit(t *testing.T) {
	reg := toolregistry.New()
	reg.Register(toolregistry.ToolSchema{
		ServerID: "files", Name: "read_file", Description: "reads a file",
		DeferLoading: true, Embedding: []float32{1, 0, 0},
	})
	reg.Register(toolregistry.ToolSchema{
		ServerID: "weather", Name: "get_forecast", Description: "weather forecast",
		DeferLoading: true, Embedding: []float32{0, 1, 0},
	})

	d := &Dispatcher{
		Registry: reg,
		Embedder: fakeEmbedder{vectors: map[string][]float32{"read me a file": {1, 0, 0}}},
	}
	call := chatproto.ToolCall{Server: "builtin", Tool: "tool_search", Arguments: json.RawMessage(`{"query":"read me a file"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "files___read_file") {
		t.Fatalf("expected read_file stub in envelope, got: %s", out.Envelope)
	}
	key := toolregistry.Key{ServerID: "files", ToolName: "read_file"}
	if !reg.Visible(key) {
		t.Fatal("expected tool_search to materialize the matched tool")
	}
	// Both deferred tools fall inside the default top 5, so both are
	// materialized; the closer match comes first.
	if len(out.Event.NewlyMaterialized) != 2 || out.Event.NewlyMaterialized[0] != "read_file" {
		t.Fatalf("unexpected materialized list: %v", out.Event.NewlyMaterialized)
	}
}

func TestDispatchPythonRunsSandboxToCompletion(t *testing.T) {
	runner := fakeRunnerFunc(func(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult {
		return actormesh.SandboxResult{Status: actormesh.StatusComplete, Stdout: "42\n"}
	})
	python := actormesh.NewPythonActor(runner, nil)
	defer python.Stop()

	d := &Dispatcher{Python: python}
	call := chatproto.ToolCall{Server: "builtin", Tool: "python_execution", Arguments: json.RawMessage(`{"code":"print(6*7)"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "42") {
		t.Fatalf("expected stdout in envelope, got: %s", out.Envelope)
	}
	if out.Event.Stdout != "42\n" {
		t.Fatalf("unexpected event stdout: %q", out.Event.Stdout)
	}
}

func TestDispatchPythonRejectsUnbalancedCode(t *testing.T) {
	runner := fakeRunnerFunc(func(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult {
		t.Fatal("sandbox should never run on malformed input")
		return actormesh.SandboxResult{}
	})
	python := actormesh.NewPythonActor(runner, nil)
	defer python.Stop()

	d := &Dispatcher{Python: python}
	call := chatproto.ToolCall{Server: "builtin", Tool: "python_execution", Arguments: json.RawMessage(`{"code":"print(1"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "error") {
		t.Fatalf("expected an error envelope, got: %s", out.Envelope)
	}
}

type fakeRunnerFunc func(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult

func (f fakeRunnerFunc) Run(ctx context.Context, req actormesh.ExecutionRequest) actormesh.SandboxResult {
	return f(ctx, req)
}

func TestResolveServerFillsInUnknownFromRegistry(t *testing.T) {
	reg := toolregistry.New()
	reg.Register(toolregistry.ToolSchema{ServerID: "files", Name: "read_file"})

	d := &Dispatcher{Registry: reg}
	call := chatproto.ToolCall{Server: "unknown", Tool: "read_file"}
	resolved := d.resolveServer(context.Background(), call)

	if resolved.Server != "files" {
		t.Fatalf("expected resolved server %q, got %q", "files", resolved.Server)
	}
}

func TestDispatchMCPErrorsWithoutHost(t *testing.T) {
	reg := toolregistry.New()
	reg.Register(toolregistry.ToolSchema{ServerID: "files", Name: "read_file"})

	d := &Dispatcher{Registry: reg}
	call := chatproto.ToolCall{Server: "files", Tool: "read_file", Arguments: json.RawMessage(`{}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "no MCP host configured") {
		t.Fatalf("expected missing-host error, got: %s", out.Envelope)
	}
}

func TestDispatchSchemaSearchAppliesHybridColumnSelection(t *testing.T) {
	src, err := actormesh.OpenSQLiteSource("main", ":memory:")
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	db := actormesh.NewDatabaseToolbox(nil)
	defer db.Stop()
	if err := db.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if _, err := db.ExecuteSql(context.Background(), "main", "CREATE TABLE customers(id INTEGER, name TEXT, region TEXT, total_spend REAL, visits INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	backend := actormesh.NewSchemaVectorBackend()
	if err := backend.Upsert(context.Background(), actormesh.VectorHit{ID: "main::customers", Title: "customers"}, []float32{1, 0, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	schemaVec := actormesh.NewVectorActor("schema", backend, nil)
	defer schemaVec.Stop()

	d := &Dispatcher{
		DB:                db,
		SchemaSearch:      schemaVec,
		Embedder:          fakeEmbedder{vectors: map[string][]float32{"top customers by spend": {1, 0, 0}}},
		NumericColumnTopK: 1,
	}
	call := chatproto.ToolCall{Server: "builtin", Tool: "schema_search", Arguments: json.RawMessage(`{"query":"top customers by spend"}`)}
	out := d.Dispatch(context.Background(), call, chatproto.ToolFormatOpenAI, "", "")

	if !strings.Contains(out.Envelope, "name") || !strings.Contains(out.Envelope, "region") {
		t.Fatalf("expected every non-numeric column present, got: %s", out.Envelope)
	}
	if out.Event.MaxRelevancy <= 0 {
		t.Fatalf("expected positive relevancy, got %v", out.Event.MaxRelevancy)
	}
}
