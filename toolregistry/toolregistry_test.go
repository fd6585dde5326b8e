package toolregistry

import "testing"

func TestBuiltinAlwaysVisibleNeverDeferred(t *testing.T) {
	r := New()
	r.Register(ToolSchema{ServerID: "builtin", Name: "python_execution", DeferLoading: true})
	key := Key{ServerID: "builtin", ToolName: "python_execution"}
	if !r.Visible(key) {
		t.Fatal("expected builtin to be visible immediately regardless of DeferLoading")
	}
	s, _ := r.Get(key)
	if s.DeferLoading {
		t.Fatal("expected builtin DeferLoading to be forced false")
	}
}

func TestDeferredToolHiddenUntilMaterialized(t *testing.T) {
	r := New()
	key := Key{ServerID: "files", ToolName: "read_file"}
	r.Register(ToolSchema{ServerID: "files", Name: "read_file", DeferLoading: true})
	if r.Visible(key) {
		t.Fatal("expected deferred tool to start hidden")
	}
	r.Materialize(key)
	if !r.Visible(key) {
		t.Fatal("expected tool to be visible after materialization")
	}
}

func TestMaterializationMonotonic(t *testing.T) {
	r := New()
	keys := []Key{
		{ServerID: "a", ToolName: "x"},
		{ServerID: "a", ToolName: "y"},
	}
	for _, k := range keys {
		r.Register(ToolSchema{ServerID: k.ServerID, Name: k.ToolName, DeferLoading: true})
	}

	before := visibleSet(r)
	r.Materialize(keys[0])
	afterFirst := visibleSet(r)
	r.Materialize(keys[1])
	afterSecond := visibleSet(r)

	for k := range before {
		if _, ok := afterFirst[k]; !ok {
			t.Fatalf("visible set shrank after materializing %v", keys[0])
		}
	}
	for k := range afterFirst {
		if _, ok := afterSecond[k]; !ok {
			t.Fatalf("visible set shrank after materializing %v", keys[1])
		}
	}
	if len(afterSecond) != len(afterFirst)+1 {
		t.Fatalf("expected exactly one new visible tool, before=%d after=%d", len(afterFirst), len(afterSecond))
	}
}

func visibleSet(r *ToolRegistry) map[Key]struct{} {
	out := make(map[Key]struct{})
	for _, s := range r.VisibleSchemas() {
		out[Key{ServerID: s.ServerID, ToolName: s.Name}] = struct{}{}
	}
	return out
}

func TestMaterializeIdempotent(t *testing.T) {
	r := New()
	key := Key{ServerID: "a", ToolName: "x"}
	r.Register(ToolSchema{ServerID: "a", Name: "x", DeferLoading: true})
	r.Materialize(key)
	r.Materialize(key)
	if len(r.VisibleSchemas()) != 1 {
		t.Fatalf("expected idempotent materialize, got %d visible", len(r.VisibleSchemas()))
	}
}

func TestSemanticSearchExcludesUnembedded(t *testing.T) {
	r := New()
	r.Register(ToolSchema{ServerID: "a", Name: "no_embedding", DeferLoading: true})
	r.Register(ToolSchema{ServerID: "a", Name: "with_embedding", DeferLoading: true, Embedding: []float32{1, 0, 0}})

	hits := r.SemanticSearch([]float32{1, 0, 0}, "", 10)
	if len(hits) != 1 || hits[0].Key.ToolName != "with_embedding" {
		t.Fatalf("expected only the embedded tool in results, got %+v", hits)
	}
}

func TestSemanticSearchRespectsAllowedCallers(t *testing.T) {
	r := New()
	r.Register(ToolSchema{ServerID: "a", Name: "restricted", DeferLoading: true, Embedding: []float32{1, 0}, AllowedCallers: []string{"agent-x"}})

	if hits := r.SemanticSearch([]float32{1, 0}, "agent-y", 10); len(hits) != 0 {
		t.Fatalf("expected restricted tool to be excluded for a non-allowed caller, got %+v", hits)
	}
	if hits := r.SemanticSearch([]float32{1, 0}, "agent-x", 10); len(hits) != 1 {
		t.Fatalf("expected restricted tool visible to allowed caller, got %+v", hits)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	r := New()
	r.Register(ToolSchema{ServerID: "a", Name: "dup"})
	r.Register(ToolSchema{ServerID: "b", Name: "dup"})
	if _, _, err := r.Resolve("dup"); err == nil {
		t.Fatal("expected ambiguous resolve to error")
	}
}

func TestUnregisterRemovesServerTools(t *testing.T) {
	r := New()
	r.Register(ToolSchema{ServerID: "a", Name: "x"})
	r.Unregister("a")
	if _, ok := r.Get(Key{ServerID: "a", ToolName: "x"}); ok {
		t.Fatal("expected tool to be gone after server unregister")
	}
}
