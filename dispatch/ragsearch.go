package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/chatrt/chatproto"
	"github.com/nevindra/chatrt/statemachine"
	"github.com/nevindra/chatrt/toolparse"
)

type ragQueryArgs struct {
	Query string `json:"query"`
}

// dispatchRagSearch embeds the query, runs nearest-neighbor over the
// ingested document chunks behind d.RAG, and renders each hit as a labeled
// excerpt. EventRagSearched carries the hit count through Tables (the event
// struct's documented convention for this event kind) and the top score
// through MaxRelevancy, so Tier 2 can decide whether retrieved context
// clears the RAG relevancy threshold.
func (d *Dispatcher) dispatchRagSearch(ctx context.Context, call chatproto.ToolCall, format chatproto.ToolFormat) Outcome {
	if d.RAG == nil || d.Embedder == nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("dispatch: rag_search is not configured"), "", statemachine.EventRagSearched)
	}

	var args ragQueryArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return d.errorOutcomeKind(call, format, fmt.Errorf("rag_search: expected a non-empty %q argument", "query"), "", statemachine.EventRagSearched)
	}

	vecs, err := d.Embedder.Embed(ctx, []string{args.Query})
	if err != nil || len(vecs) == 0 {
		return d.errorOutcomeKind(call, format, fmt.Errorf("rag_search: failed to embed query: %w", err), "", statemachine.EventRagSearched)
	}

	hits, err := d.RAG.Search(ctx, vecs[0], d.ragSearchTopK())
	if err != nil {
		return d.errorOutcomeKind(call, format, fmt.Errorf("rag_search: %w", err), "", statemachine.EventRagSearched)
	}
	if len(hits) == 0 {
		envelope := toolparse.FormatToolResult(call, "no matching passages found", false, format, "")
		return Outcome{Envelope: envelope, Event: statemachine.StateEvent{Kind: statemachine.EventRagSearched}}
	}

	var b strings.Builder
	ids := make([]string, 0, len(hits))
	var maxRelevancy float64
	for i, hit := range hits {
		if float64(hit.Score) > maxRelevancy {
			maxRelevancy = float64(hit.Score)
		}
		ids = append(ids, hit.ID)
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] (score %.3f)\n%s", hit.ID, hit.Score, hit.Content)
	}

	envelope := toolparse.FormatToolResult(call, b.String(), false, format, "")
	event := statemachine.StateEvent{Kind: statemachine.EventRagSearched, MaxRelevancy: maxRelevancy, Tables: ids}
	return Outcome{Envelope: envelope, Event: event}
}
