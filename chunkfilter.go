package oasis

// FilterOp is the comparison applied by a ChunkFilter.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpNeq
	OpIn
	OpGt
	OpLt
)

// ChunkFilter narrows a SearchChunks/SearchChunksKeyword candidate set before
// ranking. Field is one of "document_id", "source", "created_at", or a
// "meta.<key>" path into ChunkMeta's stored JSON; Op and Value determine the
// comparison. Store implementations translate filters into their own native
// WHERE-clause or in-memory predicate form.
type ChunkFilter struct {
	Field string
	Op    FilterOp
	Value any
}

// ByExcludeDocument filters out chunks belonging to the given document ID.
// Used by cross-document retrieval to avoid matching a chunk against its own document.
func ByExcludeDocument(documentID string) ChunkFilter {
	return ChunkFilter{Field: "document_id", Op: OpNeq, Value: documentID}
}

// ByDocumentIDs restricts results to chunks belonging to one of the given document IDs.
func ByDocumentIDs(ids ...string) ChunkFilter {
	return ChunkFilter{Field: "document_id", Op: OpIn, Value: ids}
}

// BySource restricts results to chunks whose document has the given source.
func BySource(source string) ChunkFilter {
	return ChunkFilter{Field: "source", Op: OpEq, Value: source}
}

// ByCreatedAfter restricts results to chunks whose document was created after ts (unix seconds).
func ByCreatedAfter(ts int64) ChunkFilter {
	return ChunkFilter{Field: "created_at", Op: OpGt, Value: ts}
}

// ByCreatedBefore restricts results to chunks whose document was created before ts (unix seconds).
func ByCreatedBefore(ts int64) ChunkFilter {
	return ChunkFilter{Field: "created_at", Op: OpLt, Value: ts}
}

// ByMetadata restricts results to chunks whose ChunkMeta JSON has key == value.
func ByMetadata(key, value string) ChunkFilter {
	return ChunkFilter{Field: "meta." + key, Op: OpEq, Value: value}
}
