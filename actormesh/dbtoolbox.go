package actormesh

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// DatabaseKind selects which driver a DatabaseSource talks through.
type DatabaseKind int

const (
	DatabasePostgres DatabaseKind = iota
	DatabaseSQLite
)

// ColumnInfo is one column of a table's schema.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// TableSchema is one table's full column listing.
type TableSchema struct {
	Name    string
	Columns []ColumnInfo
}

// SQLResult is the outcome of one ExecuteSql call — sql_select is the only
// builtin wired to this, so every query is expected to return rows, never
// a mutation rowcount.
type SQLResult struct {
	Columns []string
	Rows    [][]interface{}
}

// DatabaseSource is one registered connection the Database Toolbox actor
// manages: a Postgres pool or a SQLite *sql.DB, opened directly in-process
// rather than through a second subprocess hop, since pgx/modernc.org's
// sqlite are both already the teacher's own store drivers.
type DatabaseSource struct {
	ID   string
	Kind DatabaseKind

	pgPool  *pgxpool.Pool
	sqliteDB *sql.DB
}

// OpenPostgresSource connects a named Postgres database source.
func OpenPostgresSource(ctx context.Context, id, dsn string) (*DatabaseSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbtoolbox: open postgres source %q: %w", id, err)
	}
	return &DatabaseSource{ID: id, Kind: DatabasePostgres, pgPool: pool}, nil
}

// OpenSQLiteSource connects a named SQLite database source.
func OpenSQLiteSource(id, path string) (*DatabaseSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbtoolbox: open sqlite source %q: %w", id, err)
	}
	return &DatabaseSource{ID: id, Kind: DatabaseSQLite, sqliteDB: db}, nil
}

func (s *DatabaseSource) close() {
	switch s.Kind {
	case DatabasePostgres:
		if s.pgPool != nil {
			s.pgPool.Close()
		}
	case DatabaseSQLite:
		if s.sqliteDB != nil {
			_ = s.sqliteDB.Close()
		}
	}
}

func (s *DatabaseSource) query(ctx context.Context, sqlText string, args ...interface{}) (SQLResult, error) {
	switch s.Kind {
	case DatabasePostgres:
		return queryPostgres(ctx, s.pgPool, sqlText, args...)
	case DatabaseSQLite:
		return querySQLite(ctx, s.sqliteDB, sqlText, args...)
	default:
		return SQLResult{}, fmt.Errorf("dbtoolbox: unknown database kind")
	}
}

func queryPostgres(ctx context.Context, pool *pgxpool.Pool, sqlText string, args ...interface{}) (SQLResult, error) {
	rows, err := pool.Query(ctx, sqlText, args...)
	if err != nil {
		return SQLResult{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out [][]interface{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return SQLResult{}, err
		}
		out = append(out, vals)
	}
	return SQLResult{Columns: cols, Rows: out}, rows.Err()
}

func querySQLite(ctx context.Context, db *sql.DB, sqlText string, args ...interface{}) (SQLResult, error) {
	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return SQLResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return SQLResult{}, err
	}

	var out [][]interface{}
	for rows.Next() {
		scanTargets := make([]interface{}, len(cols))
		vals := make([]interface{}, len(cols))
		for i := range vals {
			scanTargets[i] = &vals[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return SQLResult{}, err
		}
		out = append(out, vals)
	}
	return SQLResult{Columns: cols, Rows: out}, rows.Err()
}

type dbMsg struct {
	kind string

	sourceID string
	sqlText  string
	table    string
	args     []interface{}
	source   *DatabaseSource

	replyExec   reply[execSQLResult]
	replyTables reply[tablesResult]
	replySchema reply[schemaResult]
	replyErr    reply[error]
}

type execSQLResult struct {
	result SQLResult
	err    error
}

type tablesResult struct {
	names []string
	err   error
}

type schemaResult struct {
	schema TableSchema
	err    error
}

// DatabaseToolbox is the actor owning every registered database source's
// connection lifecycle, exposing ExecuteSql/EnumerateSchemas/
// EnumerateTables/GetTableSchema (the sql_select and schema_search builtins'
// backing calls) over a single mailbox.
type DatabaseToolbox struct {
	mailbox chan dbMsg
	sources map[string]*DatabaseSource
	logger  *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	lastStatus Status
}

// NewDatabaseToolbox starts the actor's processing goroutine.
func NewDatabaseToolbox(logger *slog.Logger) *DatabaseToolbox {
	if logger == nil {
		logger = slog.Default()
	}
	t := &DatabaseToolbox{
		mailbox: make(chan dbMsg, DefaultMailboxSize),
		sources: map[string]*DatabaseSource{},
		logger:  logger,
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *DatabaseToolbox) run() {
	defer func() {
		for _, s := range t.sources {
			s.close()
		}
	}()
	for msg := range t.mailbox {
		t.handle(msg)
	}
	close(t.done)
}

func (t *DatabaseToolbox) handle(msg dbMsg) {
	var err error
	defer recoverToError("dbtoolbox", &err)

	switch msg.kind {
	case "register":
		t.sources[msg.source.ID] = msg.source
		sendReply(context.Background(), msg.replyErr, nil)

	case "execute_sql":
		src, ok := t.sources[msg.sourceID]
		if !ok {
			sendReply(context.Background(), msg.replyExec, execSQLResult{err: fmt.Errorf("dbtoolbox: unknown source %q", msg.sourceID)})
			return
		}
		res, qErr := src.query(context.Background(), msg.sqlText, msg.args...)
		t.setStatus(qErr == nil, qErr != nil, qErr)
		sendReply(context.Background(), msg.replyExec, execSQLResult{result: res, err: qErr})

	case "enumerate_schemas":
		names := make([]string, 0, len(t.sources))
		for id := range t.sources {
			names = append(names, id)
		}
		sendReply(context.Background(), msg.replyTables, tablesResult{names: names})

	case "enumerate_tables":
		src, ok := t.sources[msg.sourceID]
		if !ok {
			sendReply(context.Background(), msg.replyTables, tablesResult{err: fmt.Errorf("dbtoolbox: unknown source %q", msg.sourceID)})
			return
		}
		names, tErr := enumerateTables(context.Background(), src)
		sendReply(context.Background(), msg.replyTables, tablesResult{names: names, err: tErr})

	case "get_table_schema":
		src, ok := t.sources[msg.sourceID]
		if !ok {
			sendReply(context.Background(), msg.replySchema, schemaResult{err: fmt.Errorf("dbtoolbox: unknown source %q", msg.sourceID)})
			return
		}
		schema, sErr := getTableSchema(context.Background(), src, msg.table)
		sendReply(context.Background(), msg.replySchema, schemaResult{schema: schema, err: sErr})
	}
}

func enumerateTables(ctx context.Context, src *DatabaseSource) ([]string, error) {
	var q string
	switch src.Kind {
	case DatabasePostgres:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	case DatabaseSQLite:
		q = `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
	}
	res, err := src.query(ctx, q)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				names = append(names, s)
			}
		}
	}
	return names, nil
}

func getTableSchema(ctx context.Context, src *DatabaseSource, table string) (TableSchema, error) {
	var q string
	var args []interface{}
	switch src.Kind {
	case DatabasePostgres:
		q = `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`
		args = []interface{}{table}
	case DatabaseSQLite:
		q = fmt.Sprintf(`PRAGMA table_info(%q)`, table)
	}
	res, err := src.query(ctx, q, args...)
	if err != nil {
		return TableSchema{}, err
	}

	schema := TableSchema{Name: table}
	switch src.Kind {
	case DatabasePostgres:
		for _, row := range res.Rows {
			col := ColumnInfo{}
			if len(row) > 0 {
				col.Name, _ = row[0].(string)
			}
			if len(row) > 1 {
				col.Type, _ = row[1].(string)
			}
			if len(row) > 2 {
				if nullable, ok := row[2].(string); ok {
					col.Nullable = nullable == "YES"
				}
			}
			schema.Columns = append(schema.Columns, col)
		}
	case DatabaseSQLite:
		// PRAGMA table_info columns: cid, name, type, notnull, dflt_value, pk
		for _, row := range res.Rows {
			col := ColumnInfo{}
			if len(row) > 1 {
				col.Name = fmt.Sprintf("%v", row[1])
			}
			if len(row) > 2 {
				col.Type = fmt.Sprintf("%v", row[2])
			}
			if len(row) > 3 {
				col.Nullable = fmt.Sprintf("%v", row[3]) == "0"
			}
			schema.Columns = append(schema.Columns, col)
		}
	}
	return schema, nil
}

// RegisterSource adds a database connection the toolbox now owns and will
// close on Stop().
func (t *DatabaseToolbox) RegisterSource(ctx context.Context, src *DatabaseSource) error {
	r := make(reply[error], 1)
	select {
	case t.mailbox <- dbMsg{kind: "register", source: src, replyErr: r}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteSql runs sqlText against sourceID and returns its rows.
func (t *DatabaseToolbox) ExecuteSql(ctx context.Context, sourceID, sqlText string, args ...interface{}) (SQLResult, error) {
	r := make(reply[execSQLResult], 1)
	select {
	case t.mailbox <- dbMsg{kind: "execute_sql", sourceID: sourceID, sqlText: sqlText, args: args, replyExec: r}:
	case <-ctx.Done():
		return SQLResult{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.result, res.err
	case <-ctx.Done():
		return SQLResult{}, ctx.Err()
	}
}

// EnumerateSchemas lists every registered database source ID.
func (t *DatabaseToolbox) EnumerateSchemas(ctx context.Context) ([]string, error) {
	r := make(reply[tablesResult], 1)
	select {
	case t.mailbox <- dbMsg{kind: "enumerate_schemas", replyTables: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.names, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnumerateTables lists every table in one database source.
func (t *DatabaseToolbox) EnumerateTables(ctx context.Context, sourceID string) ([]string, error) {
	r := make(reply[tablesResult], 1)
	select {
	case t.mailbox <- dbMsg{kind: "enumerate_tables", sourceID: sourceID, replyTables: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.names, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetTableSchema returns one table's column listing.
func (t *DatabaseToolbox) GetTableSchema(ctx context.Context, sourceID, table string) (TableSchema, error) {
	r := make(reply[schemaResult], 1)
	select {
	case t.mailbox <- dbMsg{kind: "get_table_schema", sourceID: sourceID, table: table, replySchema: r}:
	case <-ctx.Done():
		return TableSchema{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.schema, res.err
	case <-ctx.Done():
		return TableSchema{}, ctx.Err()
	}
}

func (t *DatabaseToolbox) setStatus(healthy, degraded bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStatus = Status{Name: "dbtoolbox", Healthy: healthy, Degraded: degraded, LastError: err}
}

func (t *DatabaseToolbox) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStatus
}

func (t *DatabaseToolbox) Stop() {
	t.stopOnce.Do(func() {
		close(t.mailbox)
	})
	<-t.done
}

// SchemaVectorBackend adapts a pre-embedded schema-chunk table (schema
// descriptions embedded once per registered table, refreshed when a source
// is registered) into the uniform VectorBackend shape schema_search needs.
// Embeddings are kept in a plain in-memory slice: schema metadata is small
// and changes only when a database source is added, unlike chat history or
// RAG chunks which warrant the store's HNSW index.
type SchemaVectorBackend struct {
	mu      sync.RWMutex
	entries []schemaEmbedding
}

type schemaEmbedding struct {
	hit       VectorHit
	embedding []float32
}

// NewSchemaVectorBackend returns an empty backend; call Upsert once per
// table as sources are registered and their schemas embedded.
func NewSchemaVectorBackend() *SchemaVectorBackend {
	return &SchemaVectorBackend{}
}

func (b *SchemaVectorBackend) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		hit   VectorHit
		score float32
	}
	scoredEntries := make([]scored, len(b.entries))
	for i, e := range b.entries {
		scoredEntries[i] = scored{hit: e.hit, score: cosine(embedding, e.embedding)}
	}
	sort.Slice(scoredEntries, func(i, j int) bool { return scoredEntries[i].score > scoredEntries[j].score })

	if topK > len(scoredEntries) {
		topK = len(scoredEntries)
	}
	out := make([]VectorHit, topK)
	for i := 0; i < topK; i++ {
		hit := scoredEntries[i].hit
		hit.Score = scoredEntries[i].score
		out[i] = hit
	}
	return out, nil
}

func (b *SchemaVectorBackend) Upsert(ctx context.Context, hit VectorHit, embedding []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.hit.ID == hit.ID {
			b.entries[i] = schemaEmbedding{hit: hit, embedding: embedding}
			return nil
		}
	}
	b.entries = append(b.entries, schemaEmbedding{hit: hit, embedding: embedding})
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
