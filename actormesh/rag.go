package actormesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	oasis "github.com/nevindra/chatrt"
	"github.com/nevindra/chatrt/ingest"
)

// RAGChunksBackend adapts oasis.Store's chunk search into the uniform
// VectorBackend shape, for a VectorActor parameterized to the "RAG chunks"
// purpose.
type RAGChunksBackend struct {
	Store oasis.Store
}

func (b RAGChunksBackend) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	scored, err := b.Store.SearchChunks(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, len(scored))
	for i, s := range scored {
		hits[i] = VectorHit{ID: s.Chunk.ID, Content: s.Chunk.Content, Score: s.Score}
	}
	return hits, nil
}

// Upsert is a no-op: chunks enter the store only through a full document
// ingestion (StoreDocument), never as a one-off vector write.
func (b RAGChunksBackend) Upsert(ctx context.Context, hit VectorHit, embedding []float32) error {
	return fmt.Errorf("rag: individual chunk upsert unsupported, ingest a document instead")
}

// ChatHistoryBackend adapts oasis.Store's message search into the uniform
// VectorBackend shape.
type ChatHistoryBackend struct {
	Store oasis.Store
}

func (b ChatHistoryBackend) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	scored, err := b.Store.SearchMessages(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, len(scored))
	for i, s := range scored {
		hits[i] = VectorHit{ID: s.Message.ID, Content: s.Message.Content, Score: s.Score}
	}
	return hits, nil
}

func (b ChatHistoryBackend) Upsert(ctx context.Context, hit VectorHit, embedding []float32) error {
	return fmt.Errorf("rag: chat history is written via StoreMessage, not a direct vector upsert")
}

type ragMsg struct {
	kind string

	text     string
	source   string
	title    string
	content  []byte
	filename string
	reader   io.Reader

	replyResult reply[ingestResult]
}

type ingestResult struct {
	result ingest.IngestResult
	err    error
}

// RAGActor owns the sidecar ingestion pipeline (extract -> chunk -> embed ->
// store), adapted from the teacher's ingest.Ingestor into actor form so
// ingestion is serialized behind a mailbox rather than called directly from
// arbitrary goroutines, matching the rest of the mesh's single-owner rule.
type RAGActor struct {
	mailbox  chan ragMsg
	ingestor *ingest.Ingestor
	logger   *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	lastStatus Status
}

// NewRAGActor starts the actor around an already-configured ingest.Ingestor
// (extractors, chunker, embedding provider, and store are all set up via
// ingest.Option the same way the teacher's callers already do).
func NewRAGActor(ingestor *ingest.Ingestor, logger *slog.Logger) *RAGActor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &RAGActor{
		mailbox:  make(chan ragMsg, DefaultMailboxSize),
		ingestor: ingestor,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *RAGActor) run() {
	for msg := range a.mailbox {
		a.handle(msg)
	}
	close(a.done)
}

func (a *RAGActor) handle(msg ragMsg) {
	var err error
	defer recoverToError("rag", &err)

	var res ingest.IngestResult
	var iErr error
	switch msg.kind {
	case "ingest_text":
		res, iErr = a.ingestor.IngestText(context.Background(), msg.text, msg.source, msg.title)
	case "ingest_file":
		res, iErr = a.ingestor.IngestFile(context.Background(), msg.content, msg.filename)
	case "ingest_reader":
		res, iErr = a.ingestor.IngestReader(context.Background(), msg.reader, msg.filename)
	}
	a.setStatus(iErr == nil, iErr != nil, iErr)
	sendReply(context.Background(), msg.replyResult, ingestResult{result: res, err: iErr})
}

// IngestText ingests raw text as a document.
func (a *RAGActor) IngestText(ctx context.Context, text, source, title string) (ingest.IngestResult, error) {
	return a.send(ctx, ragMsg{kind: "ingest_text", text: text, source: source, title: title})
}

// IngestFile ingests file content, detecting its content type from filename.
func (a *RAGActor) IngestFile(ctx context.Context, content []byte, filename string) (ingest.IngestResult, error) {
	return a.send(ctx, ragMsg{kind: "ingest_file", content: content, filename: filename})
}

// IngestReader streams file content from r before ingesting it.
func (a *RAGActor) IngestReader(ctx context.Context, r io.Reader, filename string) (ingest.IngestResult, error) {
	return a.send(ctx, ragMsg{kind: "ingest_reader", reader: r, filename: filename})
}

func (a *RAGActor) send(ctx context.Context, msg ragMsg) (ingest.IngestResult, error) {
	r := make(reply[ingestResult], 1)
	msg.replyResult = r
	select {
	case a.mailbox <- msg:
	case <-ctx.Done():
		return ingest.IngestResult{}, ctx.Err()
	}
	select {
	case res := <-r:
		return res.result, res.err
	case <-ctx.Done():
		return ingest.IngestResult{}, ctx.Err()
	}
}

func (a *RAGActor) setStatus(healthy, degraded bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastStatus = Status{Name: "rag", Healthy: healthy, Degraded: degraded, LastError: err}
}

func (a *RAGActor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastStatus
}

func (a *RAGActor) Stop() {
	a.stopOnce.Do(func() {
		close(a.mailbox)
	})
	<-a.done
}
