package actormesh

import (
	"context"
	"log/slog"
	"sync"
)

// VectorHit is the uniform shape every vector-search purpose normalizes its
// store-specific result type into, so one actor implementation serves chat
// history, RAG chunks, and schema search alike.
type VectorHit struct {
	ID      string
	Title   string
	Content string
	Score   float32
}

// VectorBackend is the persistence a VectorActor drives. Each purpose
// (chat history, RAG chunks, schema) supplies its own adapter over the
// teacher's oasis.Store (or, for schema, the Database Toolbox actor).
type VectorBackend interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error)
	Upsert(ctx context.Context, hit VectorHit, embedding []float32) error
}

type vectorMsg struct {
	kind string

	embedding []float32
	topK      int
	hit       VectorHit

	replySearch reply[searchResult]
	replyErr    reply[error]
}

type searchResult struct {
	hits []VectorHit
	err  error
}

// VectorActor fronts one VectorBackend. Every request is dispatched as a
// short-lived goroutine rather than handled inline in the mailbox loop —
// ported directly from the original's "spawn a detached task for every
// request... ensures the actor mailbox never clogs, even if a query takes
// 100ms" comment in vector_actor.rs.
type VectorActor struct {
	purpose string
	mailbox chan vectorMsg
	backend VectorBackend
	logger  *slog.Logger

	stopOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	lastStatus Status
}

// NewVectorActor starts the actor's dispatch loop. purpose is a label used
// only for Status()/logging (e.g. "chat-history", "rag-chunks", "schema").
func NewVectorActor(purpose string, backend VectorBackend, logger *slog.Logger) *VectorActor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &VectorActor{
		purpose: purpose,
		mailbox: make(chan vectorMsg, DefaultMailboxSize),
		backend: backend,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *VectorActor) run() {
	var wg sync.WaitGroup
	for msg := range a.mailbox {
		msg := msg
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.dispatch(msg)
		}()
	}
	wg.Wait()
	close(a.done)
}

func (a *VectorActor) dispatch(msg vectorMsg) {
	var err error
	defer recoverToError(a.purpose+"-vector", &err)

	switch msg.kind {
	case "search":
		hits, sErr := a.backend.Search(context.Background(), msg.embedding, msg.topK)
		a.setStatus(sErr == nil, sErr != nil, sErr)
		sendReply(context.Background(), msg.replySearch, searchResult{hits: hits, err: sErr})

	case "upsert":
		uErr := a.backend.Upsert(context.Background(), msg.hit, msg.embedding)
		a.setStatus(uErr == nil, uErr != nil, uErr)
		sendReply(context.Background(), msg.replyErr, uErr)
	}
}

// Search performs a nearest-neighbor query against this actor's backend.
func (a *VectorActor) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	r := make(reply[searchResult], 1)
	select {
	case a.mailbox <- vectorMsg{kind: "search", embedding: embedding, topK: topK, replySearch: r}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.hits, res.err
	case <-ctx.Done():
		// the caller gave up; the in-flight goroutine still finishes and
		// its reply send hits sendReply's default no-op branch.
		return nil, ctx.Err()
	}
}

// Upsert stores or updates one embedded entry.
func (a *VectorActor) Upsert(ctx context.Context, hit VectorHit, embedding []float32) error {
	r := make(reply[error], 1)
	select {
	case a.mailbox <- vectorMsg{kind: "upsert", hit: hit, embedding: embedding, replyErr: r}:
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

func (a *VectorActor) setStatus(healthy, degraded bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastStatus = Status{Name: a.purpose + "-vector", Healthy: healthy, Degraded: degraded, LastError: err}
}

func (a *VectorActor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastStatus
}

func (a *VectorActor) Stop() {
	a.stopOnce.Do(func() {
		close(a.mailbox)
	})
	<-a.done
}
