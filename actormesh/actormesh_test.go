package actormesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestOnceCloseSwallowsDoubleClose(t *testing.T) {
	ch := make(chan int)
	closeFn := onceClose(ch)
	closeFn()
	closeFn() // must not panic
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}
}

func TestRecoverToErrorCapturesPanic(t *testing.T) {
	var err error
	func() {
		defer recoverToError("test", &err)
		panic("boom")
	}()
	if err == nil {
		t.Fatal("expected panic converted to error")
	}
}

type fakeVectorBackend struct {
	hits []VectorHit
	err  error
}

func (b fakeVectorBackend) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	return b.hits, b.err
}

func (b fakeVectorBackend) Upsert(ctx context.Context, hit VectorHit, embedding []float32) error {
	return b.err
}

func TestVectorActorSearchReturnsBackendResult(t *testing.T) {
	backend := fakeVectorBackend{hits: []VectorHit{{ID: "1", Content: "hello", Score: 0.9}}}
	actor := NewVectorActor("test", backend, nil)
	defer actor.Stop()

	hits, err := actor.Search(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "1" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestVectorActorUpsertPropagatesError(t *testing.T) {
	backend := fakeVectorBackend{err: errSentinel}
	actor := NewVectorActor("test", backend, nil)
	defer actor.Stop()

	if err := actor.Upsert(context.Background(), VectorHit{ID: "1"}, []float32{1}); err != errSentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

var errSentinel = sandboxError("sentinel")

func TestStartupCoordinatorAwaitsFrontendThenBackend(t *testing.T) {
	c := NewStartupCoordinator([]string{SubsystemInference, SubsystemMCP}, nil)
	defer c.Stop()

	snap, err := c.FrontendReady(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.State != StateConnectingToBackends {
		t.Fatalf("expected still connecting, got %v", snap.State)
	}

	c.ReportStatus(context.Background(), SubsystemInference, readyStatus())
	c.ReportStatus(context.Background(), SubsystemMCP, readyStatus())

	// give the mailbox goroutine a moment to process both reports
	time.Sleep(20 * time.Millisecond)

	snap, err = c.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.State != StateReady {
		t.Fatalf("expected ready once backend and frontend both up, got %v", snap.State)
	}
}

func TestStartupCoordinatorBackendFirstGoesToAwaitingFrontend(t *testing.T) {
	c := NewStartupCoordinator([]string{SubsystemInference}, nil)
	defer c.Stop()

	c.ReportStatus(context.Background(), SubsystemInference, readyStatus())
	time.Sleep(20 * time.Millisecond)

	snap, err := c.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.State != StateAwaitingFrontend {
		t.Fatalf("expected awaiting frontend, got %v", snap.State)
	}

	snap, err = c.FrontendReady(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.State != StateReady {
		t.Fatalf("expected ready once frontend arrives, got %v", snap.State)
	}
}

func TestStartupCoordinatorSuperviseReportsFailureOnPanic(t *testing.T) {
	events := make(chan ProgressEvent, 8)
	c := NewStartupCoordinator([]string{SubsystemRAG}, func(e ProgressEvent) { events <- e })
	defer c.Stop()

	c.Supervise(SubsystemRAG, func() error {
		panic("init exploded")
	})

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-events:
			if st, ok := e.Subsystems[SubsystemRAG]; ok && st.Failed {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for failed subsystem report")
		}
	}
}

type fakeSandboxRunner struct {
	calls   int
	results []SandboxResult
}

func (r *fakeSandboxRunner) Run(ctx context.Context, req ExecutionRequest) SandboxResult {
	res := r.results[r.calls]
	r.calls++
	return res
}

func TestPythonActorCompletesWithoutToolCalls(t *testing.T) {
	runner := &fakeSandboxRunner{results: []SandboxResult{
		{Status: StatusComplete, Stdout: "3\n", Result: json.RawMessage(`3`)},
	}}
	actor := NewPythonActor(runner, nil)
	defer actor.Stop()

	out, err := actor.Execute(context.Background(), CodeExecutionInput{Code: []string{"print(1+2)"}}, &ExecutionContext{ExecID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Stdout != "3\n" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestPythonActorRunsToolCallRound(t *testing.T) {
	runner := &fakeSandboxRunner{results: []SandboxResult{
		{
			Status: StatusToolCallsPending,
			PendingCalls: []PendingCall{
				{ToolName: "lookup", ServerID: "files", Arguments: json.RawMessage(`{}`)},
			},
		},
		{Status: StatusComplete, Stdout: "done\n"},
	}}
	actor := NewPythonActor(runner, nil)
	defer actor.Stop()

	go func() {
		req := <-actor.ToolCallChannel()
		req.Respond(InnerCallResult{Success: true, Result: json.RawMessage(`"ok"`)})
	}()

	out, err := actor.Execute(context.Background(), CodeExecutionInput{Code: []string{"tool_call('lookup')"}}, &ExecutionContext{ExecID: "t2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.Stdout != "done\n" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 rounds, got %d", runner.calls)
	}
}

func TestPythonActorHitsMaxRoundsCap(t *testing.T) {
	results := make([]SandboxResult, MaxToolCallRounds+1)
	for i := range results {
		results[i] = SandboxResult{
			Status:       StatusToolCallsPending,
			PendingCalls: []PendingCall{{ToolName: "loop", ServerID: "files"}},
		}
	}
	runner := &fakeSandboxRunner{results: results}
	actor := NewPythonActor(runner, nil)
	defer actor.Stop()

	go func() {
		for i := 0; i < MaxToolCallRounds; i++ {
			req := <-actor.ToolCallChannel()
			req.Respond(InnerCallResult{Success: true})
		}
	}()

	_, err := actor.Execute(context.Background(), CodeExecutionInput{Code: []string{"loop()"}}, &ExecutionContext{ExecID: "t3"})
	if err != errMaxRoundsExceeded {
		t.Fatalf("expected max-rounds error, got %v", err)
	}
}
