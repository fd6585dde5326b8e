package actormesh

import (
	"context"
	"fmt"
	"sync"
)

// StartupState is the overall sequence a process moves through before it
// can serve a frontend handshake.
type StartupState int

const (
	StateInitializing StartupState = iota
	StateConnectingToBackends
	StateAwaitingFrontend
	StateReady
)

func (s StartupState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnectingToBackends:
		return "connecting_to_backends"
	case StateAwaitingFrontend:
		return "awaiting_frontend"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ResourceStatus is one subsystem's readiness.
type ResourceStatus struct {
	Ready   bool
	Failed  bool
	Message string
}

func readyStatus() ResourceStatus            { return ResourceStatus{Ready: true} }
func failedStatus(msg string) ResourceStatus { return ResourceStatus{Failed: true, Message: msg} }

// Subsystem names tracked by the coordinator.
const (
	SubsystemInference = "inference"
	SubsystemMCP        = "mcp"
	SubsystemEmbedding  = "embedding"
	SubsystemSettings   = "settings"
	SubsystemRAG        = "rag"
	SubsystemDatabase   = "database"
)

// StartupSnapshot is the full picture FrontendReady/GetSnapshot return.
type StartupSnapshot struct {
	State      StartupState
	Subsystems map[string]ResourceStatus
}

// ProgressEvent is emitted on every state/status change, the Go analogue of
// the original's "startup-progress" Tauri event.
type ProgressEvent struct {
	State      StartupState
	Subsystems map[string]ResourceStatus
	Message    string
}

type startupMsg struct {
	kind string

	subsystem string
	status    ResourceStatus

	replySnapshot reply[StartupSnapshot]
	replyState    reply[StartupState]
}

// StartupCoordinator tracks every subsystem's readiness and gates the
// frontend handshake on it: a frontend that asks "ready?" before every
// required subsystem reports Ready is told to keep waiting
// (AwaitingFrontend), and only flips to Ready once both conditions hold,
// ported from startup_actor.rs's check_ready_for_frontend/transition_state.
type StartupCoordinator struct {
	mailbox chan startupMsg

	requiredSubsystems []string
	onProgress         func(ProgressEvent)

	stopOnce sync.Once
	done     chan struct{}
}

// NewStartupCoordinator starts the actor. required lists the subsystem
// names that must all report Ready before the coordinator will transition
// out of ConnectingToBackends. onProgress may be nil.
func NewStartupCoordinator(required []string, onProgress func(ProgressEvent)) *StartupCoordinator {
	c := &StartupCoordinator{
		mailbox:            make(chan startupMsg, DefaultMailboxSize),
		requiredSubsystems: required,
		onProgress:         onProgress,
		done:               make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *StartupCoordinator) run() {
	state := StateConnectingToBackends
	subsystems := map[string]ResourceStatus{}
	frontendConnected := false

	emit := func(message string) {
		if c.onProgress != nil {
			snapshot := map[string]ResourceStatus{}
			for k, v := range subsystems {
				snapshot[k] = v
			}
			c.onProgress(ProgressEvent{State: state, Subsystems: snapshot, Message: message})
		}
	}

	transition := func(next StartupState) {
		if state != next {
			state = next
			emit("state changed")
		}
	}

	backendReady := func() bool {
		for _, name := range c.requiredSubsystems {
			if !subsystems[name].Ready {
				return false
			}
		}
		return true
	}

	checkReadyForFrontend := func() {
		if state == StateConnectingToBackends && backendReady() {
			if frontendConnected {
				transition(StateReady)
			} else {
				transition(StateAwaitingFrontend)
			}
		}
		if frontendConnected && (state == StateAwaitingFrontend || state == StateConnectingToBackends) && backendReady() {
			transition(StateReady)
		}
	}

	snapshot := func() StartupSnapshot {
		out := map[string]ResourceStatus{}
		for k, v := range subsystems {
			out[k] = v
		}
		return StartupSnapshot{State: state, Subsystems: out}
	}

	for msg := range c.mailbox {
		switch msg.kind {
		case "report":
			subsystems[msg.subsystem] = msg.status
			checkReadyForFrontend()
			emit(fmt.Sprintf("%s status updated", msg.subsystem))

		case "frontend_ready":
			frontendConnected = true
			if backendReady() {
				transition(StateReady)
			}
			sendReply(context.Background(), msg.replySnapshot, snapshot())

		case "get_state":
			sendReply(context.Background(), msg.replyState, state)

		case "get_snapshot":
			sendReply(context.Background(), msg.replySnapshot, snapshot())
		}
	}
	close(c.done)
}

// ReportStatus records one subsystem's readiness and re-evaluates whether
// the coordinator can advance past ConnectingToBackends.
func (c *StartupCoordinator) ReportStatus(ctx context.Context, subsystem string, status ResourceStatus) {
	select {
	case c.mailbox <- startupMsg{kind: "report", subsystem: subsystem, status: status}:
	case <-ctx.Done():
	}
}

// FrontendReady marks the frontend handshake as received and returns the
// current snapshot — transitioning to Ready immediately if every required
// subsystem already reported Ready.
func (c *StartupCoordinator) FrontendReady(ctx context.Context) (StartupSnapshot, error) {
	r := make(reply[StartupSnapshot], 1)
	select {
	case c.mailbox <- startupMsg{kind: "frontend_ready", replySnapshot: r}:
	case <-ctx.Done():
		return StartupSnapshot{}, ctx.Err()
	}
	select {
	case s := <-r:
		return s, nil
	case <-ctx.Done():
		return StartupSnapshot{}, ctx.Err()
	}
}

// GetSnapshot returns the current state without affecting the frontend
// handshake.
func (c *StartupCoordinator) GetSnapshot(ctx context.Context) (StartupSnapshot, error) {
	r := make(reply[StartupSnapshot], 1)
	select {
	case c.mailbox <- startupMsg{kind: "get_snapshot", replySnapshot: r}:
	case <-ctx.Done():
		return StartupSnapshot{}, ctx.Err()
	}
	select {
	case s := <-r:
		return s, nil
	case <-ctx.Done():
		return StartupSnapshot{}, ctx.Err()
	}
}

func (c *StartupCoordinator) Status() Status {
	return Status{Name: "startup", Healthy: true}
}

func (c *StartupCoordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.mailbox)
	})
	<-c.done
}

// Supervise runs fn in its own goroutine under a recover boundary: a panic
// is converted into a Failed report for subsystem rather than crashing the
// process, the Go analogue of the original's degraded-subsystem reporting
// path (the process never exits on an actor panic; it just marks that
// subsystem unavailable).
func (c *StartupCoordinator) Supervise(subsystem string, fn func() error) {
	go func() {
		var err error
		func() {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			err = fn()
		}()

		if err != nil {
			c.ReportStatus(context.Background(), subsystem, failedStatus(err.Error()))
			return
		}
		c.ReportStatus(context.Background(), subsystem, readyStatus())
	}()
}
