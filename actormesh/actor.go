// Package actormesh hosts the mailbox-based actors that own every piece of
// exclusive, cross-goroutine-shared state in a chat runtime: the inference
// connection, MCP server connections, the Python sandbox, the vector
// stores, the RAG pipeline, and the SQL gateway. Every actor owns its state
// exclusively and communicates only by message passing over a bounded
// channel — grounded in the worker-pool/channel and panic-recovery idioms
// of the teacher's loop.go/agentcore.go (onceClose, safeDispatch-style
// recover wrappers) and the original's actor modules
// (actors/mcp_host_actor.rs, actors/python_actor.rs).
package actormesh

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMailboxSize is the bounded channel capacity every actor's mailbox
// uses unless told otherwise.
const DefaultMailboxSize = 32

// onceClose returns a function that closes ch exactly once, swallowing the
// panic from a second close — the same pattern teacher agentcore.go uses to
// let multiple code paths race to shut a channel down safely.
func onceClose[T any](ch chan T) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer func() { recover() }()
			close(ch)
		})
	}
}

// recoverToError converts a panic into an error, the same shape as the
// teacher's safeDispatch panic-recovery wrapper around tool dispatch.
func recoverToError(label string, err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("actormesh: %s panicked: %v", label, p)
	}
}

// Status reports an actor's health for the Startup Coordinator.
type Status struct {
	Name      string
	Healthy   bool
	Degraded  bool
	LastError error
}

// Actor is the minimal contract every mesh actor satisfies: it can be asked
// for its current health and told to stop.
type Actor interface {
	Status() Status
	Stop()
}

// reply is a generic one-shot reply channel used by every request message
// in this package. An actor that finds its reply channel dropped (nobody
// reading anymore) gives up the work rather than blocking — "requester
// gone, abandon the work," per the mesh's failure semantics.
type reply[T any] chan T

func sendReply[T any](ctx context.Context, ch reply[T], v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	case <-ctx.Done():
	default:
		// mailbox processing loops always size their reply channel to 1,
		// so a full channel here means the requester already gave up.
	}
}
