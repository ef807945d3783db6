// Package subsys implements the shared subsystem lifecycle: every domain
// module boots through init (load persisted state, discover devices, seed
// defaults, register tasks and subscriptions, start) and tears down through a
// symmetric, idempotent destroy.
package subsys

import (
	"context"
	"fmt"
)

// State is the lifecycle state of a subsystem. Transitions are strictly
// monotonic: uninitialized → initializing → running → destroying → destroyed.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Subsystem is one domain module built on the shared core.
type Subsystem interface {
	Name() string
	// Init loads persisted state, discovers devices, seeds defaults, and
	// registers periodic tasks and event subscriptions. Seeding must be
	// idempotent: seeded data is created only when its persisted key is empty.
	Init(ctx context.Context) error
	// Destroy stops periodic tasks, cancels outstanding timed actions,
	// unsubscribes from the bus, and flushes persistence. Safe to call twice.
	Destroy()
}
