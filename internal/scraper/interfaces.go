package scraper

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Fetcher acquires a service page and extracts a Result from it.
type Fetcher interface {
	Fetch(ctx context.Context, slug string) (Result, error)
}

// LifecycleState tracks the browser session.
type LifecycleState int

const (
	// StateNotStarted is the initial state and the state after a failed start.
	StateNotStarted LifecycleState = iota
	// StateReady means scrapes can be served.
	StateReady
	// StateStopped is terminal.
	StateStopped
)

// String implements fmt.Stringer.
func (s LifecycleState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Fallback is a Fetcher with a managed lifecycle. Start must leave the
// Fallback in StateNotStarted when it fails, and Close must be idempotent.
type Fallback interface {
	Fetcher
	State() LifecycleState
	Start(ctx context.Context) error
	Close() error
}
