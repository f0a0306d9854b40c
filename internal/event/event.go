// Package event provides a level-triggered flag that goroutines can wait on.
package event

import (
	"context"
	"sync"
)

// Event is a resettable flag. Wait blocks until the flag is set.
// The zero value is not usable; create events with New.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// New creates an event in the cleared state
func New() *Event {
	return &Event{ch: make(chan struct{})}
}

// NewSet creates an event in the set state
func NewSet() *Event {
	e := New()
	e.Set()
	return e
}

// Set sets the flag and releases all waiters
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear resets the flag
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current state without blocking
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed while the flag is set.
// The channel is only valid until the next Clear.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the flag is set or ctx is done
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
