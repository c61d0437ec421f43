// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package event implements a broadcast, level-triggered condition with a
// "whichever fires first, with a timeout" wait helper: every blocking
// wait in the engine (completion signals, shutdown) is built on top of
// it.
package event

import (
	"sync"
	"time"
)

// Event is a broadcast, level-triggered condition: once Fire is called
// every current and future Wait returns immediately, until Reset is
// called to arm it again for a new round.
type Event struct {
	mu   sync.Mutex
	ch   chan struct{}
	fired bool
}

// New returns an armed (not yet fired) Event.
func New() *Event {
	return &Event{ch: make(chan struct{})}
}

// Fire signals the event. Safe to call multiple times; only the first
// call has an effect.
func (e *Event) Fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fired {
		e.fired = true
		close(e.ch)
	}
}

// Reset rearms the event for a new round of waiters. Must not be called
// concurrently with Fire/Wait from the same round.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired = false
	e.ch = make(chan struct{})
}

// Fired reports whether the event has already fired.
func (e *Event) Fired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// C returns the underlying channel, closed when the event fires. Useful
// for select statements that need to race the event against other
// channels directly.
func (e *Event) C() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the event fires, the shutdown event fires, or the
// timeout elapses, whichever happens first. It reports which of the
// three happened.
func Wait(target, shutdown *Event, timeout time.Duration) (fired bool, shutdownFired bool) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var shutdownC <-chan struct{}
	if shutdown != nil {
		shutdownC = shutdown.C()
	}

	select {
	case <-target.C():
		return true, false
	case <-shutdownC:
		return false, true
	case <-timeoutCh:
		return false, false
	}
}
