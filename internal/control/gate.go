// Package control implements the cooperative run/pause/cancel gate shared
// between an external controller and the crawl goroutine.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is returned from Checkpoint once the controller has cancelled
// the run. It marks a clean abort, not a failure.
var ErrCancelled = errors.New("crawl cancelled")

// State is the externally visible lifecycle of a run.
type State int

// Gate states.
const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Gate is the only synchronization point between controller and crawler.
// The controller requests transitions with Pause, Resume and Cancel; the
// crawler observes them exclusively through Checkpoint.
type Gate struct {
	mu    sync.Mutex
	state State
	alive bool

	// resume is closed while the run may proceed and replaced by an open
	// channel when a pause is requested.
	resume chan struct{}
	// OnWait is invoked (outside the lock) when a checkpoint starts blocking.
	OnWait func()
}

// NewGate returns an idle gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{state: StateIdle, resume: ch}
}

// Begin arms the gate for a new run: running, alive, resume signal set.
func (g *Gate) Begin() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateRunning
	g.alive = true
	g.setResumeLocked()
}

// Finish returns the gate to idle after the run goroutine exits.
func (g *Gate) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateIdle
	g.alive = false
	g.setResumeLocked()
}

// Pause clears the resume signal. It reports false when no run is active
// or the run is already paused or cancelled.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning {
		return false
	}
	g.state = StatePaused
	g.resume = make(chan struct{})
	return true
}

// Resume sets the resume signal again. It reports false unless paused.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePaused {
		return false
	}
	g.state = StateRunning
	g.setResumeLocked()
	return true
}

// Toggle flips between running and paused and returns the resulting state.
func (g *Gate) Toggle() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case StateRunning:
		g.state = StatePaused
		g.resume = make(chan struct{})
	case StatePaused:
		g.state = StateRunning
		g.setResumeLocked()
	}
	return g.state
}

// Cancel marks the run as no longer alive. A paused run is released first so
// the blocked checkpoint can observe the cancellation.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateIdle || g.state == StateCancelled {
		return false
	}
	g.setResumeLocked()
	g.alive = false
	g.state = StateCancelled
	return true
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Alive reports whether the run has not been cancelled.
func (g *Gate) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alive
}

// Checkpoint is called by the crawler between fetches. It returns
// ErrCancelled once the run is no longer alive and blocks while paused.
// A done ctx is treated like a cancellation.
func (g *Gate) Checkpoint(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.alive {
			g.state = StateCancelled
			g.mu.Unlock()
			return ErrCancelled
		}
		wait := g.resume
		g.mu.Unlock()

		select {
		case <-wait:
			return g.recheck()
		default:
		}

		if g.OnWait != nil {
			g.OnWait()
		}
		select {
		case <-wait:
		case <-ctx.Done():
			g.Cancel()
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

// recheck catches a cancel that raced with an already-set resume signal.
func (g *Gate) recheck() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.alive {
		g.state = StateCancelled
		return ErrCancelled
	}
	return nil
}

func (g *Gate) setResumeLocked() {
	select {
	case <-g.resume:
	default:
		close(g.resume)
	}
}
