// Package control provides in-memory state management for pausing, resuming
// and cancelling a fuzzing run. Workers check it between cases, so a run can
// be stopped deterministically instead of relying on process exit.
package control

import (
	"context"
	"sync"
)

// State represents the current state of a fuzzing run
type State int

const (
	StateRunning State = iota
	StatePaused
	StateCancelled
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunControl manages pause/resume/cancel state for a fuzzing run.
// It is safe for concurrent use by multiple goroutines.
type RunControl struct {
	runID string
	state State
	mu    sync.RWMutex

	// pauseCond is used to block workers when paused
	pauseCond *sync.Cond

	// ctx is cancelled when the run is cancelled
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new RunControl in running state
func New(runID string) *RunControl {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RunControl{
		runID:  runID,
		state:  StateRunning,
		ctx:    ctx,
		cancel: cancel,
	}
	rc.pauseCond = sync.NewCond(&rc.mu)
	return rc
}

// RunID returns the run ID this control is managing
func (rc *RunControl) RunID() string {
	return rc.runID
}

// Context returns the context that is cancelled when the run is cancelled.
// Use this context for connections and other cancellable operations.
func (rc *RunControl) Context() context.Context {
	return rc.ctx
}

// State returns current state
func (rc *RunControl) State() State {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state
}

// SetPaused transitions to paused state
func (rc *RunControl) SetPaused() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state == StateCancelled {
		return // Can't pause a cancelled run
	}

	rc.state = StatePaused
}

// SetRunning transitions to running state (unblocks paused workers)
func (rc *RunControl) SetRunning() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state == StateCancelled {
		return // Can't resume a cancelled run
	}

	wasPaused := rc.state == StatePaused
	rc.state = StateRunning

	if wasPaused {
		rc.pauseCond.Broadcast()
	}
}

// SetCancelled transitions to cancelled state
func (rc *RunControl) SetCancelled() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state == StateCancelled {
		return // Already cancelled
	}

	rc.state = StateCancelled

	// Cancel the context to stop in-flight deliveries
	rc.cancel()

	// Wake up any waiting goroutines so they can exit
	rc.pauseCond.Broadcast()
}

// Checkpoint blocks if paused, returns false if cancelled.
// Workers call this between cases.
// Returns true if fuzzing should continue, false if it should stop.
func (rc *RunControl) Checkpoint() bool {
	rc.mu.RLock()
	state := rc.state
	rc.mu.RUnlock()

	// Fast path: if running, continue immediately
	if state == StateRunning {
		return true
	}

	if state == StateCancelled {
		return false
	}

	// If paused, block until resumed or cancelled
	rc.mu.Lock()
	for rc.state == StatePaused {
		rc.pauseCond.Wait()
	}
	state = rc.state
	rc.mu.Unlock()

	return state != StateCancelled
}

// CheckpointWithContext is like Checkpoint but also respects a passed context.
// This is useful when the run itself has a timeout or external cancellation.
func (rc *RunControl) CheckpointWithContext(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	rc.mu.RLock()
	state := rc.state
	rc.mu.RUnlock()

	if state == StateRunning {
		return true
	}

	if state == StateCancelled {
		return false
	}

	// If paused, need to wait but also watch the external context
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for rc.state == StatePaused {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				rc.pauseCond.Broadcast()
			case <-done:
			}
		}()

		rc.pauseCond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return false
		default:
		}
	}

	return rc.state != StateCancelled
}

// IsCancelled returns true if the run has been cancelled
func (rc *RunControl) IsCancelled() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state == StateCancelled
}

// IsPaused returns true if the run is paused
func (rc *RunControl) IsPaused() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state == StatePaused
}

// IsRunning returns true if the run is running
func (rc *RunControl) IsRunning() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state == StateRunning
}
