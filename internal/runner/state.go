package runner

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of one query execution.
type State string

const (
	StateQueued            State = "queued"
	StateRunning           State = "running"
	StateSucceeded         State = "succeeded"
	StateFailedFatal       State = "failed-fatal"
	StateFailedRecoverable State = "failed-recoverable"
)

// Terminal reports whether s ends an execution.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedFatal || s == StateFailedRecoverable
}

var allowedTransitions = map[State][]State{
	StateQueued:  {StateRunning},
	StateRunning: {StateSucceeded, StateFailedFatal, StateFailedRecoverable},
}

// execution tracks the state of one job run. Parts of one job may start
// concurrently.
type execution struct {
	id string

	mu    sync.Mutex
	state State
}

func newExecution(id string) *execution {
	return &execution{id: id, state: StateQueued}
}

// start moves a queued execution to running. Later calls are no-ops.
func (e *execution) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateQueued {
		e.state = StateRunning
	}
}

func (e *execution) current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *execution) advance(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range allowedTransitions[e.state] {
		if s == to {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("query %s: invalid transition %s -> %s", e.id, e.state, to)
}
