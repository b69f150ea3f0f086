package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/pkg/log"
)

// State represents the lifecycle state of a managed system.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDegraded
	StateFailed
	StateDestroyed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Operational reports whether a system in state s has initialized and is
// serving, possibly with reduced function.
func (s State) Operational() bool {
	return s == StateReady || s == StateDegraded
}

// Terminal reports whether initialization is over for a system in state s.
func (s State) Terminal() bool {
	return s != StateUninitialized && s != StateInitializing
}

var transitions = map[State][]State{
	StateUninitialized: {StateInitializing, StateFailed, StateDestroyed},
	StateInitializing:  {StateReady, StateFailed, StateDestroyed},
	StateReady:         {StateDegraded, StateFailed, StateDestroyed},
	StateDegraded:      {StateReady, StateFailed, StateDestroyed},
	StateFailed:        {StateDestroyed},
	StateDestroyed:     {StateUninitialized},
}

// CanTransition reports whether from -> to is a valid transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventEmitter is called when a system's lifecycle state changes.
type EventEmitter interface {
	OnStateChange(system string, previous, current State, reason string)
}

// Status is a snapshot of one system's lifecycle bookkeeping.
type Status struct {
	Name       string
	State      State
	LastError  error
	LastHealth *HealthResult
	CheckedAt  time.Time
	ReadyIn    time.Duration
}

// Tracker is the per-system state machine.
type Tracker struct {
	mu        sync.RWMutex
	system    string
	state     State
	lastErr   error
	health    *HealthResult
	checkedAt time.Time
	readyIn   time.Duration
	logger    log.Logger
	emitter   EventEmitter
}

// NewTracker creates a tracker in StateUninitialized.
func NewTracker(system string, logger log.Logger, emitter EventEmitter) *Tracker {
	return &Tracker{
		system:  system,
		state:   StateUninitialized,
		logger:  log.OrNoop(logger),
		emitter: emitter,
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// TransitionTo attempts to transition to a new state. A transition to the
// current state is a no-op.
func (t *Tracker) TransitionTo(newState State, reason string) error {
	t.mu.Lock()
	oldState := t.state
	if oldState == newState {
		t.mu.Unlock()
		return nil
	}
	if !CanTransition(oldState, newState) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.system, oldState, newState)
	}
	t.state = newState
	t.mu.Unlock()

	// Emit event outside of lock
	if t.emitter != nil {
		t.emitter.OnStateChange(t.system, oldState, newState, reason)
	}

	t.logger.Info("state transition",
		log.String("system", t.system),
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

// Fail records err and moves the system to StateFailed.
func (t *Tracker) Fail(err error) error {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	reason := "failed"
	if err != nil {
		reason = err.Error()
	}
	return t.TransitionTo(StateFailed, reason)
}

func (t *Tracker) setReadyIn(d time.Duration) {
	t.mu.Lock()
	t.readyIn = d
	t.mu.Unlock()
}

// RecordHealth stores the last health result.
func (t *Tracker) RecordHealth(res HealthResult, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.health = &res
	t.checkedAt = at
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := Status{
		Name:      t.system,
		State:     t.state,
		LastError: t.lastErr,
		CheckedAt: t.checkedAt,
		ReadyIn:   t.readyIn,
	}
	if t.health != nil {
		h := *t.health
		st.LastHealth = &h
	}
	return st
}
