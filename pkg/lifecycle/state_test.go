package lifecycle

import (
	"errors"
	"sync"
	"testing"

	"github.com/bft-labs/chromasync/pkg/log"
)

// mockEmitter tracks state change events for testing.
type mockEmitter struct {
	mu     sync.Mutex
	events []stateChangeEvent
}

type stateChangeEvent struct {
	system   string
	previous State
	current  State
	reason   string
}

func (m *mockEmitter) OnStateChange(system string, previous, current State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stateChangeEvent{system, previous, current, reason})
}

func (m *mockEmitter) Events() []stateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stateChangeEvent{}, m.events...)
}

func TestNewTracker(t *testing.T) {
	tr := NewTracker("settings", log.NoopLogger{}, nil)

	if tr.State() != StateUninitialized {
		t.Errorf("initial state = %v, want uninitialized", tr.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{StateDegraded, "degraded"},
		{StateFailed, "failed"},
		{StateDestroyed, "destroyed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		got := tt.state.String()
		if got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestTracker_TransitionTo_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"uninitialized to initializing", StateUninitialized, StateInitializing},
		{"uninitialized to failed", StateUninitialized, StateFailed},
		{"initializing to ready", StateInitializing, StateReady},
		{"initializing to failed", StateInitializing, StateFailed},
		{"ready to degraded", StateReady, StateDegraded},
		{"degraded to ready", StateDegraded, StateReady},
		{"degraded to destroyed", StateDegraded, StateDestroyed},
		{"failed to destroyed", StateFailed, StateDestroyed},
		{"destroyed to uninitialized", StateDestroyed, StateUninitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("sys", nil, nil)
			tr.state = tt.from

			if err := tr.TransitionTo(tt.to, "test"); err != nil {
				t.Errorf("TransitionTo() error = %v", err)
			}
			if tr.State() != tt.to {
				t.Errorf("state = %v after transition, want %v", tr.State(), tt.to)
			}
		})
	}
}

func TestTracker_TransitionTo_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"uninitialized to ready", StateUninitialized, StateReady},
		{"initializing to degraded", StateInitializing, StateDegraded},
		{"failed to ready", StateFailed, StateReady},
		{"failed to initializing", StateFailed, StateInitializing},
		{"destroyed to ready", StateDestroyed, StateReady},
		{"ready to initializing", StateReady, StateInitializing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("sys", nil, nil)
			tr.state = tt.from

			err := tr.TransitionTo(tt.to, "test")
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("TransitionTo() error = %v, want ErrInvalidTransition", err)
			}
			// State should not change on invalid transition
			if tr.State() != tt.from {
				t.Errorf("state changed to %v on invalid transition, want %v", tr.State(), tt.from)
			}
		})
	}
}

func TestTracker_TransitionTo_EmitsEvents(t *testing.T) {
	emitter := &mockEmitter{}
	tr := NewTracker("music-sync", nil, emitter)

	_ = tr.TransitionTo(StateInitializing, "start test")
	_ = tr.TransitionTo(StateReady, "ready test")
	_ = tr.TransitionTo(StateReady, "no-op")

	events := emitter.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].system != "music-sync" {
		t.Errorf("event system = %q, want music-sync", events[0].system)
	}
	if events[0].previous != StateUninitialized || events[0].current != StateInitializing {
		t.Errorf("event 0: got %v->%v, want uninitialized->initializing", events[0].previous, events[0].current)
	}
	if events[1].previous != StateInitializing || events[1].current != StateReady {
		t.Errorf("event 1: got %v->%v, want initializing->ready", events[1].previous, events[1].current)
	}
}

func TestTracker_FailRecordsError(t *testing.T) {
	tr := NewTracker("color-harmony", nil, nil)
	_ = tr.TransitionTo(StateInitializing, "test")

	cause := errors.New("no palette")
	if err := tr.Fail(cause); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	st := tr.Status()
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
	if !errors.Is(st.LastError, cause) {
		t.Errorf("LastError = %v, want %v", st.LastError, cause)
	}
}

func TestTracker_Concurrency(t *testing.T) {
	tr := NewTracker("sys", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.State()
				_ = tr.Status()
			}
		}()
	}

	// Concurrent transitions (some will fail, which is expected)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.TransitionTo(StateInitializing, "test")
			_ = tr.TransitionTo(StateReady, "test")
		}()
	}
	wg.Wait()

	if tr.State() != StateReady {
		t.Errorf("state = %v, want ready", tr.State())
	}
}
