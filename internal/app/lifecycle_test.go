package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events [][2]State
}

func (r *recordingEmitter) OnStateChange(previous, current State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, [2]State{previous, current})
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "Stopped"},
		{StateRunning, "Running"},
		{StateCrashed, "Crashed"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr error
	}{
		{"stopped to starting", StateStopped, StateStarting, nil},
		{"starting to running", StateStarting, StateRunning, nil},
		{"early stop", StateStarting, StateStopping, nil},
		{"running to stopping", StateRunning, StateStopping, nil},
		{"stopping to stopped", StateStopping, StateStopped, nil},
		{"crashed restart", StateCrashed, StateStarting, nil},
		{"stopped to running", StateStopped, StateRunning, domain.ErrNotRunning},
		{"crashed to stopped", StateCrashed, StateStopped, domain.ErrNotRunning},
		{"running to starting", StateRunning, StateStarting, domain.ErrAlreadyRunning},
		{"stopping to running", StateStopping, StateRunning, domain.ErrAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle(nil, nil)
			l.state = tt.from

			err := l.TransitionTo(tt.to, "test")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TransitionTo() = %v, want %v", err, tt.wantErr)
			}
			want := tt.to
			if tt.wantErr != nil {
				want = tt.from
			}
			if l.State() != want {
				t.Errorf("state = %v, want %v", l.State(), want)
			}
		})
	}
}

func TestLifecycle_EmitsEvents(t *testing.T) {
	em := &recordingEmitter{}
	l := NewLifecycle(nil, em)

	_ = l.TransitionTo(StateStarting, "start")
	_ = l.TransitionTo(StateRunning, "up")

	if len(em.events) != 2 {
		t.Fatalf("got %d events, want 2", len(em.events))
	}
	if em.events[1] != [2]State{StateStarting, StateRunning} {
		t.Errorf("second event = %v", em.events[1])
	}
}

func TestLifecycle_CancelStopsWorkers(t *testing.T) {
	l := NewLifecycle(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)

	for i := 0; i < 3; i++ {
		l.Go(func() { <-ctx.Done() })
	}
	l.Cancel()

	if err := l.WaitWithTimeout(time.Second); err != nil {
		t.Fatalf("WaitWithTimeout() = %v", err)
	}
}

func TestLifecycle_WaitWithTimeout_Timeout(t *testing.T) {
	l := NewLifecycle(nil, nil)
	release := make(chan struct{})
	l.Go(func() { <-release })

	if err := l.WaitWithTimeout(10 * time.Millisecond); err != domain.ErrShutdownTimeout {
		t.Errorf("WaitWithTimeout() = %v, want ErrShutdownTimeout", err)
	}
	close(release)
}

func TestLifecycle_CanStartStop(t *testing.T) {
	l := NewLifecycle(nil, nil)
	if !l.CanStart() || l.CanStop() {
		t.Fatal("stopped lifecycle should be startable only")
	}
	_ = l.TransitionTo(StateStarting, "")
	_ = l.TransitionTo(StateRunning, "")
	if l.CanStart() || !l.CanStop() {
		t.Fatal("running lifecycle should be stoppable only")
	}
}
