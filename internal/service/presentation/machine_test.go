package presentation

import (
	"errors"
	"testing"
)

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine(0, nil)

	if m.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", m.State())
	}
	if m.Threshold() != DefaultDragThreshold {
		t.Errorf("expected default threshold, got %v", m.Threshold())
	}
}

func TestMachine_ScriptedSequence(t *testing.T) {
	var seen []State
	m := NewMachine(100, func(from, to State) {
		seen = append(seen, to)
	})

	steps := []struct {
		name string
		do   func() error
	}{
		{"start", m.Start},
		{"connect", m.Connected},
		{"drag", func() error {
			if _, err := m.Drag(60); err != nil {
				return err
			}
			_, err := m.Drag(60)
			return err
		}},
		{"release", func() error {
			committed, err := m.Release()
			if err == nil && !committed {
				t.Error("expected drag past threshold to commit")
			}
			return err
		}},
		{"tap", m.Tap},
		{"disconnect", m.Disconnected},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
	}

	want := []State{StateConnecting, StateCompact, StateMinimized, StateCompact, StateIdle}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
}

func TestMachine_PartialDragSpringsBack(t *testing.T) {
	m := NewMachine(100, nil)
	m.Start()
	m.Connected()

	offset, err := m.Drag(99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 99 {
		t.Errorf("expected offset 99, got %v", offset)
	}

	committed, err := m.Release()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if committed {
		t.Error("expected partial drag not to commit")
	}
	if m.State() != StateCompact {
		t.Errorf("expected StateCompact, got %v", m.State())
	}
	if m.Offset() != 0 {
		t.Errorf("expected offset reset, got %v", m.Offset())
	}
}

func TestMachine_UpwardDragIsElastic(t *testing.T) {
	m := NewMachine(100, nil)
	m.Start()
	m.Connected()

	offset, _ := m.Drag(-50)
	if offset != -10 {
		t.Errorf("expected damped offset -10, got %v", offset)
	}
	if committed, _ := m.Release(); committed {
		t.Error("expected upward drag not to commit")
	}
}

func TestMachine_Minimize(t *testing.T) {
	m := NewMachine(100, nil)
	m.Start()
	m.Connected()

	if err := m.Minimize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateMinimized {
		t.Errorf("expected StateMinimized, got %v", m.State())
	}
	if err := m.Disconnected(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", m.State())
	}
}

func TestMachine_StartFailed(t *testing.T) {
	m := NewMachine(100, nil)
	m.Start()

	if err := m.StartFailed(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", m.State())
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []func(*Machine) error
		event func(*Machine) error
		state State
	}{
		{"disconnect while idle", nil, (*Machine).Disconnected, StateIdle},
		{"connect while idle", nil, (*Machine).Connected, StateIdle},
		{"tap while idle", nil, (*Machine).Tap, StateIdle},
		{"minimize while connecting", []func(*Machine) error{(*Machine).Start}, (*Machine).Minimize, StateConnecting},
		{"disconnect while connecting", []func(*Machine) error{(*Machine).Start}, (*Machine).Disconnected, StateConnecting},
		{"start while compact", []func(*Machine) error{(*Machine).Start, (*Machine).Connected}, (*Machine).Start, StateCompact},
		{"tap while compact", []func(*Machine) error{(*Machine).Start, (*Machine).Connected}, (*Machine).Tap, StateCompact},
		{"minimize while minimized", []func(*Machine) error{(*Machine).Start, (*Machine).Connected, (*Machine).Minimize}, (*Machine).Minimize, StateMinimized},
		{"start failed while compact", []func(*Machine) error{(*Machine).Start, (*Machine).Connected}, (*Machine).StartFailed, StateCompact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transitions := 0
			m := NewMachine(100, func(from, to State) { transitions++ })
			for _, s := range tt.setup {
				if err := s(m); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}
			before := transitions

			err := tt.event(m)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if m.State() != tt.state {
				t.Errorf("expected %v, got %v", tt.state, m.State())
			}
			if transitions != before {
				t.Errorf("expected no transition callback, got %d", transitions-before)
			}
		})
	}
}

func TestMachine_DragOutsideCompact(t *testing.T) {
	m := NewMachine(100, nil)

	if _, err := m.Drag(200); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := m.Release(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine(100, nil)

	if m.Reset() {
		t.Error("expected reset from idle to report no change")
	}

	m.Start()
	m.Connected()
	m.Drag(40)
	m.Minimize()
	if !m.Reset() {
		t.Error("expected reset to report a change")
	}
	if m.State() != StateIdle || m.Offset() != 0 {
		t.Errorf("expected idle with no offset, got %v/%v", m.State(), m.Offset())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateCompact, "compact"},
		{StateMinimized, "minimized"},
		{State(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
