// Package presentation provides the widget presentation state machine.
package presentation

import (
	"errors"
	"fmt"
	"sync"
)

// State represents what the widget shows.
type State int

const (
	// StateIdle - nothing visible.
	StateIdle State = iota
	// StateConnecting - transient spinner while the session starts.
	StateConnecting
	// StateCompact - full panel with waveform, controls and transcript.
	StateCompact
	// StateMinimized - small draggable bubble.
	StateMinimized
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateCompact:
		return "compact"
	case StateMinimized:
		return "minimized"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Visible reports whether the widget shows a session.
func (s State) Visible() bool {
	return s == StateCompact || s == StateMinimized
}

// DefaultDragThreshold is the downward drag distance, in pixels, that
// commits the panel to minimized.
const DefaultDragThreshold = 100

// elasticity damps upward drags, which never commit.
const elasticity = 0.2

// ErrInvalidTransition is returned for events that have no edge from the
// current state. The state is left unchanged.
var ErrInvalidTransition = errors.New("invalid presentation transition")

// TransitionFunc is called after every applied transition, under the
// machine's lock. It must not call back into the machine.
type TransitionFunc func(from, to State)

// Machine manages the presentation state of one widget.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	idle ──Start──→ connecting ──Connected──→ compact ⇄ minimized
//	 ↑                  │                        │          │
//	 └──StartFailed─────┘                        │          │
//	 └──────────────── Disconnected ─────────────┴──────────┘
//
// Rules:
//   - compact → minimized on Minimize, or on Release after a drag past the threshold
//   - minimized → compact on Tap
//   - a drag released short of the threshold springs back and stays compact
//   - Reset forces idle from any state (route change)
type Machine struct {
	mu           sync.RWMutex
	state        State
	threshold    float64
	offset       float64
	onTransition TransitionFunc
}

// NewMachine creates a machine in idle. A non-positive threshold selects
// DefaultDragThreshold.
func NewMachine(threshold float64, onTransition TransitionFunc) *Machine {
	if threshold <= 0 {
		threshold = DefaultDragThreshold
	}
	return &Machine{
		state:        StateIdle,
		threshold:    threshold,
		onTransition: onTransition,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Offset returns the current drag offset of the panel.
func (m *Machine) Offset() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset
}

// Threshold returns the drag commit distance.
func (m *Machine) Threshold() float64 {
	return m.threshold
}

// Start moves idle to connecting when a call is placed.
func (m *Machine) Start() error {
	return m.transition(StateConnecting, StateIdle)
}

// Connected moves connecting to compact on the session's connect callback.
func (m *Machine) Connected() error {
	return m.transition(StateCompact, StateConnecting)
}

// StartFailed moves connecting back to idle when the start failed or was
// abandoned.
func (m *Machine) StartFailed() error {
	return m.transition(StateIdle, StateConnecting)
}

// Minimize collapses the panel into the bubble.
func (m *Machine) Minimize() error {
	return m.transition(StateMinimized, StateCompact)
}

// Tap expands the bubble into the panel.
func (m *Machine) Tap() error {
	return m.transition(StateCompact, StateMinimized)
}

// Disconnected returns a visible widget to idle when the session ends.
// A stray disconnect while idle or connecting is rejected.
func (m *Machine) Disconnected() error {
	return m.transition(StateIdle, StateCompact, StateMinimized)
}

// Drag moves the compact panel by dy pixels (positive is downward) and
// returns the resulting offset. Upward movement is elastic. Dragging only
// applies in compact.
func (m *Machine) Drag(dy float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCompact {
		return 0, fmt.Errorf("%w: drag in %s", ErrInvalidTransition, m.state)
	}
	if dy < 0 {
		dy *= elasticity
	}
	m.offset += dy
	return m.offset, nil
}

// Release ends a drag gesture. Past the threshold the panel commits to
// minimized; otherwise it springs back. It reports whether it minimized.
func (m *Machine) Release() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCompact {
		return false, fmt.Errorf("%w: release in %s", ErrInvalidTransition, m.state)
	}
	committed := m.offset >= m.threshold
	m.offset = 0
	if committed {
		m.setLocked(StateMinimized)
	}
	return committed, nil
}

// Reset forces idle from any state. Used by the route-change guard.
// Returns true if the state changed.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offset = 0
	if m.state == StateIdle {
		return false
	}
	m.setLocked(StateIdle)
	return true
}

func (m *Machine) transition(to State, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range from {
		if m.state == f {
			m.setLocked(to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.state, to)
}

func (m *Machine) setLocked(to State) {
	from := m.state
	m.state = to
	m.offset = 0
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}
