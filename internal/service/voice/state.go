package voice

import "fmt"

// ConnectionState is the lifecycle state of a controller's session.
type ConnectionState int

const (
	// StateIdle - no session.
	StateIdle ConnectionState = iota
	// StateConnecting - StartCall in flight, provider not yet connected.
	StateConnecting
	// StateConnected - live session.
	StateConnected
	// StateError - the last attempt failed; StartCall may be retried.
	StateError
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText renders the state as its name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, st := range []ConnectionState{StateIdle, StateConnecting, StateConnected, StateError} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Active reports whether a session is connecting or connected.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// Role is the author of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptEntry is one utterance in the current session.
type TranscriptEntry struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the controller's observable state.
type Snapshot struct {
	SessionID      string            `json:"sessionId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	AgentID        string            `json:"agentId"`
	Route          string            `json:"route"`
	State          ConnectionState   `json:"state"`
	Muted          bool              `json:"muted"`
	AgentSpeaking  bool              `json:"agentSpeaking"`
	UserListening  bool              `json:"userListening"`
	LastError      string            `json:"lastError,omitempty"`
	ErrorKind      Kind              `json:"errorKind,omitempty"`
	Transcript     []TranscriptEntry `json:"transcript"`
	// Version increases with every change; observers drop older snapshots.
	Version uint64 `json:"version"`
}

// EventKind identifies what changed.
type EventKind int

const (
	EventStarting EventKind = iota
	EventConnected
	EventFailed
	EventEnded
	EventUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventStarting:
		return "starting"
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventEnded:
		return "ended"
	case EventUpdated:
		return "updated"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event is delivered to observers after every state change.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	// Err is set for EventFailed.
	Err error
	// Reason is set for EventEnded.
	Reason string
}
