// Package provider defines the interface for conversational voice providers.
package provider

import "context"

// Source identifies who produced a transcript message.
type Source string

const (
	SourceUser  Source = "user"
	SourceAgent Source = "agent"
)

// Message is a transcript line reported by the provider. Type carries the
// provider's raw event name (user_transcript, agent_response).
type Message struct {
	Type   string
	Source Source
	Text   string
}

// Mode is the conversational turn the provider is in.
type Mode string

const (
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
)

// Callback receives session events from the provider. Calls may arrive on any
// goroutine and in any order relative to the caller's own method calls.
type Callback interface {
	// OnConnect is called once the session is established.
	OnConnect(conversationID string)

	// OnDisconnect is called when the session ends for any reason.
	OnDisconnect(reason string)

	// OnMessage is called for user transcripts and agent responses.
	OnMessage(msg Message)

	// OnModeChange is called when the agent starts or stops speaking.
	OnModeChange(mode Mode)

	// OnError is called when the session fails after it was started.
	OnError(err error)

	// OnAudio is called with agent audio chunks (PCM).
	OnAudio(chunk []byte)
}

// Overrides customise the agent for one session.
type Overrides struct {
	Prompt       string
	FirstMessage string
	Language     string
	VoiceID      string
}

// StartOptions selects the session to open. SignedURL takes precedence over
// AgentID; AgentID alone only works for public agents.
type StartOptions struct {
	SignedURL string
	AgentID   string
	Overrides Overrides
}

// Conversation is one open realtime session.
type Conversation interface {
	// SendText sends a typed user message into the conversation.
	SendText(ctx context.Context, text string) error

	// SendAudio forwards a user audio chunk. Chunks are dropped while muted.
	SendAudio(ctx context.Context, chunk []byte) error

	// SetMuted stops or resumes forwarding of user audio.
	SetMuted(muted bool)

	// End asks the provider to terminate the session gracefully. Idempotent.
	End(ctx context.Context) error
}

// Adapter opens sessions with a provider (ElevenLabs, mock, ...).
type Adapter interface {
	// Start opens a session and returns once the connection is established
	// or failed. cb.OnConnect fires before Start returns on success.
	Start(ctx context.Context, opts StartOptions, cb Callback) (Conversation, error)

	// Name returns a short provider label for logs and metrics.
	Name() string
}
