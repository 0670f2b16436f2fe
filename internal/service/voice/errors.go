package voice

import (
	"errors"
	"fmt"
)

// Kind classifies session failures.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindCredentialFetch    Kind = "credential_fetch"
	KindProviderConnection Kind = "provider_connection"
	KindPermissionDenied   Kind = "permission_denied"
	KindNotReady           Kind = "not_ready"
)

// Retryable reports whether calling StartCall again can succeed without an
// environment change.
func (k Kind) Retryable() bool {
	return k != KindConfiguration
}

// userMessages are shown in place of the status line when a session fails.
var userMessages = map[Kind]string{
	KindConfiguration:      "Voice assistant is not configured for this page.",
	KindCredentialFetch:    "Couldn't reach the voice service. Please try again.",
	KindProviderConnection: "The voice connection failed. Please try again.",
	KindPermissionDenied:   "Microphone access was denied. Allow microphone access in your browser settings and try again.",
	KindNotReady:           "The assistant isn't ready yet. Please try again in a moment.",
}

// Error is a session failure of a given Kind.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrNotReady) works
// regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// UserMessage is the human-readable text for the widget.
func (e *Error) UserMessage() string {
	return userMessages[e.Kind]
}

// Kind sentinels for errors.Is.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrCredentialFetch    = &Error{Kind: KindCredentialFetch}
	ErrProviderConnection = &Error{Kind: KindProviderConnection}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrNotReady           = &Error{Kind: KindNotReady}
)

var (
	// ErrCallInProgress is returned by StartCall while a session is connecting or connected.
	ErrCallInProgress = errors.New("call already in progress")
	// ErrSessionAborted is returned by StartCall when the attempt was ended before it completed.
	ErrSessionAborted = errors.New("session start aborted")
	// ErrControllerClosed is returned once the owning widget has been unmounted.
	ErrControllerClosed = errors.New("controller closed")
	// ErrEmptyMessage is returned by SendText for blank input.
	ErrEmptyMessage = errors.New("empty message")
)
