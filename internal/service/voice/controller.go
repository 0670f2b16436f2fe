// Package voice owns the lifecycle of one live voice session per mounted
// widget: credential fetch, microphone access, the provider connection, and
// the state the widget renders.
package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/credential"
	"voice-hud-service/internal/media"
	"voice-hud-service/internal/models"
	"voice-hud-service/internal/observability/logging"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/provider"
)

const (
	DefaultReadyTimeout = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	publishTimeout = 5 * time.Second
	endTimeout     = 5 * time.Second
)

// Teardown reasons.
const (
	ReasonClient             = "client"
	ReasonProviderDisconnect = "provider_disconnect"
	ReasonRouteChange        = "route_change"
)

// sendFailedMessage replaces a typed message the provider refused.
const sendFailedMessage = "Sorry, I couldn't deliver that message. Please try again."

// Publisher receives session lifecycle events.
type Publisher interface {
	PublishSession(ctx context.Context, key string, event any) error
}

// Observer is called after every state change, outside the controller lock.
// Events from different goroutines may interleave; Snapshot.Version orders them.
type Observer func(Event)

// Options wires a controller to its collaborators.
type Options struct {
	Credentials credential.Fetcher
	Provider    provider.Adapter
	Microphone  media.Microphone
	Publisher   Publisher
	Overrides   provider.Overrides

	// ReadyTimeout bounds how long SendText waits for a connecting session.
	ReadyTimeout time.Duration
	PollInterval time.Duration

	// Audio receives agent audio chunks of the live session.
	Audio func(chunk []byte)

	Metrics *metrics.Metrics
}

// Controller mediates one agent's voice session. It is safe for concurrent
// use; at most one provider connection is open at a time.
//
// State transitions:
//
//	idle|error ──StartCall──→ connecting ──OnConnect──→ connected
//	     ↑                        │                        │
//	     │                   failure → error          OnError → error
//	     └──── EndCall / OnDisconnect / Close ←────────────┘
//
// Every attempt gets a generation number. Provider callbacks carry the
// generation they were registered with and are ignored once it is stale.
type Controller struct {
	agent  agent.Identity
	opts   Options
	logger zerolog.Logger

	mu             sync.Mutex
	state          ConnectionState
	starting       bool
	closed         bool
	gen            uint64
	version        uint64
	sessionID      string
	conversationID string
	startedAt      time.Time
	conv           provider.Conversation
	mic            media.Stream
	muted          bool
	speaking       bool
	listening      bool
	lastErr        string
	errKind        Kind
	transcript     []TranscriptEntry

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// NewController creates an idle controller for the given agent.
func NewController(id agent.Identity, opts Options) *Controller {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Controller{
		agent:     id,
		opts:      opts,
		logger:    logging.WithSession("", id.AgentID, id.Route),
		observers: make(map[int]Observer),
	}
}

// Agent returns the identity the controller speaks for.
func (c *Controller) Agent() agent.Identity {
	return c.agent
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Controller) Subscribe(o Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a session is starting, connecting or connected.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Controller) busyLocked() bool {
	return c.starting || c.conv != nil || c.state.Active()
}

// StartCall opens a session. The re-entrancy guard is taken before the first
// suspension, so concurrent calls produce exactly one credential fetch and one
// provider session; the losers get ErrCallInProgress.
//
// Failures are recorded as state=error with a user message and also returned;
// callers may ignore the returned error.
func (c *Controller) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.busyLocked() {
		c.mu.Unlock()
		c.opts.Metrics.RecordStartSuppressed()
		return ErrCallInProgress
	}
	if !c.agent.Configured() {
		err := newError(KindConfiguration, errors.New("agent id is not configured for route "+c.agent.Route))
		c.state = StateError
		c.lastErr = err.UserMessage()
		c.errKind = err.Kind
		c.version++
		ev := Event{Kind: EventFailed, Snapshot: c.snapshotLocked(), Err: err}
		c.mu.Unlock()

		c.opts.Metrics.RecordSessionRejected(string(err.Kind))
		c.logger.Warn().Msg("Voice agent not configured, call unavailable")
		c.emit(ev)
		return err
	}

	c.starting = true
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.sessionID = uuid.NewString()
	c.conversationID = ""
	c.startedAt = time.Now()
	c.lastErr = ""
	c.errKind = ""
	c.muted, c.speaking, c.listening = false, false, false
	c.transcript = nil
	c.version++
	sessionID := c.sessionID
	ev := Event{Kind: EventStarting, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	logger := logging.WithSession(sessionID, c.agent.AgentID, c.agent.Route)
	logger.Info().Str("provider", c.opts.Provider.Name()).Msg("Starting voice session")
	c.opts.Metrics.RecordSessionStart(c.agent.Route)
	c.publish(models.EventSessionStarting, sessionID, "", nil, "", 0)
	c.emit(ev)

	fetchStart := time.Now()
	signedURL, err := c.opts.Credentials.Fetch(ctx, c.agent.AgentID)
	c.opts.Metrics.RecordCredentialFetch(time.Since(fetchStart).Seconds())
	if err != nil {
		return c.fail(gen, newError(KindCredentialFetch, err))
	}
	if !c.current(gen) {
		return ErrSessionAborted
	}

	mic, err := c.opts.Microphone.Acquire(ctx)
	if err != nil {
		return c.fail(gen, newError(KindPermissionDenied, err))
	}
	if !c.current(gen) {
		mic.Release()
		return ErrSessionAborted
	}

	cb := &sessionCallback{c: c, gen: gen}
	conv, err := c.opts.Provider.Start(ctx, provider.StartOptions{
		SignedURL: signedURL,
		AgentID:   c.agent.AgentID,
		Overrides: c.opts.Overrides,
	}, cb)
	if err != nil {
		mic.Release()
		return c.fail(gen, newError(KindProviderConnection, err))
	}

	c.mu.Lock()
	if c.gen != gen {
		// Ended, failed or closed while the provider was connecting.
		c.mu.Unlock()
		endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		if err := conv.End(endCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to end abandoned provider session")
		}
		mic.Release()
		return ErrSessionAborted
	}
	c.conv = conv
	c.mic = mic
	c.mu.Unlock()

	return nil
}

// EndCall tears down the session. It is idempotent and safe to race with the
// provider's disconnect callback: exactly one caller releases the connection.
func (c *Controller) EndCall(ctx context.Context) error {
	c.teardown(ctx, 0, false, ReasonClient, true)
	return nil
}

// Close ends any session and refuses further StartCall attempts. Used when
// the owning widget unmounts.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.teardown(ctx, 0, false, ReasonRouteChange, true)
	return nil
}

// ToggleMute flips the mute flag of the live session and stops (or resumes)
// forwarding of microphone audio to the provider. Without a session it does
// nothing and returns false.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return false
	}
	c.muted = !c.muted
	c.conv.SetMuted(c.muted)
	muted := c.muted
	c.version++
	ev := Event{Kind: EventUpdated, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	c.emit(ev)
	return muted
}

// SendAudio forwards a microphone chunk to the live session. Chunks are
// dropped while muted.
func (c *Controller) SendAudio(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	conv, muted := c.conv, c.muted
	c.mu.Unlock()

	if conv == nil {
		return newError(KindNotReady, errors.New("no live session"))
	}
	if muted {
		return nil
	}
	return conv.SendAudio(ctx, chunk)
}

// SendText sends a typed message. While the session is still connecting it
// polls until connected or the ready timeout elapses. Once connected the user
// entry is appended immediately; if the provider rejects the message an
// error-flavoured agent entry is appended instead of returning an error.
func (c *Controller) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	conv, gen, err := c.waitReady(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err.UserMessage()
		c.errKind = err.Kind
		c.version++
		ev := Event{Kind: EventUpdated, Snapshot: c.snapshotLocked()}
		c.mu.Unlock()
		c.emit(ev)
		return err
	}

	if !c.appendEntry(gen, TranscriptEntry{Role: RoleUser, Text: text}) {
		return newError(KindNotReady, errors.New("session ended"))
	}

	if err := conv.SendText(ctx, text); err != nil {
		c.logger.Warn().Err(err).Msg("Provider rejected text message")
		c.appendEntry(gen, TranscriptEntry{Role: RoleAgent, Text: sendFailedMessage, Error: true})
	}
	return nil
}

// waitReady returns the live conversation, polling while connecting.
func (c *Controller) waitReady(ctx context.Context) (provider.Conversation, uint64, *Error) {
	deadline := time.NewTimer(c.opts.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		state, conv, gen := c.state, c.conv, c.gen
		c.mu.Unlock()

		if state == StateConnected && conv != nil {
			return conv, gen, nil
		}
		if !state.Active() {
			return nil, 0, newError(KindNotReady, errors.New("no session in progress"))
		}

		select {
		case <-ctx.Done():
			return nil, 0, newError(KindNotReady, ctx.Err())
		case <-deadline.C:
			return nil, 0, newError(KindNotReady, errors.New("timed out waiting for session"))
		case <-ticker.C:
		}
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// fail records a failed attempt or session and releases its resources.
func (c *Controller) fail(gen uint64, err *Error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrSessionAborted
	}
	c.gen++
	conv, mic := c.conv, c.mic
	c.conv, c.mic = nil, nil
	c.starting = false
	c.state = StateError
	c.lastErr = err.UserMessage()
	c.errKind = err.Kind
	c.muted, c.speaking, c.listening = false, false, false
	sessionID := c.sessionID
	ev := Event{Kind: EventFailed, Err: err}
	c.version++
	ev.Snapshot = c.snapshotLocked()
	c.mu.Unlock()

	c.release(conv, mic)

	logger := logging.WithSession(sessionID, c.agent.AgentID, c.agent.Route)
	logger.Error().
		Err(err).
		Str("kind", string(err.Kind)).
		Msg("Voice session failed")
	c.opts.Metrics.RecordSessionFailed(string(err.Kind))
	c.publish(models.EventSessionFailed, sessionID, "", err, "", 0)
	c.emit(ev)
	return err
}

// teardown ends the session of generation gen (or any, when checkGen is
// false). Only the caller that swaps the connection out runs the side effects.
func (c *Controller) teardown(ctx context.Context, gen uint64, checkGen bool, reason string, endRemote bool) bool {
	c.mu.Lock()
	if checkGen && c.gen != gen {
		c.mu.Unlock()
		return false
	}
	if !c.busyLocked() {
		c.mu.Unlock()
		return false
	}
	c.gen++
	conv, mic := c.conv, c.mic
	c.conv, c.mic = nil, nil
	c.starting = false
	c.state = StateIdle
	c.muted, c.speaking, c.listening = false, false, false
	c.lastErr = ""
	c.errKind = ""
	c.transcript = nil
	sessionID, conversationID := c.sessionID, c.conversationID
	duration := time.Since(c.startedAt)
	c.version++
	ev := Event{Kind: EventEnded, Reason: reason, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	if endRemote && conv != nil {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
		if err := conv.End(endCtx); err != nil {
			c.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Provider session did not end cleanly")
		}
		cancel()
	}
	c.release(nil, mic)

	logger := logging.WithSession(sessionID, c.agent.AgentID, c.agent.Route)
	logger.Info().
		Str("reason", reason).
		Dur("duration", duration).
		Msg("Voice session ended")
	c.opts.Metrics.RecordSessionEnd(reason, duration.Seconds())
	c.publish(models.EventSessionEnded, sessionID, conversationID, nil, reason, duration)
	c.emit(ev)
	return true
}

func (c *Controller) release(conv provider.Conversation, mic media.Stream) {
	if conv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		if err := conv.End(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to end provider session")
		}
	}
	if mic != nil {
		mic.Release()
	}
}

// appendEntry adds a transcript entry if gen is still the live session.
func (c *Controller) appendEntry(gen uint64, entry TranscriptEntry) bool {
	c.mu.Lock()
	if c.gen != gen || !c.state.Active() {
		c.mu.Unlock()
		return false
	}
	c.transcript = append(c.transcript, entry)
	c.version++
	ev := Event{Kind: EventUpdated, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	c.emit(ev)
	return true
}

func (c *Controller) snapshotLocked() Snapshot {
	transcript := make([]TranscriptEntry, len(c.transcript))
	copy(transcript, c.transcript)
	return Snapshot{
		SessionID:      c.sessionID,
		ConversationID: c.conversationID,
		AgentID:        c.agent.AgentID,
		Route:          c.agent.Route,
		State:          c.state,
		Muted:          c.muted,
		AgentSpeaking:  c.speaking,
		UserListening:  c.listening,
		LastError:      c.lastErr,
		ErrorKind:      c.errKind,
		Transcript:     transcript,
		Version:        c.version,
	}
}

func (c *Controller) emit(ev Event) {
	c.obsMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.obsMu.RUnlock()

	for _, o := range observers {
		o(ev)
	}
}

func (c *Controller) publish(eventType, sessionID, conversationID string, err *Error, reason string, duration time.Duration) {
	if c.opts.Publisher == nil {
		return
	}
	ev := models.SessionEvent{
		EventType:      eventType,
		SessionID:      sessionID,
		AgentID:        c.agent.AgentID,
		Route:          c.agent.Route,
		ConversationID: conversationID,
		Provider:       c.opts.Provider.Name(),
		Reason:         reason,
		DurationMs:     duration.Milliseconds(),
		Timestamp:      time.Now().UnixMilli(),
	}
	if err != nil {
		ev.ErrorKind = string(err.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if perr := c.opts.Publisher.PublishSession(ctx, sessionID, ev); perr != nil {
		c.logger.Warn().Err(perr).Str("eventType", eventType).Msg("Failed to publish session event")
	}
}

// sessionCallback binds provider callbacks to one session generation.
type sessionCallback struct {
	c   *Controller
	gen uint64
}

func (cb *sessionCallback) OnConnect(conversationID string) {
	c := cb.c
	c.mu.Lock()
	if c.gen != cb.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.starting = false
	c.conversationID = conversationID
	sessionID := c.sessionID
	c.version++
	ev := Event{Kind: EventConnected, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	logger := logging.WithSession(sessionID, c.agent.AgentID, c.agent.Route)
	logger.Info().
		Str("conversationId", conversationID).
		Msg("Voice session connected")
	c.opts.Metrics.RecordSessionConnected()
	c.publish(models.EventSessionConnected, sessionID, conversationID, nil, "", 0)
	c.emit(ev)
}

func (cb *sessionCallback) OnDisconnect(reason string) {
	c := cb.c
	c.mu.Lock()
	connecting := c.gen == cb.gen && c.state == StateConnecting
	c.mu.Unlock()

	if connecting {
		c.fail(cb.gen, newError(KindProviderConnection, errors.New("disconnected before connect: "+reason)))
		return
	}
	c.teardown(context.Background(), cb.gen, true, ReasonProviderDisconnect, false)
}

func (cb *sessionCallback) OnMessage(msg provider.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	role := RoleAgent
	if msg.Source == provider.SourceUser {
		role = RoleUser
	}
	if cb.c.appendEntry(cb.gen, TranscriptEntry{Role: role, Text: msg.Text}) {
		cb.c.opts.Metrics.RecordProviderMessage(string(msg.Source))
	}
}

func (cb *sessionCallback) OnModeChange(mode provider.Mode) {
	c := cb.c
	c.mu.Lock()
	if c.gen != cb.gen || !c.state.Active() {
		c.mu.Unlock()
		return
	}
	speaking := mode == provider.ModeSpeaking
	listening := mode == provider.ModeListening
	if speaking == c.speaking && listening == c.listening {
		c.mu.Unlock()
		return
	}
	c.speaking, c.listening = speaking, listening
	c.version++
	ev := Event{Kind: EventUpdated, Snapshot: c.snapshotLocked()}
	c.mu.Unlock()

	c.emit(ev)
}

func (cb *sessionCallback) OnError(err error) {
	cb.c.fail(cb.gen, newError(KindProviderConnection, err))
}

func (cb *sessionCallback) OnAudio(chunk []byte) {
	c := cb.c
	if c.opts.Audio == nil || !c.current(cb.gen) {
		return
	}
	c.opts.Audio(chunk)
}
