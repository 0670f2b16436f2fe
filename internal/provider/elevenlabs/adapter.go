// Package elevenlabs implements provider.Adapter on top of the ElevenLabs
// Conversational AI WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-hud-service/internal/observability/logging"
	"voice-hud-service/internal/provider"
)

const (
	DefaultWSURL           = "wss://api.elevenlabs.io/v1/convai/conversation"
	DefaultQuietAfterAudio = 600 * time.Millisecond
	defaultHandshake       = 10 * time.Second
	writeTimeout           = 5 * time.Second
)

// Server and client event types.
const (
	typeInitClientData = "conversation_initiation_client_data"
	typeInitMetadata   = "conversation_initiation_metadata"
	typePing           = "ping"
	typePong           = "pong"
	typeUserTranscript = "user_transcript"
	typeAgentResponse  = "agent_response"
	typeAudio          = "audio"
	typeInterruption   = "interruption"
	typeUserMessage    = "user_message"
)

// ErrSessionClosed is returned when sending on an ended session.
var ErrSessionClosed = errors.New("elevenlabs: session closed")

// Config configures the adapter.
type Config struct {
	// BaseWSURL is used with StartOptions.AgentID when no signed URL is given.
	BaseWSURL string
	// QuietAfterAudio is how long after the last agent audio chunk the agent
	// is considered done speaking.
	QuietAfterAudio time.Duration
	// HandshakeTimeout bounds the wait for conversation metadata.
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// Adapter implements provider.Adapter for ElevenLabs.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an ElevenLabs adapter.
func New(cfg Config) *Adapter {
	if strings.TrimSpace(cfg.BaseWSURL) == "" {
		cfg.BaseWSURL = DefaultWSURL
	}
	if cfg.QuietAfterAudio <= 0 {
		cfg.QuietAfterAudio = DefaultQuietAfterAudio
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshake
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithComponent("elevenlabs"),
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "elevenlabs" }

// Start dials the conversation socket, sends the session overrides and waits
// for the conversation metadata before returning.
func (a *Adapter) Start(ctx context.Context, opts provider.StartOptions, cb provider.Callback) (provider.Conversation, error) {
	wsURL, err := a.sessionURL(opts)
	if err != nil {
		return nil, err
	}

	conn, resp, err := a.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("elevenlabs dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}

	c := &conversation{
		conn:   conn,
		cb:     cb,
		quiet:  a.cfg.QuietAfterAudio,
		logger: a.logger,
		closed: make(chan struct{}),
	}

	if err := c.writeJSON(ctx, newInitiation(opts.Overrides)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs initiation: %w", err)
	}

	conversationID, err := c.awaitMetadata(ctx, a.cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.logger = a.logger.With().Str("conversationId", conversationID).Logger()
	c.logger.Info().Msg("Conversation started")

	cb.OnConnect(conversationID)
	cb.OnModeChange(provider.ModeListening)

	go c.readLoop()
	return c, nil
}

func (a *Adapter) sessionURL(opts provider.StartOptions) (string, error) {
	if opts.SignedURL != "" {
		return opts.SignedURL, nil
	}
	if opts.AgentID == "" {
		return "", errors.New("elevenlabs: signed url or agent id required")
	}
	u, err := url.Parse(a.cfg.BaseWSURL)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", opts.AgentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type initiation struct {
	Type     string          `json:"type"`
	Override *configOverride `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
	TTS   *ttsOverride   `json:"tts,omitempty"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
	Language     string          `json:"language,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type ttsOverride struct {
	VoiceID string `json:"voice_id"`
}

func newInitiation(o provider.Overrides) initiation {
	msg := initiation{Type: typeInitClientData}
	var override configOverride
	if o.Prompt != "" || o.FirstMessage != "" || o.Language != "" {
		override.Agent = &agentOverride{FirstMessage: o.FirstMessage, Language: o.Language}
		if o.Prompt != "" {
			override.Agent.Prompt = &promptOverride{Prompt: o.Prompt}
		}
	}
	if o.VoiceID != "" {
		override.TTS = &ttsOverride{VoiceID: o.VoiceID}
	}
	if override.Agent != nil || override.TTS != nil {
		msg.Override = &override
	}
	return msg
}

// serverEvent covers the server events the adapter handles.
type serverEvent struct {
	Type string `json:"type"`

	InitMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Audio *struct {
		Base64  string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event,omitempty"`
}

type conversation struct {
	conn   *websocket.Conn
	cb     provider.Callback
	quiet  time.Duration
	logger zerolog.Logger

	writeMu sync.Mutex
	muted   atomic.Bool
	ending  atomic.Bool

	modeMu     sync.Mutex
	speaking   bool
	quietTimer *time.Timer

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *conversation) awaitMetadata(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("elevenlabs handshake: %w", err)
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case typeInitMetadata:
			if ev.InitMetadata == nil || ev.InitMetadata.ConversationID == "" {
				return "", errors.New("elevenlabs handshake: metadata without conversation id")
			}
			return ev.InitMetadata.ConversationID, nil
		case typePing:
			c.pong(ev)
		}
	}
}

func (c *conversation) readLoop() {
	defer c.stopQuietTimer()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring malformed server event")
			continue
		}
		c.handle(ev)
	}
}

func (c *conversation) handle(ev serverEvent) {
	switch ev.Type {
	case typePing:
		c.pong(ev)
	case typeUserTranscript:
		if ev.UserTranscript != nil && ev.UserTranscript.Text != "" {
			c.cb.OnMessage(provider.Message{Type: ev.Type, Source: provider.SourceUser, Text: ev.UserTranscript.Text})
		}
	case typeAgentResponse:
		if ev.AgentResponse != nil && ev.AgentResponse.Text != "" {
			c.cb.OnMessage(provider.Message{Type: ev.Type, Source: provider.SourceAgent, Text: ev.AgentResponse.Text})
		}
	case typeAudio:
		if ev.Audio == nil {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(ev.Audio.Base64)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring undecodable audio chunk")
			return
		}
		c.setSpeaking(true)
		c.cb.OnAudio(chunk)
	case typeInterruption:
		c.setSpeaking(false)
	default:
		c.logger.Debug().Str("type", ev.Type).Msg("Unhandled server event")
	}
}

func (c *conversation) handleReadError(err error) {
	if c.ending.Load() {
		c.cb.OnDisconnect("client ended session")
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		reason := strings.TrimSpace(closeErr.Text)
		if reason == "" {
			reason = "server ended session"
		}
		c.cb.OnDisconnect(reason)
		return
	}
	c.logger.Warn().Err(err).Msg("Conversation socket failed")
	c.cb.OnError(err)
}

// setSpeaking reports mode changes. While speaking, every audio chunk pushes
// the return to listening back by the quiet interval.
func (c *conversation) setSpeaking(speaking bool) {
	c.modeMu.Lock()
	if c.quietTimer != nil {
		c.quietTimer.Stop()
		c.quietTimer = nil
	}
	if speaking {
		c.quietTimer = time.AfterFunc(c.quiet, func() { c.setSpeaking(false) })
	}
	changed := c.speaking != speaking
	c.speaking = speaking
	c.modeMu.Unlock()

	if !changed {
		return
	}
	if speaking {
		c.cb.OnModeChange(provider.ModeSpeaking)
	} else {
		c.cb.OnModeChange(provider.ModeListening)
	}
}

func (c *conversation) stopQuietTimer() {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	if c.quietTimer != nil {
		c.quietTimer.Stop()
		c.quietTimer = nil
	}
}

func (c *conversation) pong(ev serverEvent) {
	if ev.Ping == nil {
		return
	}
	if err := c.writeJSON(context.Background(), map[string]any{
		"type":     typePong,
		"event_id": ev.Ping.EventID,
	}); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to answer ping")
	}
}

// SendText implements provider.Conversation.
func (c *conversation) SendText(ctx context.Context, text string) error {
	return c.writeJSON(ctx, map[string]any{
		"type": typeUserMessage,
		"text": text,
	})
}

// SendAudio implements provider.Conversation. Chunks are dropped while muted.
func (c *conversation) SendAudio(ctx context.Context, chunk []byte) error {
	if c.muted.Load() {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(chunk),
	})
}

// SetMuted implements provider.Conversation.
func (c *conversation) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// End sends a close frame and closes the socket. Idempotent.
func (c *conversation) End(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.ending.Store(true)
		close(c.closed)

		c.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client ended session")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug().Err(werr).Msg("Failed to send close frame")
		}
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *conversation) writeJSON(ctx context.Context, payload any) error {
	select {
	case <-c.closed:
		return ErrSessionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return c.conn.WriteJSON(payload)
}
