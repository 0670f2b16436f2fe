package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/credential"
	"voice-hud-service/internal/media"
	"voice-hud-service/internal/observability/logging"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/provider"
	"voice-hud-service/internal/service/hud"
	"voice-hud-service/internal/service/presentation"
	"voice-hud-service/internal/service/trigger"
	"voice-hud-service/internal/service/voice"
)

// Client message types.
const (
	msgNavigate        = "navigate"
	msgTrigger         = "trigger"
	msgStart           = "start"
	msgEnd             = "end"
	msgMute            = "mute"
	msgSendText        = "send_text"
	msgMinimize        = "minimize"
	msgDrag            = "drag"
	msgRelease         = "release"
	msgTap             = "tap"
	msgMediaPermission = "media_permission"
)

// Server message types.
const (
	msgAgent        = "agent"
	msgSession      = "session"
	msgPresentation = "presentation"
	msgMediaRequest = "media_request"
	msgError        = "error"
)

const (
	DefaultMediaTimeout = 30 * time.Second

	sendQueueSize  = 256
	hudWriteWait   = 10 * time.Second
	hudPongWait    = 60 * time.Second
	hudPingPeriod  = 50 * time.Second
	maxClientFrame = 1 << 20
	closeTimeout   = 10 * time.Second
)

// HUDConfig wires the HUD endpoint to the session stack.
type HUDConfig struct {
	Directory     *agent.Directory
	Credentials   credential.Fetcher
	Provider      provider.Adapter
	Publisher     voice.Publisher
	Overrides     provider.Overrides
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
	DragThreshold float64
	// MediaTimeout bounds the wait for the browser's microphone answer.
	MediaTimeout time.Duration
	// AllowedOrigins restricts the Origin header. Empty allows any.
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// HUDHandler serves the HUD WebSocket. Each connection is one browser tab:
// it owns a call trigger flag, a route guard and at most one live session.
type HUDHandler struct {
	cfg      HUDConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*hudConn]struct{}
	wg    sync.WaitGroup
}

// NewHUDHandler creates the HUD endpoint.
func NewHUDHandler(cfg HUDConfig) *HUDHandler {
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = DefaultMediaTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	h := &HUDHandler{cfg: cfg, conns: make(map[*hudConn]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *HUDHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Shutdown closes every HUD connection, ending their sessions, and waits for
// the teardown to finish.
func (h *HUDHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.conns {
		c.ws.Close()
	}
	h.mu.Unlock()
	return h.Wait(ctx)
}

// Wait blocks until every HUD connection has been torn down or ctx is done.
func (h *HUDHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HUDHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger := logging.WithComponent("hud")
		logger.Warn().Err(err).Msg("HUD upgrade failed")
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	c := newHUDConn(h, ws)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.cfg.Metrics.RecordHUDConnection(true)

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.cfg.Metrics.RecordHUDConnection(false)
	}()

	c.run()
}

// clientMessage is any JSON frame the browser sends.
type clientMessage struct {
	Type    string  `json:"type"`
	Path    string  `json:"path,omitempty"`
	Text    string  `json:"text,omitempty"`
	DY      float64 `json:"dy,omitempty"`
	Granted bool    `json:"granted,omitempty"`
}

// serverMessage is any JSON frame the service sends.
type serverMessage struct {
	Type         string          `json:"type"`
	Path         string          `json:"path,omitempty"`
	Identity     *agent.Identity `json:"identity,omitempty"`
	Session      *voice.Snapshot `json:"session,omitempty"`
	Presentation string          `json:"presentation,omitempty"`
	Offset       *float64        `json:"offset,omitempty"`
	Committed    *bool           `json:"committed,omitempty"`
	Muted        *bool           `json:"muted,omitempty"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
}

type frame struct {
	binary bool
	data   []byte
}

type hudConn struct {
	h      *HUDHandler
	ws     *websocket.Conn
	id     string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	flag  *trigger.Flag
	mic   *media.Prompt
	guard *hud.Guard

	outMu  sync.Mutex
	out    chan frame
	closed bool

	tasks sync.WaitGroup
}

func newHUDConn(h *HUDHandler, ws *websocket.Conn) *hudConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &hudConn{
		h:      h,
		ws:     ws,
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		flag:   trigger.NewFlag(),
		out:    make(chan frame, sendQueueSize),
	}
	c.logger = logging.WithConnection(c.id)
	c.mic = media.NewPrompt(func() {
		c.sendJSON(serverMessage{Type: msgMediaRequest})
	})
	c.guard = hud.NewGuard(h.cfg.Directory, c.flag, c.newSession, hud.WidgetOptions{
		DragThreshold: h.cfg.DragThreshold,
		Listener:      c,
		Metrics:       h.cfg.Metrics,
	})
	return c
}

func (c *hudConn) newSession(id agent.Identity) hud.Session {
	return voice.NewController(id, voice.Options{
		Credentials:  c.h.cfg.Credentials,
		Provider:     c.h.cfg.Provider,
		Microphone:   &timedMicrophone{mic: c.mic, timeout: c.h.cfg.MediaTimeout},
		Publisher:    c.h.cfg.Publisher,
		Overrides:    c.h.cfg.Overrides,
		ReadyTimeout: c.h.cfg.ReadyTimeout,
		PollInterval: c.h.cfg.PollInterval,
		Audio:        c.sendAudio,
		Metrics:      c.h.cfg.Metrics,
	})
}

func (c *hudConn) run() {
	c.logger.Info().Msg("HUD connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop()

	c.cancel()
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.guard.Close(closeCtx)
	c.tasks.Wait()

	c.outMu.Lock()
	c.closed = true
	close(c.out)
	c.outMu.Unlock()
	<-writerDone

	c.ws.Close()
	c.logger.Info().Msg("HUD disconnected")
}

func (c *hudConn) readLoop() {
	c.ws.SetReadLimit(maxClientFrame)
	c.ws.SetReadDeadline(time.Now().Add(hudPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(hudPongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("HUD read failed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(hudPongWait))

		if kind == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("bad_message", "message must be a JSON object")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *hudConn) writeLoop() {
	ticker := time.NewTicker(hudPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.out:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(hudWriteWait))
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			c.ws.SetWriteDeadline(time.Now().Add(hudWriteWait))
			if err := c.ws.WriteMessage(kind, f.data); err != nil {
				c.logger.Debug().Err(err).Msg("HUD write failed")
				c.ws.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(hudWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.ws.Close()
				return
			}
		}
	}
}

func (c *hudConn) dispatch(msg clientMessage) {
	switch msg.Type {
	case msgNavigate:
		c.navigate(msg.Path)
		return
	case msgTrigger:
		c.h.cfg.Metrics.RecordTriggerRaised()
		c.flag.Raise()
		return
	case msgMediaPermission:
		if !c.mic.Answer(msg.Granted) {
			c.logger.Debug().Msg("Media permission answer without pending request")
		}
		return
	}

	w := c.guard.Current()
	if w == nil {
		c.sendError("no_route", "navigate before using the widget")
		return
	}

	switch msg.Type {
	case msgStart:
		c.async(func(ctx context.Context) {
			err := w.StartCall(ctx)
			if err != nil && !errors.Is(err, voice.ErrCallInProgress) && !errors.Is(err, voice.ErrSessionAborted) {
				c.logger.Debug().Err(err).Msg("Start call failed")
			}
		})
	case msgEnd:
		w.EndCall(c.ctx)
	case msgMute:
		muted := w.ToggleMute()
		c.sendJSON(serverMessage{Type: msgMute, Muted: &muted})
	case msgSendText:
		text := msg.Text
		c.async(func(ctx context.Context) {
			if err := w.SendText(ctx, text); err != nil {
				c.sendVoiceError(err)
			}
		})
	case msgMinimize:
		c.presentationResult(w.Minimize())
	case msgTap:
		c.presentationResult(w.Tap())
	case msgDrag:
		offset, err := w.Drag(msg.DY)
		if err != nil {
			c.presentationResult(err)
			return
		}
		c.sendJSON(serverMessage{Type: msgDrag, Offset: &offset})
	case msgRelease:
		committed, err := w.Release()
		if err != nil {
			c.presentationResult(err)
			return
		}
		c.sendJSON(serverMessage{Type: msgRelease, Committed: &committed})
	default:
		c.sendError("unknown_type", "unknown message type "+msg.Type)
	}
}

func (c *hudConn) navigate(path string) {
	if path == "" {
		path = "/"
	}
	w, err := c.guard.Navigate(c.ctx, path)
	if err != nil {
		c.sendError("navigate_failed", err.Error())
		return
	}
	id := w.Agent()
	snap := w.Session().Snapshot()
	c.sendJSON(serverMessage{Type: msgAgent, Path: c.guard.Path(), Identity: &id})
	c.sendJSON(serverMessage{Type: msgSession, Session: &snap})
	c.sendJSON(serverMessage{Type: msgPresentation, Presentation: w.Presentation().String()})
}

func (c *hudConn) handleAudio(chunk []byte) {
	w := c.guard.Current()
	if w == nil {
		return
	}
	if err := w.SendAudio(c.ctx, chunk); err != nil && !errors.Is(err, voice.ErrNotReady) {
		c.logger.Debug().Err(err).Msg("Dropped microphone audio")
	}
}

// async runs fn outside the read loop. Blocking session calls go here so the
// loop can keep delivering media permission answers.
func (c *hudConn) async(fn func(ctx context.Context)) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn(c.ctx)
	}()
}

func (c *hudConn) presentationResult(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, presentation.ErrInvalidTransition) {
		c.sendError("invalid_transition", err.Error())
		return
	}
	c.sendError("presentation_failed", err.Error())
}

func (c *hudConn) sendVoiceError(err error) {
	var verr *voice.Error
	if errors.As(err, &verr) {
		c.sendError(string(verr.Kind), verr.UserMessage())
		return
	}
	c.sendError("session_error", err.Error())
}

// OnSession implements hud.Listener.
func (c *hudConn) OnSession(snap voice.Snapshot) {
	c.sendJSON(serverMessage{Type: msgSession, Session: &snap})
}

// OnPresentation implements hud.Listener.
func (c *hudConn) OnPresentation(state presentation.State) {
	c.sendJSON(serverMessage{Type: msgPresentation, Presentation: state.String()})
}

func (c *hudConn) sendError(code, message string) {
	c.sendJSON(serverMessage{Type: msgError, Code: code, Message: message})
}

func (c *hudConn) sendJSON(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to encode HUD message")
		return
	}
	c.enqueue(frame{data: data})
}

func (c *hudConn) sendAudio(chunk []byte) {
	c.enqueue(frame{binary: true, data: chunk})
}

// enqueue never blocks; it is called from provider callbacks and under the
// presentation lock.
func (c *hudConn) enqueue(f frame) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- f:
	default:
		c.logger.Warn().Bool("binary", f.binary).Msg("HUD send queue full, dropping frame")
	}
}

// timedMicrophone bounds how long a session waits for the browser to answer
// a permission request.
type timedMicrophone struct {
	mic     media.Microphone
	timeout time.Duration
}

func (m *timedMicrophone) Acquire(ctx context.Context) (media.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.mic.Acquire(ctx)
}
