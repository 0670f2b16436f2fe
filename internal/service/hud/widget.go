// Package hud binds the voice session, the presentation state machine and
// the call trigger into the floating widget mounted for one route, and
// guards route changes so a session never outlives its page.
package hud

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/observability/logging"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/service/presentation"
	"voice-hud-service/internal/service/trigger"
	"voice-hud-service/internal/service/voice"
)

// Session is the controller surface a widget drives.
type Session interface {
	Agent() agent.Identity
	StartCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	Close(ctx context.Context) error
	ToggleMute() bool
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, chunk []byte) error
	Snapshot() voice.Snapshot
	Busy() bool
	Subscribe(o voice.Observer) func()
}

// Listener receives widget updates. Calls may arrive on any goroutine.
type Listener interface {
	OnSession(snap voice.Snapshot)
	OnPresentation(state presentation.State)
}

// Widget is the HUD mounted for one route. It owns exactly one session.
type Widget struct {
	session  Session
	pres     *presentation.Machine
	listener Listener
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()

	mu          sync.Mutex
	lastVersion uint64
	unmounted   bool
}

// WidgetOptions configures a widget.
type WidgetOptions struct {
	DragThreshold float64
	Listener      Listener
	Metrics       *metrics.Metrics
}

// Mount creates the widget for session, starts consuming flag and returns
// once the widget is eligible to start calls.
func Mount(session Session, flag *trigger.Flag, opts WidgetOptions) *Widget {
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	id := session.Agent()
	w := &Widget{
		session:  session,
		listener: opts.Listener,
		metrics:  opts.Metrics,
		logger:   logging.WithComponent("hud").With().Str("route", id.Route).Str("agentId", id.AgentID).Logger(),
		done:     make(chan struct{}),
	}
	w.pres = presentation.NewMachine(opts.DragThreshold, w.onTransition)
	w.unsubscribe = session.Subscribe(w.onSessionEvent)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	consumer := &trigger.Consumer{
		Flag:    flag,
		Starter: session,
		Metrics: opts.Metrics,
	}
	go func() {
		defer close(w.done)
		consumer.Run(ctx)
	}()

	w.logger.Debug().Msg("Widget mounted")
	return w
}

// Agent returns the persona the widget speaks for.
func (w *Widget) Agent() agent.Identity {
	return w.session.Agent()
}

// Session returns the widget's session controller.
func (w *Widget) Session() Session {
	return w.session
}

// Presentation returns the current presentation state.
func (w *Widget) Presentation() presentation.State {
	return w.pres.State()
}

// Active reports whether the session is starting or live.
func (w *Widget) Active() bool {
	return w.session.Busy()
}

// StartCall places a call from the widget's own call button.
func (w *Widget) StartCall(ctx context.Context) error {
	return w.session.StartCall(ctx)
}

// EndCall hangs up.
func (w *Widget) EndCall(ctx context.Context) error {
	return w.session.EndCall(ctx)
}

// ToggleMute flips the microphone mute of the live session.
func (w *Widget) ToggleMute() bool {
	return w.session.ToggleMute()
}

// SendText sends a typed message.
func (w *Widget) SendText(ctx context.Context, text string) error {
	return w.session.SendText(ctx, text)
}

// SendAudio forwards microphone audio.
func (w *Widget) SendAudio(ctx context.Context, chunk []byte) error {
	return w.session.SendAudio(ctx, chunk)
}

// Minimize collapses the panel into the bubble.
func (w *Widget) Minimize() error {
	return w.pres.Minimize()
}

// Drag moves the panel during a drag gesture.
func (w *Widget) Drag(dy float64) (float64, error) {
	return w.pres.Drag(dy)
}

// Release ends a drag gesture.
func (w *Widget) Release() (bool, error) {
	return w.pres.Release()
}

// Tap expands the bubble.
func (w *Widget) Tap() error {
	return w.pres.Tap()
}

// Unmount stops the trigger consumer, ends the session and hides the widget.
// It returns once the session is idle.
func (w *Widget) Unmount(ctx context.Context) {
	w.mu.Lock()
	if w.unmounted {
		w.mu.Unlock()
		return
	}
	w.unmounted = true
	w.mu.Unlock()

	w.cancel()
	<-w.done

	if err := w.session.Close(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to close session on unmount")
	}
	w.unsubscribe()
	w.pres.Reset()
	w.logger.Debug().Msg("Widget unmounted")
}

func (w *Widget) onSessionEvent(ev voice.Event) {
	w.mu.Lock()
	if ev.Snapshot.Version <= w.lastVersion {
		w.mu.Unlock()
		return
	}
	w.lastVersion = ev.Snapshot.Version
	w.mu.Unlock()

	switch ev.Kind {
	case voice.EventStarting:
		w.pres.Start()
	case voice.EventConnected:
		w.pres.Connected()
	case voice.EventFailed, voice.EventEnded:
		if w.pres.State() == presentation.StateConnecting {
			w.pres.StartFailed()
		} else {
			w.pres.Disconnected()
		}
	}

	if w.listener != nil {
		w.listener.OnSession(ev.Snapshot)
	}
}

func (w *Widget) onTransition(from, to presentation.State) {
	w.metrics.RecordPresentationTransition(from.String(), to.String())
	w.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Presentation changed")
	if w.listener != nil {
		w.listener.OnPresentation(to)
	}
}
