package hud

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/service/trigger"
)

// SessionFactory creates the session controller for a route's agent.
type SessionFactory func(id agent.Identity) Session

// Guard owns the widget of the current route. On every navigation it tears
// the previous widget down, ending its session, before the next route's
// widget is mounted.
type Guard struct {
	directory *agent.Directory
	flag      *trigger.Flag
	factory   SessionFactory
	opts      WidgetOptions

	mu      sync.Mutex
	path    string
	current *Widget
	closed  bool
}

// NewGuard creates a guard with no route mounted.
func NewGuard(directory *agent.Directory, flag *trigger.Flag, factory SessionFactory, opts WidgetOptions) *Guard {
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Guard{
		directory: directory,
		flag:      flag,
		factory:   factory,
		opts:      opts,
	}
}

// Navigate makes path the current route and returns its widget. Navigating
// to the current path, ignoring query and fragment, keeps the mounted widget.
// Navigations are serialized.
func (g *Guard) Navigate(ctx context.Context, path string) (*Widget, error) {
	path, _, _ = strings.Cut(path, "#")
	path, _, _ = strings.Cut(path, "?")

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGuardClosed
	}
	if g.current != nil && g.path == path {
		return g.current, nil
	}

	if old := g.current; old != nil {
		if old.Active() {
			g.opts.Metrics.RecordRouteTeardown()
			log.Info().
				Str("from", g.path).
				Str("to", path).
				Str("agentId", old.Agent().AgentID).
				Msg("Route changed, ending voice session")
		}
		g.current = nil
		old.Unmount(ctx)
	}

	id := g.directory.Resolve(path)
	g.path = path
	g.current = Mount(g.factory(id), g.flag, g.opts)
	return g.current, nil
}

// Current returns the mounted widget, or nil before the first navigation.
func (g *Guard) Current() *Widget {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Path returns the current route path.
func (g *Guard) Path() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.path
}

// Close unmounts the current widget. Further navigations fail.
func (g *Guard) Close(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.current != nil {
		g.current.Unmount(ctx)
		g.current = nil
	}
}
