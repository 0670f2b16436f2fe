// Package trigger provides the cross-page call trigger: a single shared flag
// any page element may raise, consumed by the widget mounted for the current
// route.
package trigger

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"voice-hud-service/internal/observability/metrics"
)

// Flag is a single-slot request to start a call. Raises coalesce: any number
// of raises before a Take yield one consumption.
type Flag struct {
	mu      sync.Mutex
	raised  bool
	changed chan struct{}
}

// NewFlag creates a lowered flag.
func NewFlag() *Flag {
	return &Flag{changed: make(chan struct{}, 1)}
}

// Raise requests a call. Idempotent until the flag is taken or reset.
func (f *Flag) Raise() {
	f.mu.Lock()
	f.raised = true
	f.mu.Unlock()
	f.notify()
}

// Reset lowers the flag without consuming it.
func (f *Flag) Reset() {
	f.mu.Lock()
	f.raised = false
	f.mu.Unlock()
}

// Raised reports the current value.
func (f *Flag) Raised() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised
}

// Take lowers the flag and reports whether it was raised. Exactly one of any
// number of concurrent callers observes true.
func (f *Flag) Take() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.raised {
		return false
	}
	f.raised = false
	return true
}

// Changed is signalled after a Raise. Signals coalesce; consumers must read
// the current value rather than count signals.
func (f *Flag) Changed() <-chan struct{} {
	return f.changed
}

func (f *Flag) notify() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Starter is the session a consumer starts when the flag is raised.
type Starter interface {
	// Busy reports whether a session is starting or live.
	Busy() bool
	StartCall(ctx context.Context) error
}

// Outcomes reported to the OnConsume hook.
const (
	OutcomeStarted       = "started"
	OutcomeAlreadyActive = "already_active"
)

// Consumer starts a call whenever the flag is raised.
type Consumer struct {
	Flag    *Flag
	Starter Starter
	// OnConsume is called after the flag is taken, before StartCall.
	OnConsume func(outcome string)
	Metrics   *metrics.Metrics
}

// Run checks the flag once, so a trigger raised before mount is honoured, and
// then on every change until ctx is done. StartCall runs on the consumer's
// goroutine so raises arriving meanwhile coalesce into the next check.
func (c *Consumer) Run(ctx context.Context) {
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultMetrics
	}

	c.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Flag.Changed():
			c.check(ctx)
		}
	}
}

func (c *Consumer) check(ctx context.Context) {
	if ctx.Err() != nil || !c.Flag.Take() {
		return
	}

	outcome := OutcomeStarted
	if c.Starter.Busy() {
		outcome = OutcomeAlreadyActive
	}
	c.Metrics.RecordTriggerConsumed(outcome)
	if c.OnConsume != nil {
		c.OnConsume(outcome)
	}
	if outcome != OutcomeStarted {
		log.Debug().Msg("Call trigger consumed while a session is already active")
		return
	}

	if err := c.Starter.StartCall(ctx); err != nil {
		log.Debug().Err(err).Msg("Triggered call did not start")
	}
}
