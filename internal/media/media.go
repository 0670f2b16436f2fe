// Package media models access to the visitor's microphone.
package media

import (
	"context"
	"errors"
	"sync"
)

// ErrPermissionDenied is returned when the user refuses microphone access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Stream is a granted microphone capture. Release is idempotent.
type Stream interface {
	Release()
}

// Microphone asks the runtime for audio capture. Acquire may block on user
// interaction; it honours ctx cancellation.
type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Static is a Microphone with a fixed answer, used by headless clients and
// tests.
type Static struct {
	Denied bool

	mu       sync.Mutex
	acquired int
	released int
}

// Acquire grants or denies immediately.
func (s *Static) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Denied {
		return nil, ErrPermissionDenied
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return &staticStream{owner: s}, nil
}

// Counts returns how many streams were acquired and released.
func (s *Static) Counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// Active reports whether any stream is still held.
func (s *Static) Active() bool {
	a, r := s.Counts()
	return a > r
}

type staticStream struct {
	owner *Static
	once  sync.Once
}

func (st *staticStream) Release() {
	st.once.Do(func() {
		st.owner.mu.Lock()
		st.owner.released++
		st.owner.mu.Unlock()
	})
}

// Prompt is a Microphone whose answer comes from elsewhere, typically the
// browser the HUD is rendered in. Ask is called when permission is needed;
// Answer delivers the user's decision.
type Prompt struct {
	Ask func()

	mu      sync.Mutex
	pending chan bool
}

// NewPrompt returns a Prompt that calls ask whenever a session needs the
// microphone.
func NewPrompt(ask func()) *Prompt {
	return &Prompt{Ask: ask}
}

// Acquire asks for permission and waits for Answer or ctx. A newer Acquire
// supersedes a pending one, which is then denied.
func (p *Prompt) Acquire(ctx context.Context) (Stream, error) {
	ch := make(chan bool, 1)
	p.mu.Lock()
	if prev := p.pending; prev != nil {
		prev <- false
	}
	p.pending = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == ch {
			p.pending = nil
		}
		p.mu.Unlock()
	}()

	if p.Ask != nil {
		p.Ask()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case granted := <-ch:
		if !granted {
			return nil, ErrPermissionDenied
		}
		return releaseFunc(func() {}), nil
	}
}

// Answer resolves the pending request. It reports false when nothing was
// waiting.
func (p *Prompt) Answer(granted bool) bool {
	p.mu.Lock()
	ch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- granted
	return true
}

type releaseFunc func()

func (f releaseFunc) Release() { f() }
