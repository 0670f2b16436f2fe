// Package mock provides a simulated voice provider for development and tests.
// It behaves like a restaurant host: it connects immediately, answers every
// typed message with a canned reply, and turns every few audio frames into a
// user transcript.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voice-hud-service/internal/provider"
)

// ErrConversationEnded is returned by calls on an ended conversation.
var ErrConversationEnded = errors.New("mock: conversation ended")

// DefaultReplies are cycled through as agent responses.
var DefaultReplies = []string{
	"Welcome in! Would you like to hear tonight's specials?",
	"Of course. For how many guests should I hold a table?",
	"Perfect, I've noted that down. Anything else I can help with?",
	"Our chef recommends the tasting menu this evening.",
}

// DefaultUtterances are reported as user transcripts when audio is streamed.
var DefaultUtterances = []string{
	"Hi, do you have a table for two tonight?",
	"What time do you close?",
	"Can I order for pickup?",
}

// FramesPerUtterance is the number of audio chunks that make up one simulated
// user utterance.
const FramesPerUtterance = 3

// Adapter implements provider.Adapter with simulated sessions.
type Adapter struct {
	// ConnectDelay delays Start, simulating the provider handshake.
	ConnectDelay time.Duration
	// ReplyDelay delays agent replies.
	ReplyDelay time.Duration
	// StartErr, when set, makes Start fail.
	StartErr error
	// SendErr, when set, makes SendText fail.
	SendErr error
	// Echo replies with "You said: <text>" instead of the canned replies.
	Echo bool

	starts  atomic.Int64
	mu      sync.Mutex
	convs   []*Conversation
	counter int
}

// New creates a mock adapter with short realistic delays.
func New() *Adapter {
	return &Adapter{
		ConnectDelay: 20 * time.Millisecond,
		ReplyDelay:   50 * time.Millisecond,
	}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "mock" }

// Starts returns the number of Start calls.
func (a *Adapter) Starts() int { return int(a.starts.Load()) }

// Conversations returns the conversations opened so far.
func (a *Adapter) Conversations() []*Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Conversation{}, a.convs...)
}

// Start opens a simulated session.
func (a *Adapter) Start(ctx context.Context, opts provider.StartOptions, cb provider.Callback) (provider.Conversation, error) {
	a.starts.Add(1)

	if a.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.ConnectDelay):
		}
	}
	if a.StartErr != nil {
		return nil, a.StartErr
	}
	if opts.SignedURL == "" && opts.AgentID == "" {
		return nil, errors.New("mock: signed url or agent id required")
	}

	a.mu.Lock()
	a.counter++
	c := &Conversation{
		id:      fmt.Sprintf("mock-conv-%d", a.counter),
		adapter: a,
		cb:      cb,
		opts:    opts,
	}
	a.convs = append(a.convs, c)
	a.mu.Unlock()

	cb.OnConnect(c.id)
	cb.OnModeChange(provider.ModeListening)

	if first := opts.Overrides.FirstMessage; first != "" {
		go c.reply(first)
	}
	return c, nil
}

// Conversation is a simulated session.
type Conversation struct {
	id      string
	adapter *Adapter
	cb      provider.Callback
	opts    provider.StartOptions

	mu       sync.Mutex
	muted    bool
	ended    bool
	sent     []string
	frames   int
	dropped  int
	replyIdx int
	endCalls int
}

// ID returns the conversation id reported on connect.
func (c *Conversation) ID() string { return c.id }

// Options returns the options the session was started with.
func (c *Conversation) Options() provider.StartOptions { return c.opts }

// SendText records the message and schedules an agent reply.
func (c *Conversation) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrConversationEnded
	}
	if err := c.adapter.SendErr; err != nil {
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, text)
	reply := c.nextReplyLocked(text)
	c.mu.Unlock()

	go c.reply(reply)
	return nil
}

// SendAudio counts frames; every FramesPerUtterance frames become a user
// transcript followed by an agent reply. Frames sent while muted are dropped.
func (c *Conversation) SendAudio(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrConversationEnded
	}
	if c.muted {
		c.dropped++
		c.mu.Unlock()
		return nil
	}
	c.frames++
	if c.frames%FramesPerUtterance != 0 {
		c.mu.Unlock()
		return nil
	}
	utterance := DefaultUtterances[(c.frames/FramesPerUtterance-1)%len(DefaultUtterances)]
	reply := c.nextReplyLocked(utterance)
	c.mu.Unlock()

	c.cb.OnMessage(provider.Message{Type: "user_transcript", Source: provider.SourceUser, Text: utterance})
	go c.reply(reply)
	return nil
}

// SetMuted toggles audio forwarding.
func (c *Conversation) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// End closes the session and reports the disconnect asynchronously, the way
// a real provider acknowledges a client hang-up.
func (c *Conversation) End(ctx context.Context) error {
	c.mu.Lock()
	c.endCalls++
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	c.mu.Unlock()

	go c.cb.OnDisconnect("client ended session")
	return nil
}

// Disconnect simulates the provider dropping the session.
func (c *Conversation) Disconnect(reason string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	c.cb.OnDisconnect(reason)
}

// Fail simulates a provider-side error on the live session.
func (c *Conversation) Fail(err error) {
	c.cb.OnError(err)
}

// Sent returns the typed messages received.
func (c *Conversation) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.sent...)
}

// Frames returns forwarded and dropped audio frame counts.
func (c *Conversation) Frames() (forwarded, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, c.dropped
}

// Muted reports the current mute state.
func (c *Conversation) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Ended reports whether the session is over.
func (c *Conversation) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// EndCalls returns how many times End was called.
func (c *Conversation) EndCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endCalls
}

func (c *Conversation) nextReplyLocked(heard string) string {
	if c.adapter.Echo {
		return "You said: " + heard
	}
	reply := DefaultReplies[c.replyIdx%len(DefaultReplies)]
	c.replyIdx++
	return reply
}

func (c *Conversation) reply(text string) {
	if d := c.adapter.ReplyDelay; d > 0 {
		time.Sleep(d)
	}
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return
	}

	c.cb.OnModeChange(provider.ModeSpeaking)
	c.cb.OnAudio([]byte(text))
	c.cb.OnMessage(provider.Message{Type: "agent_response", Source: provider.SourceAgent, Text: text})
	c.cb.OnModeChange(provider.ModeListening)
}
