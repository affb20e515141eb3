// Package voicetest provides a scriptable in-memory voice.Provider for
// exercising the call session without a network connection.
package voicetest

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/pkg/voice"
)

// Provider hands out scripted calls.
type Provider struct {
	mu      sync.Mutex
	DialErr error
	calls   []*Call
}

// Dial returns a fresh scripted call, or DialErr if set.
func (p *Provider) Dial(ctx context.Context, opts voice.CallOptions) (voice.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	c := NewCall()
	c.Opts = opts
	p.calls = append(p.calls, c)
	return c, nil
}

// LastCall returns the most recently dialed call, or nil.
func (p *Provider) LastCall() *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// DialCount reports how many calls were originated.
func (p *Provider) DialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Call is a scripted voice.Call. Tests push events with Emit and finish
// the stream with End.
type Call struct {
	Opts voice.CallOptions

	events chan voice.Event

	mu       sync.Mutex
	hangups  int
	closed   bool
	audioLen int
}

// NewCall creates an unattached scripted call.
func NewCall() *Call {
	return &Call{events: make(chan voice.Event, 64)}
}

// Events implements voice.Call.
func (c *Call) Events() <-chan voice.Event { return c.events }

// SendAudio implements voice.Call, recording the byte count.
func (c *Call) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioLen += len(pcm)
	return nil
}

// Hangup implements voice.Call. The scripted call answers with a
// CallEndedEvent, mirroring provider behavior.
func (c *Call) Hangup() error {
	c.mu.Lock()
	c.hangups++
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.Emit(voice.CallEndedEvent{Reason: "hangup"})
	}
	return nil
}

// Close implements voice.Call.
func (c *Call) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Emit pushes one event into the stream. Emitting after Close panics;
// the test script must not do that.
func (c *Call) Emit(ev voice.Event) {
	c.events <- ev
}

// End closes the event stream without a CallEndedEvent, simulating an
// abrupt connection loss.
func (c *Call) End() {
	c.Close()
}

// Hangups reports how many times Hangup was called.
func (c *Call) Hangups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangups
}

// AudioBytes reports the total caller audio pushed into the call.
func (c *Call) AudioBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioLen
}
