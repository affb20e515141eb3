// Package call implements the live interview call runtime: the session
// state machine, the transcript store, and persona assembly.
//
// A Session owns every resource of one call attempt (microphone stream,
// provider connection, timers) and is the sole writer of its transcript
// and flags. Consumers read through Snapshot and drive the session with
// Start, Stop, and Reset.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/call/normalize"
	"github.com/voxprep/voxprep/pkg/media"
	"github.com/voxprep/voxprep/pkg/voice"
)

// Status is the call session state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusInCall
	StatusEnding
	StatusEnded
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusInCall:
		return "in-call"
	case StatusEnding:
		return "ending"
	case StatusEnded:
		return "ended"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EndedHandler receives the finalized transcript exactly once per
// completed call (never on error).
type EndedHandler func(messages []Message, cfg CallConfig)

// Defaults for session tuning knobs.
const (
	DefaultVolumeThreshold = 0.1
	DefaultSilenceTimeout  = time.Second
	DefaultTickInterval    = time.Second
	DefaultHangupGrace     = 5 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithLookback sets the transcript dedup lookback window.
func WithLookback(n int) Option {
	return func(s *Session) { s.lookback = n }
}

// WithVolumeThreshold sets the 0-1 volume level above which the user
// counts as speaking.
func WithVolumeThreshold(v float64) Option {
	return func(s *Session) { s.volumeThreshold = v }
}

// WithSilenceTimeout sets the debounce window that clears the
// user-speaking flag after the last partial transcript.
func WithSilenceTimeout(d time.Duration) Option {
	return func(s *Session) { s.silenceTimeout = d }
}

// WithTickInterval sets the elapsed-seconds ticker interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) { s.tickInterval = d }
}

// WithHangupGrace bounds how long a stop waits for the provider's
// call-ended confirmation before forcing the ended state.
func WithHangupGrace(d time.Duration) Option {
	return func(s *Session) { s.hangupGrace = d }
}

// WithAudioSink registers a consumer for assistant audio chunks
// (playback). The sink is called from the event loop; it must not block.
func WithAudioSink(sink func([]byte)) Option {
	return func(s *Session) { s.audioSink = sink }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Session is the finite-state controller for one voice interview call.
type Session struct {
	provider voice.Provider
	mic      media.Capability
	onEnded  EndedHandler
	logger   *slog.Logger

	lookback        int
	volumeThreshold float64
	silenceTimeout  time.Duration
	tickInterval    time.Duration
	hangupGrace     time.Duration
	audioSink       func([]byte)

	mu         sync.Mutex
	status     Status
	gen        int // session identity; bumped by Start and Reset
	cfg        CallConfig
	transcript *Transcript
	elapsed    int
	startedAt  time.Time
	lastErr    error

	assistantSpeaking bool
	userSpeaking      bool

	call         voice.Call
	micStream    media.Stream
	tickerStop   chan struct{}
	silenceTimer *time.Timer
	endedFired   bool
}

// NewSession creates an idle session. onEnded may be nil.
func NewSession(provider voice.Provider, mic media.Capability, onEnded EndedHandler, opts ...Option) *Session {
	s := &Session{
		provider:        provider,
		mic:             mic,
		onEnded:         onEnded,
		logger:          slog.Default(),
		volumeThreshold: DefaultVolumeThreshold,
		silenceTimeout:  DefaultSilenceTimeout,
		tickInterval:    DefaultTickInterval,
		hangupGrace:     DefaultHangupGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transcript = NewTranscript(s.lookback)
	return s
}

// Snapshot is a read-only view of the session for presentation.
type Snapshot struct {
	Status            Status
	ElapsedSeconds    int
	AssistantSpeaking bool
	UserSpeaking      bool
	AssistantPartial  string
	UserPartial       string
	Messages          []Message
	Err               error
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, _ := s.transcript.Partial(normalize.RoleAssistant)
	up, _ := s.transcript.Partial(normalize.RoleUser)
	return Snapshot{
		Status:            s.status,
		ElapsedSeconds:    s.elapsed,
		AssistantSpeaking: s.assistantSpeaking,
		UserSpeaking:      s.userSpeaking,
		AssistantPartial:  ap,
		UserPartial:       up,
		Messages:          s.transcript.Messages(),
		Err:               s.lastErr,
	}
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins a call attempt. Valid from idle, ended, and error (retry).
// Acquires the microphone, dials the provider, and hands the event
// stream to the session loop. A Stop or Reset issued while the dial is
// in flight supersedes it; the late dial result is discarded.
func (s *Session) Start(ctx context.Context, cfg CallConfig) error {
	s.mu.Lock()
	switch s.status {
	case StatusIdle, StatusEnded, StatusError:
	default:
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("call already active (status %s)", status)
	}
	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.cfg = cfg
	s.status = StatusConnecting
	s.lastErr = nil
	s.elapsed = 0
	s.endedFired = false
	s.assistantSpeaking = false
	s.userSpeaking = false
	s.transcript.Reset()
	s.mu.Unlock()

	stream, err := s.mic.AcquireMicrophone(ctx)
	if err != nil {
		err = classifyMicError(err)
		s.fail(gen, err)
		return err
	}

	call, err := s.provider.Dial(ctx, BuildCallOptions(cfg))
	if err != nil {
		stream.Close()
		err = fmt.Errorf("connect call: %w", err)
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.status != StatusConnecting {
		// Superseded while dialing; release what we just acquired.
		s.mu.Unlock()
		call.Close()
		stream.Close()
		return nil
	}
	s.call = call
	s.micStream = stream
	s.mu.Unlock()

	go s.eventLoop(gen, call)
	go s.micLoop(call, stream)

	s.logger.Info("call connecting", "interview_id", cfg.Interview.ID)
	return nil
}

// Stop requests a graceful end. No-op unless connecting or in-call.
// The session reaches ended when the provider confirms, or after the
// hangup grace period if the confirmation never arrives.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.status {
	case StatusConnecting, StatusInCall:
	default:
		s.mu.Unlock()
		return
	}
	s.status = StatusEnding
	call := s.call
	gen := s.gen
	s.mu.Unlock()

	if call == nil {
		// Stopped mid-dial; do not wait for a call-start confirmation
		// that may never arrive.
		s.finish(gen)
		return
	}

	if err := call.Hangup(); err != nil {
		s.finish(gen)
		return
	}
	time.AfterFunc(s.hangupGrace, func() { s.finish(gen) })
}

// Reset forces the session back to idle, clearing the transcript and all
// derived state. Used before a fresh Start.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.gen++
	s.status = StatusIdle
	s.transcript.Reset()
	s.elapsed = 0
	s.lastErr = nil
	s.endedFired = false
}

// eventLoop consumes the provider event stream. It is the only writer of
// transcript and speaking state while the call is live.
func (s *Session) eventLoop(gen int, c voice.Call) {
	for ev := range c.Events() {
		s.handleEvent(gen, ev)
	}
	// Stream closed without an explicit call-ended frame: treat the
	// close itself as the provider's confirmation.
	s.finish(gen)
}

// micLoop forwards caller audio to the provider until either side closes.
func (s *Session) micLoop(c voice.Call, stream media.Stream) {
	for frame := range stream.Frames() {
		if err := c.SendAudio(frame); err != nil {
			return
		}
	}
}

func (s *Session) handleEvent(gen int, ev voice.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}

	switch e := ev.(type) {
	case voice.CallStartedEvent:
		if s.status != StatusConnecting {
			return
		}
		s.status = StatusInCall
		s.startedAt = time.Now()
		s.transcript.ClearPartials()
		s.assistantSpeaking = false
		s.userSpeaking = false
		s.tickerStop = make(chan struct{})
		go s.tickLoop(gen, s.tickerStop)
		s.logger.Info("call started", "call_id", e.CallID)

	case voice.SpeechStartedEvent:
		if s.status != StatusInCall {
			return
		}
		switch role, _ := normalize.CanonicalRole(e.Role); role {
		case normalize.RoleAssistant:
			s.assistantSpeaking = true
		case normalize.RoleUser:
			s.userSpeaking = true
		}

	case voice.SpeechEndedEvent:
		if s.status != StatusInCall {
			return
		}
		switch role, _ := normalize.CanonicalRole(e.Role); role {
		case normalize.RoleAssistant:
			s.assistantSpeaking = false
		case normalize.RoleUser:
			s.userSpeaking = false
			s.stopSilenceTimerLocked()
		}

	case voice.VolumeLevelEvent:
		if s.status != StatusInCall {
			return
		}
		if e.Level >= s.volumeThreshold {
			s.userSpeaking = true
		} else {
			s.userSpeaking = false
			s.stopSilenceTimerLocked()
		}

	case voice.AudioChunkEvent:
		if s.audioSink != nil && s.status == StatusInCall {
			s.audioSink(e.Data)
		}

	case voice.MessageEvent:
		if s.status != StatusInCall {
			return
		}
		s.handleMessageLocked(gen, e.Payload)

	case voice.ErrorEvent:
		if s.status == StatusError || s.status == StatusEnded {
			return
		}
		if s.status == StatusEnding {
			// The user already asked to stop; a teardown-time error is
			// still a confirmation that the call is over.
			s.finishLocked(gen)
			return
		}
		msg := e.Message
		if msg == "" {
			msg = "voice provider reported an unspecified error"
		}
		s.teardownLocked()
		s.status = StatusError
		s.lastErr = errors.New(msg)
		s.logger.Error("call failed", "code", e.Code, "error", msg)

	case voice.CallEndedEvent:
		s.finishLocked(gen)
	}
}

// handleMessageLocked routes a generic message payload: conversation
// snapshots replay their finals, transcript events land in the
// partial slot or the log.
func (s *Session) handleMessageLocked(gen int, payload map[string]any) {
	if utts, ok := normalize.NormalizeSnapshot(payload); ok {
		for _, u := range utts {
			if u.Kind == normalize.KindFinal {
				s.transcript.AppendFinal(u.Role, u.Text, "")
			}
		}
		return
	}

	u, ok := normalize.Normalize(payload)
	if !ok {
		return
	}
	switch u.Kind {
	case normalize.KindPartial:
		s.transcript.SetPartial(u.Role, u.Text)
		if u.Role == normalize.RoleUser {
			s.userSpeaking = true
			s.restartSilenceTimerLocked(gen)
		}
	case normalize.KindFinal:
		s.transcript.AppendFinal(u.Role, u.Text, messageID(payload))
	}
}

// messageID probes a payload for a provider-assigned message identity.
func messageID(payload map[string]any) string {
	for _, key := range []string{"id", "message_id", "messageId"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// finish moves an active session to ended and fires the feedback
// trigger once. Safe to call repeatedly and from stale timers: the
// generation and status checks make late calls no-ops.
func (s *Session) finish(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(gen)
}

func (s *Session) finishLocked(gen int) {
	if s.gen != gen {
		return
	}
	switch s.status {
	case StatusConnecting, StatusInCall, StatusEnding:
	default:
		return
	}
	s.teardownLocked()
	s.status = StatusEnded
	s.logger.Info("call ended", "elapsed_s", s.elapsed, "messages", s.transcript.Len())

	if s.onEnded != nil && !s.endedFired {
		s.endedFired = true
		msgs := s.transcript.Messages()
		cfg := s.cfg
		go s.onEnded(msgs, cfg)
	}
}

// fail moves the session to the error state, releasing resources.
func (s *Session) fail(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.status == StatusEnded || s.status == StatusError {
		return
	}
	s.teardownLocked()
	s.status = StatusError
	s.lastErr = err
	s.logger.Error("call failed", "error", err)
}

// teardownLocked releases the microphone stream, the provider
// connection, and the ticker together. Reachable from every exit path
// (stop, provider end, error, reset) and idempotent.
func (s *Session) teardownLocked() {
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
	s.stopSilenceTimerLocked()
	if s.call != nil {
		s.call.Close()
		s.call = nil
	}
	if s.micStream != nil {
		s.micStream.Close()
		s.micStream = nil
	}
	s.assistantSpeaking = false
	s.userSpeaking = false
}

func (s *Session) tickLoop(gen int, stop chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.gen == gen && s.status == StatusInCall {
				s.elapsed++
			}
			s.mu.Unlock()
		}
	}
}

// restartSilenceTimerLocked debounces the user-speaking flag: each new
// partial restarts the window; expiry clears the flag.
func (s *Session) restartSilenceTimerLocked(gen int) {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(s.silenceTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen == gen && s.status == StatusInCall {
			s.userSpeaking = false
		}
	})
}

func (s *Session) stopSilenceTimerLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

// classifyMicError maps capability failures onto the messages surfaced
// to the user.
func classifyMicError(err error) error {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return fmt.Errorf("microphone access was denied; allow microphone use and try again: %w", err)
	case errors.Is(err, media.ErrNoDevice):
		return fmt.Errorf("no microphone was found; connect one and try again: %w", err)
	default:
		return fmt.Errorf("could not open the microphone: %w", err)
	}
}
