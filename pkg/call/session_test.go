package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/media"
	"github.com/voxprep/voxprep/pkg/voice"
	"github.com/voxprep/voxprep/pkg/voice/voicetest"
)

// fakeMic is an in-memory media.Capability for session tests.
type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (m *fakeMic) AcquireMicrophone(ctx context.Context) (media.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	st := &fakeStream{frames: make(chan []byte, 16)}
	m.streams = append(m.streams, st)
	return st, nil
}

func (m *fakeMic) lastStream() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type fakeStream struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func (s *fakeStream) Frames() <-chan []byte { return s.frames }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.frames <- frame
	}
}

func testCallConfig() CallConfig {
	return CallConfig{
		Interview: interview.Config{
			ID:          "iv-1",
			JobPosition: "Backend Engineer",
			Type:        "technical",
			Questions: []interview.Question{
				{Text: "Describe a system you designed.", Type: "technical"},
			},
		},
		CandidateName:  "Sam",
		CandidateEmail: "sam@example.com",
	}
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", s.Status(), want)
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSession_StartToEnded(t *testing.T) {
	provider := &voicetest.Provider{}
	mic := &fakeMic{}

	var endedCount atomic.Int32
	var gotMessages []Message
	ended := make(chan struct{}, 1)
	s := NewSession(provider, mic, func(msgs []Message, cfg CallConfig) {
		endedCount.Add(1)
		gotMessages = msgs
		ended <- struct{}{}
	})

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, s, StatusConnecting)

	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{CallID: "c-1"})
	waitStatus(t, s, StatusInCall)

	c.Emit(voice.MessageEvent{Payload: map[string]any{
		"role": "assistant", "transcript": "Describe a system you designed.", "id": "m1",
	}})
	c.Emit(voice.MessageEvent{Payload: map[string]any{
		"role": "user", "transcript": "I built a queueing service.", "id": "m2",
	}})
	waitCond(t, "two transcript messages", func() bool {
		return len(s.Snapshot().Messages) == 2
	})

	s.Stop()
	waitStatus(t, s, StatusEnded)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("ended handler never fired")
	}
	if got := endedCount.Load(); got != 1 {
		t.Fatalf("ended handler fired %d times, want 1", got)
	}
	if len(gotMessages) != 2 || gotMessages[1].Text != "I built a queueing service." {
		t.Fatalf("handler messages = %+v", gotMessages)
	}
	if c.Hangups() != 1 {
		t.Fatalf("hangups = %d, want 1", c.Hangups())
	}
	if st := mic.lastStream(); st == nil || !st.isClosed() {
		t.Fatalf("microphone stream should be released on end")
	}
}

func TestSession_StopFromIdleIsNoOp(t *testing.T) {
	s := NewSession(&voicetest.Provider{}, &fakeMic{}, nil)
	s.Stop()
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}
}

func TestSession_StartWhileActiveFails(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil)

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, s, StatusConnecting)

	if err := s.Start(context.Background(), testCallConfig()); err == nil {
		t.Fatalf("second start should fail while connecting")
	}
	if provider.DialCount() != 1 {
		t.Fatalf("dials = %d, want 1", provider.DialCount())
	}
}

func TestSession_DialErrorThenRetry(t *testing.T) {
	provider := &voicetest.Provider{DialErr: errors.New("gateway unreachable")}
	mic := &fakeMic{}
	s := NewSession(provider, mic, nil)

	if err := s.Start(context.Background(), testCallConfig()); err == nil {
		t.Fatalf("start should surface the dial error")
	}
	waitStatus(t, s, StatusError)
	if snap := s.Snapshot(); snap.Err == nil {
		t.Fatalf("snapshot should carry the failure")
	}
	if st := mic.lastStream(); st == nil || !st.isClosed() {
		t.Fatalf("microphone stream should be released on dial failure")
	}

	// Error is a retryable state.
	provider.DialErr = nil
	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("retry start: %v", err)
	}
	waitStatus(t, s, StatusConnecting)
	if snap := s.Snapshot(); snap.Err != nil {
		t.Fatalf("retry should clear the previous error, got %v", snap.Err)
	}
}

func TestSession_MicErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permission", media.ErrPermissionDenied, "microphone access was denied"},
		{"no device", media.ErrNoDevice, "no microphone was found"},
		{"other", errors.New("alsa exploded"), "could not open the microphone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(&voicetest.Provider{}, &fakeMic{err: tt.err}, nil)
			err := s.Start(context.Background(), testCallConfig())
			if err == nil {
				t.Fatalf("start should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want substring %q", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("error should wrap the capability failure")
			}
			if got := s.Status(); got != StatusError {
				t.Fatalf("status = %s, want error", got)
			}
		})
	}
}

func TestSession_DuplicateCallEndedFiresHandlerOnce(t *testing.T) {
	provider := &voicetest.Provider{}
	var endedCount atomic.Int32
	s := NewSession(provider, &fakeMic{}, func([]Message, CallConfig) {
		endedCount.Add(1)
	})

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{CallID: "c-1"})
	waitStatus(t, s, StatusInCall)

	// Providers can deliver the ended signal through more than one
	// channel; the stream close that follows is a third confirmation.
	c.Emit(voice.CallEndedEvent{Reason: "completed"})
	c.Emit(voice.CallEndedEvent{Reason: "completed"})
	waitStatus(t, s, StatusEnded)

	time.Sleep(50 * time.Millisecond)
	if got := endedCount.Load(); got != 1 {
		t.Fatalf("ended handler fired %d times, want 1", got)
	}
}

func TestSession_AbruptStreamCloseEndsCall(t *testing.T) {
	provider := &voicetest.Provider{}
	ended := make(chan struct{}, 1)
	s := NewSession(provider, &fakeMic{}, func([]Message, CallConfig) {
		ended <- struct{}{}
	})

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	c.End()
	waitStatus(t, s, StatusEnded)
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("ended handler never fired")
	}
}

func TestSession_ErrorEventDoesNotFireEndedHandler(t *testing.T) {
	provider := &voicetest.Provider{}
	var endedCount atomic.Int32
	s := NewSession(provider, &fakeMic{}, func([]Message, CallConfig) {
		endedCount.Add(1)
	})

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	c.Emit(voice.ErrorEvent{Code: "connection_lost", Message: "socket dropped"})
	waitStatus(t, s, StatusError)

	time.Sleep(50 * time.Millisecond)
	if got := endedCount.Load(); got != 0 {
		t.Fatalf("ended handler fired %d times on error, want 0", got)
	}
	if snap := s.Snapshot(); snap.Err == nil || !strings.Contains(snap.Err.Error(), "socket dropped") {
		t.Fatalf("snapshot err = %v", snap.Err)
	}
}

// blockingProvider gates Dial until released, so a test can supersede an
// in-flight connect.
type blockingProvider struct {
	inner   voicetest.Provider
	release chan struct{}
}

func (p *blockingProvider) Dial(ctx context.Context, opts voice.CallOptions) (voice.Call, error) {
	<-p.release
	return p.inner.Dial(ctx, opts)
}

func TestSession_ResetSupersedesInFlightDial(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{})}
	s := NewSession(provider, &fakeMic{}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background(), testCallConfig()) }()
	waitStatus(t, s, StatusConnecting)

	s.Reset()
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("status = %s, want idle", got)
	}

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("superseded start should return nil, got %v", err)
	}
	// The late dial result is discarded, not adopted.
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("status after late dial = %s, want idle", got)
	}
}

func TestSession_StopWhileConnectingEndsImmediately(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{})}
	defer close(provider.release)
	s := NewSession(provider, &fakeMic{}, nil)

	go s.Start(context.Background(), testCallConfig())
	waitStatus(t, s, StatusConnecting)

	s.Stop()
	waitStatus(t, s, StatusEnded)
}

func TestSession_VolumeDrivesUserSpeaking(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil, WithVolumeThreshold(0.2))

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	c.Emit(voice.VolumeLevelEvent{Level: 0.5})
	waitCond(t, "user speaking", func() bool { return s.Snapshot().UserSpeaking })

	c.Emit(voice.VolumeLevelEvent{Level: 0.05})
	waitCond(t, "user quiet", func() bool { return !s.Snapshot().UserSpeaking })
}

func TestSession_PartialDebouncesUserSpeaking(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil, WithSilenceTimeout(30*time.Millisecond))

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	c.Emit(voice.MessageEvent{Payload: map[string]any{
		"role": "user", "transcript": "I wor", "transcriptType": "partial",
	}})
	waitCond(t, "user speaking after partial", func() bool {
		snap := s.Snapshot()
		return snap.UserSpeaking && snap.UserPartial == "I wor"
	})

	// No further partials: the silence window clears the flag.
	waitCond(t, "silence debounce", func() bool { return !s.Snapshot().UserSpeaking })
}

func TestSession_SnapshotReplayDeduplicates(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil)

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	snapshot := map[string]any{
		"conversation": []any{
			map[string]any{"role": "assistant", "text": "First question?"},
			map[string]any{"role": "user", "text": "First answer."},
		},
	}
	c.Emit(voice.MessageEvent{Payload: snapshot})
	c.Emit(voice.MessageEvent{Payload: snapshot})
	waitCond(t, "snapshot finals recorded", func() bool {
		return len(s.Snapshot().Messages) >= 2
	})

	time.Sleep(20 * time.Millisecond)
	if got := len(s.Snapshot().Messages); got != 2 {
		t.Fatalf("messages = %d, want 2 after replayed snapshot", got)
	}
}

func TestSession_MicAudioForwarded(t *testing.T) {
	provider := &voicetest.Provider{}
	mic := &fakeMic{}
	s := NewSession(provider, mic, nil)

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	mic.lastStream().push(make([]byte, 320))
	mic.lastStream().push(make([]byte, 320))
	waitCond(t, "audio forwarded", func() bool { return c.AudioBytes() == 640 })
}

func TestSession_AudioSinkReceivesAssistantAudio(t *testing.T) {
	provider := &voicetest.Provider{}
	var sunk atomic.Int32
	s := NewSession(provider, &fakeMic{}, nil, WithAudioSink(func(b []byte) {
		sunk.Add(int32(len(b)))
	}))

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	c.Emit(voice.AudioChunkEvent{Data: make([]byte, 100)})
	waitCond(t, "audio sink", func() bool { return sunk.Load() == 100 })
}

func TestSession_ElapsedTicks(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil, WithTickInterval(5*time.Millisecond))

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)

	waitCond(t, "elapsed ticks", func() bool { return s.Snapshot().ElapsedSeconds >= 2 })

	c.Emit(voice.CallEndedEvent{})
	waitStatus(t, s, StatusEnded)
	frozen := s.Snapshot().ElapsedSeconds
	time.Sleep(30 * time.Millisecond)
	if got := s.Snapshot().ElapsedSeconds; got != frozen {
		t.Fatalf("elapsed advanced after end: %d -> %d", frozen, got)
	}
}

func TestSession_ResetClearsTranscript(t *testing.T) {
	provider := &voicetest.Provider{}
	s := NewSession(provider, &fakeMic{}, nil)

	if err := s.Start(context.Background(), testCallConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := provider.LastCall()
	c.Emit(voice.CallStartedEvent{})
	waitStatus(t, s, StatusInCall)
	c.Emit(voice.MessageEvent{Payload: map[string]any{
		"role": "user", "transcript": "hello", "id": "m1",
	}})
	waitCond(t, "message recorded", func() bool { return len(s.Snapshot().Messages) == 1 })

	s.Reset()
	snap := s.Snapshot()
	if snap.Status != StatusIdle || len(snap.Messages) != 0 || snap.ElapsedSeconds != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestBuildCallOptions(t *testing.T) {
	cfg := testCallConfig()
	opts := BuildCallOptions(cfg)

	if !strings.Contains(opts.Persona, "Backend Engineer") {
		t.Fatalf("persona should name the position: %q", opts.Persona)
	}
	if !strings.Contains(opts.Persona, "1. Describe a system you designed.") {
		t.Fatalf("persona should list the questions: %q", opts.Persona)
	}
	if !strings.Contains(opts.FirstMessage, "Sam") {
		t.Fatalf("greeting should address the candidate: %q", opts.FirstMessage)
	}
	if opts.Metadata["interview_id"] != "iv-1" || opts.Metadata["candidate_email"] != "sam@example.com" {
		t.Fatalf("metadata = %+v", opts.Metadata)
	}
}
