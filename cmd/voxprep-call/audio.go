package main

import (
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/voxprep/voxprep/pkg/media"
)

// speaker buffers assistant PCM and feeds it to oto. The session's audio
// sink appends chunks; oto pulls from the buffer on its own thread.
type speaker struct {
	player *oto.Player

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// newSpeaker opens the default output device at the call's capture
// format (16 kHz mono s16le) and starts a player over the buffer.
func newSpeaker() (*speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   media.SampleRateHz,
		ChannelCount: media.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms of audio; small enough to keep latency conversational.
		BufferSize: media.SampleRateHz / 10 * 2,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	s := &speaker{}
	s.cond = sync.NewCond(&s.mu)
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Write queues one assistant audio chunk for playback.
func (s *speaker) Write(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, chunk...)
	s.cond.Signal()
}

// Read feeds oto. Blocks until audio arrives; returns silence after
// Close so the device drains without a pop.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speaker) Close() {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.player != nil {
		s.player.Close()
	}
}
