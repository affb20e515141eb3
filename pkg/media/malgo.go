package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// SystemCapability captures from the host's default microphone via
// miniaudio (malgo).
type SystemCapability struct{}

// AcquireMicrophone opens the default capture device at 16 kHz mono
// s16le, the format the voice provider expects.
func (SystemCapability) AcquireMicrophone(ctx context.Context) (Stream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, mapInitError(err)
	}

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		freeContext(mctx)
		return nil, mapInitError(err)
	}
	if len(devices) == 0 {
		freeContext(mctx)
		return nil, ErrNoDevice
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRateHz
	cfg.Alsa.NoMMap = 1

	s := &malgoStream{
		mctx:   mctx,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			select {
			case <-s.done:
				return
			default:
			}
			frame := make([]byte, len(input))
			copy(frame, input)
			select {
			case s.frames <- frame:
			default:
				// Consumer is behind; drop the frame rather than block
				// the audio thread.
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, mapInitError(err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, mapInitError(err)
	}

	return s, nil
}

type malgoStream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *malgoStream) Frames() <-chan []byte { return s.frames }

func (s *malgoStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.device != nil {
			s.device.Uninit()
		}
		freeContext(s.mctx)
		close(s.frames)
	})
	return nil
}

func freeContext(mctx *malgo.AllocatedContext) {
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
}

// mapInitError translates miniaudio failures onto the package sentinels
// where the message is recognizable.
func mapInitError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return fmt.Errorf("open microphone: %w", err)
	}
}
