// Package media abstracts the host's audio capture capability. The call
// session asks for a microphone before dialing; acquisition failures are
// distinguishable (denied vs. no device) so the UI can explain what to fix.
package media

import (
	"context"
	"errors"
)

// Sentinel conditions a capability must map platform errors onto.
var (
	// ErrPermissionDenied means the host refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrNoDevice means no capture device is present.
	ErrNoDevice = errors.New("no microphone device found")
)

// Stream is an open microphone capture stream.
type Stream interface {
	// Frames yields PCM frames until the stream is closed. The channel
	// closes when capture stops.
	Frames() <-chan []byte

	// Close releases the device. Safe to call multiple times.
	Close() error
}

// Capability grants access to host media devices.
type Capability interface {
	// AcquireMicrophone opens the default capture device. Returns
	// ErrPermissionDenied or ErrNoDevice for the distinguishable
	// failure modes.
	AcquireMicrophone(ctx context.Context) (Stream, error)
}

// Format constants for the capture stream.
const (
	SampleRateHz = 16000
	Channels     = 1
)
