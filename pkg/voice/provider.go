// Package voice defines the realtime voice provider boundary: the call
// handle, its asynchronous event stream, and a WebSocket implementation.
//
// The provider's generic "message" events have no fixed schema. This
// package delivers them as raw payloads; pkg/call/normalize owns the
// best-effort field probing.
package voice

import "context"

// CallOptions configures an outbound voice call.
type CallOptions struct {
	// Persona is the assistant instruction blob (who the interviewer is,
	// which questions to ask).
	Persona string `json:"persona"`

	// FirstMessage is the opening line spoken when the call connects.
	FirstMessage string `json:"first_message,omitempty"`

	// VoiceID selects the provider voice.
	VoiceID string `json:"voice_id,omitempty"`

	// Transcriber selects the speech-to-text backend.
	Transcriber string `json:"transcriber,omitempty"`

	// Metadata is attached to the call for bookkeeping.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Call is a live voice call. Events terminates (channel close) when the
// call is torn down, whether by Hangup, provider close, or error.
type Call interface {
	// Events yields the provider's asynchronous event stream.
	Events() <-chan Event

	// SendAudio sends one PCM frame of caller audio.
	SendAudio(pcm []byte) error

	// Hangup asks the provider to end the call. The call is not finished
	// until a CallEndedEvent arrives (or the event channel closes).
	Hangup() error

	// Close force-releases the connection without waiting for the
	// provider. Safe to call multiple times.
	Close() error
}

// Provider originates calls.
type Provider interface {
	Dial(ctx context.Context, opts CallOptions) (Call, error)
}
