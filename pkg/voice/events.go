package voice

// Event is the interface for all events emitted by a live call.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// CallStartedEvent is emitted when the provider confirms the call is live.
type CallStartedEvent struct {
	CallID string `json:"call_id,omitempty"`
}

func (e CallStartedEvent) EventType() string { return "call.started" }

// CallEndedEvent is emitted when the call terminates.
type CallEndedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e CallEndedEvent) EventType() string { return "call.ended" }

// SpeechStartedEvent is emitted when a participant starts speaking.
type SpeechStartedEvent struct {
	Role string `json:"role"`
}

func (e SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechEndedEvent is emitted when a participant stops speaking.
type SpeechEndedEvent struct {
	Role string `json:"role"`
}

func (e SpeechEndedEvent) EventType() string { return "speech.ended" }

// VolumeLevelEvent carries the continuous input volume signal (0-1).
type VolumeLevelEvent struct {
	Level float64 `json:"level"`
}

func (e VolumeLevelEvent) EventType() string { return "volume.level" }

// AudioChunkEvent carries assistant audio for playback.
type AudioChunkEvent struct {
	Data   []byte `json:"data"`
	Format string `json:"format,omitempty"`
}

func (e AudioChunkEvent) EventType() string { return "audio.chunk" }

// MessageEvent is the generic message category. The payload shape varies
// by provider and event sub-type; consumers must not assume any shape.
type MessageEvent struct {
	Payload map[string]any `json:"payload"`
}

func (e MessageEvent) EventType() string { return "message" }

// ErrorEvent is emitted when the provider reports a call failure.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e ErrorEvent) EventType() string { return "error" }
