package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultPingInterval   = 20 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	eventBufferSize       = 100
)

// WSProvider dials a realtime voice provider over WebSocket.
type WSProvider struct {
	URL    string
	APIKey string

	// Dialer overrides the default websocket dialer (tests).
	Dialer *websocket.Dialer

	PingInterval time.Duration
	WriteTimeout time.Duration
}

// NewWSProvider creates a WebSocket voice provider client.
func NewWSProvider(url, apiKey string) *WSProvider {
	return &WSProvider{URL: url, APIKey: apiKey}
}

// Dial connects and starts the call with the given options.
func (p *WSProvider) Dial(ctx context.Context, opts CallOptions) (Call, error) {
	dialer := p.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultConnectTimeout}
	}

	header := http.Header{}
	if p.APIKey != "" {
		header.Set("Authorization", "Bearer "+p.APIKey)
	}

	conn, resp, err := dialer.DialContext(ctx, p.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial voice provider: unauthorized")
		}
		return nil, fmt.Errorf("dial voice provider: %w", err)
	}

	c := &wsCall{
		conn:         conn,
		events:       make(chan Event, eventBufferSize),
		done:         make(chan struct{}),
		pingInterval: orDuration(p.PingInterval, defaultPingInterval),
		writeTimeout: orDuration(p.WriteTimeout, defaultWriteTimeout),
	}

	start := map[string]any{
		"type":          "call.start",
		"persona":       opts.Persona,
		"first_message": opts.FirstMessage,
		"voice_id":      opts.VoiceID,
		"transcriber":   opts.Transcriber,
		"metadata":      opts.Metadata,
	}
	if err := c.sendJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send call.start: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

type wsCall struct {
	conn *websocket.Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	pingInterval time.Duration
	writeTimeout time.Duration
}

func (c *wsCall) Events() <-chan Event { return c.events }

// SendAudio sends one PCM frame as a binary websocket message.
func (c *wsCall) SendAudio(pcm []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("call is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Hangup requests a graceful call end. The provider answers with a
// call.ended frame before closing the connection.
func (c *wsCall) Hangup() error {
	return c.sendJSON(map[string]any{"type": "hangup"})
}

// Close tears the connection down immediately.
func (c *wsCall) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *wsCall) sendJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("call is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsCall) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop decodes inbound frames into events until the connection dies.
// The event channel is closed on exit; that close is the consumer's
// signal that the call is over.
func (c *wsCall) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(ErrorEvent{Code: "connection_lost", Message: err.Error()})
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			c.emit(AudioChunkEvent{Data: data, Format: "pcm_s16le"})
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			// Not JSON; surface it as a generic message so nothing is
			// silently dropped.
			c.emit(MessageEvent{Payload: map[string]any{"raw": string(data)}})
			continue
		}
		c.emit(decodeFrame(frame))
	}
}

func (c *wsCall) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// decodeFrame maps a provider frame onto a typed event. Frames with an
// unrecognized type stay visible as MessageEvent payloads.
func decodeFrame(frame map[string]any) Event {
	switch stringField(frame, "type") {
	case "call.started":
		return CallStartedEvent{CallID: stringField(frame, "call_id")}
	case "call.ended":
		return CallEndedEvent{Reason: stringField(frame, "reason")}
	case "speech.started":
		return SpeechStartedEvent{Role: stringField(frame, "role")}
	case "speech.ended":
		return SpeechEndedEvent{Role: stringField(frame, "role")}
	case "volume.level":
		return VolumeLevelEvent{Level: floatField(frame, "level")}
	case "audio.chunk":
		data, _ := base64.StdEncoding.DecodeString(stringField(frame, "data"))
		return AudioChunkEvent{Data: data, Format: stringField(frame, "format")}
	case "error":
		return ErrorEvent{
			Code:    stringField(frame, "code"),
			Message: stringField(frame, "message"),
		}
	default:
		return MessageEvent{Payload: frame}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
