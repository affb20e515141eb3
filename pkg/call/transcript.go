package call

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxprep/voxprep/pkg/call/normalize"
)

// Message is one finalized utterance in the transcript.
type Message struct {
	ID        string         `json:"id"`
	Role      normalize.Role `json:"role"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultLookback is how many trailing messages AppendFinal scans for
// text-level duplicate retransmissions. Small on purpose; the window
// only needs to cover a provider resending one final through multiple
// event channels.
const DefaultLookback = 3

// Transcript is the ordered, deduplicated log of finalized utterances
// plus one in-progress partial slot per role.
//
// Not safe for concurrent use: the session event loop is the only
// writer, and readers go through Session.Snapshot.
type Transcript struct {
	lookback int
	now      func() time.Time

	messages []Message
	seenIDs  map[string]struct{}
	partials map[normalize.Role]string
}

// NewTranscript creates an empty transcript with the given dedup
// lookback window (<= 0 selects DefaultLookback).
func NewTranscript(lookback int) *Transcript {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Transcript{
		lookback: lookback,
		now:      time.Now,
		seenIDs:  make(map[string]struct{}),
		partials: make(map[normalize.Role]string),
	}
}

// AppendFinal records a finalized utterance. Returns false when the
// utterance is suppressed as a duplicate: either its id was already
// recorded, or an identical (role, text) pair sits within the lookback
// window. Providers routinely resend the same final transcript through
// multiple event channels; without this the transcript doubles every
// utterance.
func (t *Transcript) AppendFinal(role normalize.Role, text string, id string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if id != "" {
		if _, seen := t.seenIDs[id]; seen {
			return false
		}
	}

	start := len(t.messages) - t.lookback
	if start < 0 {
		start = 0
	}
	for _, m := range t.messages[start:] {
		if m.Role == role && m.Text == text {
			return false
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	t.seenIDs[id] = struct{}{}
	t.messages = append(t.messages, Message{
		ID:        id,
		Role:      role,
		Text:      text,
		Timestamp: t.now(),
	})
	delete(t.partials, role)
	return true
}

// SetPartial overwrites the in-progress utterance for a role. Last write
// wins; only the most recent partial matters for display.
func (t *Transcript) SetPartial(role normalize.Role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		delete(t.partials, role)
		return
	}
	t.partials[role] = text
}

// ClearPartial empties the partial slot for a role.
func (t *Transcript) ClearPartial(role normalize.Role) {
	delete(t.partials, role)
}

// ClearPartials empties both partial slots.
func (t *Transcript) ClearPartials() {
	t.partials = make(map[normalize.Role]string)
}

// Partial returns the in-progress utterance for a role, if any.
func (t *Transcript) Partial(role normalize.Role) (string, bool) {
	text, ok := t.partials[role]
	return text, ok
}

// Messages returns a copy of the finalized log in append order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len reports the number of finalized messages.
func (t *Transcript) Len() int { return len(t.messages) }

// Reset clears the log, partial slots, and identity set.
func (t *Transcript) Reset() {
	t.messages = nil
	t.seenIDs = make(map[string]struct{})
	t.partials = make(map[normalize.Role]string)
}
