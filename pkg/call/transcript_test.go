package call

import (
	"fmt"
	"testing"

	"github.com/voxprep/voxprep/pkg/call/normalize"
)

func TestTranscript_IDDedup(t *testing.T) {
	tr := NewTranscript(0)

	if !tr.AppendFinal(normalize.RoleAssistant, "Tell me about yourself", "m1") {
		t.Fatalf("first append should be recorded")
	}
	if tr.AppendFinal(normalize.RoleAssistant, "Tell me about yourself", "m1") {
		t.Fatalf("same id should be suppressed")
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}
}

func TestTranscript_TextDedupWithinLookback(t *testing.T) {
	tr := NewTranscript(0)

	tr.AppendFinal(normalize.RoleUser, "I worked at Acme", "m2")
	if tr.AppendFinal(normalize.RoleUser, "I worked at Acme", "m3") {
		t.Fatalf("same role+text with fresh id should be suppressed")
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}

	// Different role, same text: allowed.
	if !tr.AppendFinal(normalize.RoleAssistant, "I worked at Acme", "m4") {
		t.Fatalf("same text from the other role should be recorded")
	}
}

func TestTranscript_TextDedupExpiresPastLookback(t *testing.T) {
	tr := NewTranscript(2)

	tr.AppendFinal(normalize.RoleUser, "repeat me", "")
	tr.AppendFinal(normalize.RoleAssistant, "filler one", "")
	tr.AppendFinal(normalize.RoleUser, "filler two", "")

	// "repeat me" is now outside the 2-message window.
	if !tr.AppendFinal(normalize.RoleUser, "repeat me", "") {
		t.Fatalf("text outside the lookback window should be recorded")
	}
	if tr.Len() != 4 {
		t.Fatalf("len = %d, want 4", tr.Len())
	}
}

func TestTranscript_DedupIdempotence(t *testing.T) {
	tr := NewTranscript(0)

	// Every submission sent twice in a row; log length must equal the
	// number of distinct submissions.
	distinct := 0
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("utterance %d", i)
		id := fmt.Sprintf("m%d", i)
		if tr.AppendFinal(normalize.RoleUser, text, id) {
			distinct++
		}
		tr.AppendFinal(normalize.RoleUser, text, id)
	}
	if tr.Len() != distinct {
		t.Fatalf("len = %d, want %d", tr.Len(), distinct)
	}
}

func TestTranscript_PartialToFinal(t *testing.T) {
	tr := NewTranscript(0)

	tr.SetPartial(normalize.RoleUser, "I wor")
	if text, ok := tr.Partial(normalize.RoleUser); !ok || text != "I wor" {
		t.Fatalf("partial = %q, %v", text, ok)
	}

	tr.AppendFinal(normalize.RoleUser, "I worked at Acme", "m4")

	if _, ok := tr.Partial(normalize.RoleUser); ok {
		t.Fatalf("partial slot should be cleared by the final")
	}
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Role != normalize.RoleUser || msgs[0].Text != "I worked at Acme" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestTranscript_PartialLastWriteWins(t *testing.T) {
	tr := NewTranscript(0)

	tr.SetPartial(normalize.RoleAssistant, "How ab")
	tr.SetPartial(normalize.RoleAssistant, "How about we start")
	if text, _ := tr.Partial(normalize.RoleAssistant); text != "How about we start" {
		t.Fatalf("partial = %q", text)
	}

	tr.ClearPartial(normalize.RoleAssistant)
	if _, ok := tr.Partial(normalize.RoleAssistant); ok {
		t.Fatalf("partial should be cleared")
	}
}

func TestTranscript_GeneratedIDsUnique(t *testing.T) {
	tr := NewTranscript(0)
	tr.AppendFinal(normalize.RoleUser, "one", "")
	tr.AppendFinal(normalize.RoleAssistant, "two", "")
	msgs := tr.Messages()
	if msgs[0].ID == "" || msgs[1].ID == "" || msgs[0].ID == msgs[1].ID {
		t.Fatalf("generated ids must be unique and non-empty: %q %q", msgs[0].ID, msgs[1].ID)
	}
}

func TestTranscript_Reset(t *testing.T) {
	tr := NewTranscript(0)
	tr.AppendFinal(normalize.RoleUser, "hello", "m1")
	tr.SetPartial(normalize.RoleAssistant, "in progress")

	tr.Reset()

	if tr.Len() != 0 {
		t.Fatalf("len after reset = %d", tr.Len())
	}
	if _, ok := tr.Partial(normalize.RoleAssistant); ok {
		t.Fatalf("partials should be cleared")
	}
	// Identity set cleared too: the old id is appendable again.
	if !tr.AppendFinal(normalize.RoleUser, "hello", "m1") {
		t.Fatalf("id set should be cleared by reset")
	}
}
