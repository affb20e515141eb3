// Package normalize converts raw voice-provider message payloads into
// canonical utterances.
//
// Providers deliver transcripts through several differently-shaped event
// channels, none of which is guaranteed to be stable. Everything here is
// a pure, total function: unexpected shapes degrade to a "no utterance"
// result, never to a panic.
package normalize

import "strings"

// Role identifies a conversation participant.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Kind distinguishes in-progress from finalized transcripts.
type Kind int

const (
	// KindFinal is a completed, stable utterance.
	KindFinal Kind = iota
	// KindPartial is an incremental not-yet-finalized transcript.
	KindPartial
)

// Utterance is the canonical result of normalizing one payload.
type Utterance struct {
	Role Role
	Text string
	Kind Kind
}

// maxMessageDepth bounds recursive unwrapping of nested "message" fields.
const maxMessageDepth = 4

// roleSynonyms maps provider role spellings onto canonical roles.
var roleSynonyms = map[string]Role{
	"assistant": RoleAssistant,
	"bot":       RoleAssistant,
	"ai":        RoleAssistant,
	"agent":     RoleAssistant,
	"user":      RoleUser,
	"client":    RoleUser,
	"human":     RoleUser,
	"speaker":   RoleUser,
	"caller":    RoleUser,
	"customer":  RoleUser,
}

// Normalize extracts a canonical utterance from one raw payload. The
// second return is false when the payload carries nothing usable: no
// recognizable role, or no non-empty text.
func Normalize(raw any) (Utterance, bool) {
	m, ok := raw.(map[string]any)
	if !ok || m == nil {
		return Utterance{}, false
	}

	role, ok := extractRole(m)
	if !ok {
		return Utterance{}, false
	}

	text, ok := extractText(m, maxMessageDepth)
	if !ok {
		return Utterance{}, false
	}

	return Utterance{Role: role, Text: text, Kind: extractKind(m)}, true
}

// NormalizeSnapshot extracts the ordered utterance list from a full
// conversation snapshot payload. Entries that do not normalize are
// skipped; a payload with no usable list returns false.
func NormalizeSnapshot(raw any) ([]Utterance, bool) {
	m, ok := raw.(map[string]any)
	if !ok || m == nil {
		return nil, false
	}

	var list []any
	for _, key := range []string{"conversation", "messages", "turns"} {
		if l, ok := m[key].([]any); ok {
			list = l
			break
		}
	}
	if list == nil {
		return nil, false
	}

	out := make([]Utterance, 0, len(list))
	for _, entry := range list {
		if u, ok := Normalize(entry); ok {
			out = append(out, u)
		}
	}
	return out, true
}

// CanonicalRole maps a provider role spelling onto a canonical role.
func CanonicalRole(s string) (Role, bool) {
	role, ok := roleSynonyms[strings.ToLower(strings.TrimSpace(s))]
	return role, ok
}

// extractRole probes the provider's role/speaker/from field and maps
// known synonyms onto canonical roles.
func extractRole(m map[string]any) (Role, bool) {
	for _, key := range []string{"role", "speaker", "from"} {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		if role, ok := CanonicalRole(s); ok {
			return role, true
		}
	}
	return "", false
}

// extractText probes text-bearing fields in priority order: transcript,
// text, content (string or fragment list), then message (string or a
// nested payload unwrapped recursively).
func extractText(m map[string]any, depth int) (string, bool) {
	for _, key := range []string{"transcript", "text"} {
		if s, ok := m[key].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t, true
			}
		}
	}

	switch content := m["content"].(type) {
	case string:
		if t := strings.TrimSpace(content); t != "" {
			return t, true
		}
	case []any:
		if t := joinFragments(content); t != "" {
			return t, true
		}
	}

	switch msg := m["message"].(type) {
	case string:
		if t := strings.TrimSpace(msg); t != "" {
			return t, true
		}
	case map[string]any:
		if depth > 0 {
			if t, ok := extractText(msg, depth-1); ok {
				return t, true
			}
		}
	}

	return "", false
}

// joinFragments concatenates the text of an ordered fragment list.
func joinFragments(fragments []any) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		switch frag := f.(type) {
		case string:
			if t := strings.TrimSpace(frag); t != "" {
				parts = append(parts, t)
			}
		case map[string]any:
			for _, key := range []string{"text", "content"} {
				if s, ok := frag[key].(string); ok {
					if t := strings.TrimSpace(s); t != "" {
						parts = append(parts, t)
					}
					break
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// extractKind reports KindPartial only when the payload explicitly marks
// itself as partial/incremental; everything else is final.
func extractKind(m map[string]any) Kind {
	for _, key := range []string{"transcriptType", "transcript_type", "kind", "status"} {
		if s, ok := m[key].(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "partial", "interim", "incremental":
				return KindPartial
			}
		}
	}
	for _, key := range []string{"isFinal", "is_final", "final"} {
		if b, ok := m[key].(bool); ok && !b {
			return KindPartial
		}
	}
	return KindFinal
}
