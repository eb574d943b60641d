// Package message defines the envelope exchanged between the routing core
// and skills over the message bus. A message pairs a dotted type (which is
// also the bus subject it travels on) with a data payload and a context bag.
//
// The context bag carries per-utterance attribution and metadata: resolved
// language, session and skill identity, transformer-added keys. It is owned
// by the routing call that created it, mutated in place only during the
// transform stage, and discarded when the call returns. Replies inherit the
// full context of the message they answer, which is what carries correlation
// ids back to a waiting requester.
package message

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/c360/intentstream/errors"
)

// Well-known context keys.
const (
	// KeyCorrelationID correlates a reply to the request that caused it.
	KeyCorrelationID = "correlation_id"
	// KeySkillID attributes a message to the skill that emitted it.
	KeySkillID = "skill_id"
	// KeySource names the service or component that created the message.
	KeySource = "source"
)

// Language context keys, in resolution priority order (see router).
const (
	KeySTTLang      = "stt_lang"      // tagged by the speech stage
	KeyRequestLang  = "request_lang"  // volunteered by the request source
	KeyDetectedLang = "detected_lang" // tagged by a transformer
)

// Message is the wire envelope. Type doubles as the bus subject.
type Message struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

// New creates a message with a fresh id and non-nil maps.
func New(msgType string, data map[string]any) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{
		ID:      uuid.New().String(),
		Type:    msgType,
		Data:    data,
		Context: map[string]any{},
	}
}

// Reply builds a response to m: a new message that inherits m's full
// context. Correlation ids set by a waiting requester survive the round
// trip this way.
func (m *Message) Reply(msgType string, data map[string]any) *Message {
	reply := New(msgType, data)
	reply.Context = maps.Clone(m.Context)
	if reply.Context == nil {
		reply.Context = map[string]any{}
	}
	return reply
}

// Forward builds a message continuing in the same direction as m, keeping
// its context. With nil data the original payload is carried along.
func (m *Message) Forward(msgType string, data map[string]any) *Message {
	if data == nil {
		data = maps.Clone(m.Data)
	}
	fwd := New(msgType, data)
	fwd.Context = maps.Clone(m.Context)
	if fwd.Context == nil {
		fwd.Context = map[string]any{}
	}
	return fwd
}

// Utterances returns the ordered transcript variants carried by m,
// highest-confidence first. Both []string and []any (post-JSON) forms of
// the data key are accepted.
func (m *Message) Utterances() []string {
	switch v := m.Data["utterances"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, u := range v {
			if s, ok := u.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ContextString returns the string value of a context key, or "" when the
// key is absent or not a string.
func (m *Message) ContextString(key string) string {
	s, _ := m.Context[key].(string)
	return s
}

// DataString returns the string value of a data key, or "" when the key is
// absent or not a string.
func (m *Message) DataString(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Lang returns the language tag carried in data or context, falling back to
// fallback when neither is set.
func (m *Message) Lang(fallback string) string {
	if lang := m.DataString("lang"); lang != "" {
		return lang
	}
	if lang := m.ContextString("lang"); lang != "" {
		return lang
	}
	return fallback
}

// Validate checks that the message is well-formed for transmission.
func (m *Message) Validate() error {
	if m.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Message", "Validate", "empty message type")
	}
	if !IsValidSubject(m.Type) {
		return errors.WrapInvalid(
			fmt.Errorf("type %q is not a valid bus subject", m.Type),
			"Message", "Validate", "subject check")
	}
	return nil
}

// Encode serializes m to its JSON wire format.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode parses a wire-format message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Decode", "unmarshal envelope")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	return &m, nil
}

// IsValidSubject reports whether s can be used as a bus subject token
// sequence. Valid characters per token are alphanumeric, dash and
// underscore, with dots separating tokens.
func IsValidSubject(s string) bool {
	if s == "" {
		return false
	}
	lastDot := true // leading dot is invalid
	for _, r := range s {
		switch {
		case r == '.':
			if lastDot {
				return false
			}
			lastDot = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_':
			lastDot = false
		default:
			return false
		}
	}
	return !lastDot // trailing dot is invalid
}
