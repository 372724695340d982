package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Message is a single entry in a conversation log. The Parts slice is owned
// by the message and its order is meaning-bearing.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
	Metadata  Metadata  `json:"metadata"`
}

// NewID generates a new random identifier.
func NewID() string { return uuid.NewString() }

// NewMessage creates a message with a fresh id and creation time.
func NewMessage(role Role, parts ...Part) Message {
	return Message{ID: NewID(), Role: role, Parts: parts, CreatedAt: time.Now().UTC()}
}

// NewUserText is shorthand for a user message holding one text part.
func NewUserText(text string) Message {
	return NewMessage(RoleUser, TextPart{Text: text})
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// ToolResults returns the tool-result parts of the message in order.
func (m Message) ToolResults() []ToolResultPart {
	var out []ToolResultPart
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Text returns all text parts joined by newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Clone returns a copy whose Parts slice and metadata may be modified
// independently.
func (m Message) Clone() Message {
	c := m
	c.Parts = append([]Part(nil), m.Parts...)
	c.Metadata = m.Metadata.Clone()
	return c
}

type messageJSON struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Parts     json.RawMessage `json:"parts"`
	CreatedAt time.Time       `json:"createdAt"`
	Metadata  Metadata        `json:"metadata"`
}

// MarshalJSON encodes the message with tagged parts.
func (m Message) MarshalJSON() ([]byte, error) {
	parts, err := MarshalParts(m.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{ID: m.ID, Role: m.Role, Parts: parts, CreatedAt: m.CreatedAt, Metadata: m.Metadata})
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Role.Valid() {
		return fmt.Errorf("message %q: invalid role %q", raw.ID, raw.Role)
	}
	var parts []Part
	if len(raw.Parts) > 0 && string(raw.Parts) != "null" {
		p, err := UnmarshalParts(raw.Parts)
		if err != nil {
			return fmt.Errorf("message %q: %w", raw.ID, err)
		}
		parts = p
	}
	*m = Message{ID: raw.ID, Role: raw.Role, Parts: parts, CreatedAt: raw.CreatedAt, Metadata: raw.Metadata}
	return nil
}
