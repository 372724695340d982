package testutil

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().ID("a1").Assistant().Text("calling").ToolCall("c1", "searchWeb", `{"query":"go"}`).Build()
//
// Chain only the parts you need; the role defaults to user.
type MessageBuilder struct {
	id    string
	role  core.Role
	parts []core.Part
	at    time.Time
	meta  core.Metadata
}

// NewMessageBuilder creates a builder for a user message.
func NewMessageBuilder() *MessageBuilder { return &MessageBuilder{role: core.RoleUser} }

// ID overrides the auto-generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// User sets the role to user (chainable).
func (b *MessageBuilder) User() *MessageBuilder { b.role = core.RoleUser; return b }

// Assistant sets the role to assistant (chainable).
func (b *MessageBuilder) Assistant() *MessageBuilder { b.role = core.RoleAssistant; return b }

// At sets the creation time (chainable).
func (b *MessageBuilder) At(t time.Time) *MessageBuilder { b.at = t; return b }

// Text appends a text part (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Reasoning appends a reasoning part (chainable).
func (b *MessageBuilder) Reasoning(t string) *MessageBuilder {
	b.parts = append(b.parts, core.ReasoningPart{Text: t})
	return b
}

// ToolCall appends a tool-call part; args is raw JSON and may be empty (chainable).
func (b *MessageBuilder) ToolCall(id, name, args string) *MessageBuilder {
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	b.parts = append(b.parts, core.ToolCallPart{ToolCallID: id, ToolName: name, Args: raw})
	return b
}

// ToolResult appends a tool-result part (chainable).
func (b *MessageBuilder) ToolResult(id, name string, result any) *MessageBuilder {
	b.parts = append(b.parts, core.ToolResultPart{ToolCallID: id, ToolName: name, Result: result})
	return b
}

// Model stamps the model metadata field (chainable).
func (b *MessageBuilder) Model(m string) *MessageBuilder { b.meta.Model = m; return b }

// Build finalizes the message.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.role, b.parts...)
	if b.id != "" {
		msg.ID = b.id
	}
	if !b.at.IsZero() {
		msg.CreatedAt = b.at
	}
	msg.Metadata = b.meta
	return msg
}

// User returns a user text message with the given id.
func User(id, text string) core.Message {
	return NewMessageBuilder().ID(id).Text(text).Build()
}

// AssistantText returns an assistant text message with the given id.
func AssistantText(id, text string) core.Message {
	return NewMessageBuilder().ID(id).Assistant().Text(text).Build()
}

// AssistantCall returns an assistant message holding one tool call.
func AssistantCall(id, callID, tool string) core.Message {
	return NewMessageBuilder().ID(id).Assistant().ToolCall(callID, tool, `{}`).Build()
}

// UserResult returns a user message holding one tool result.
func UserResult(id, callID, tool string, result any) core.Message {
	return NewMessageBuilder().ID(id).ToolResult(callID, tool, result).Build()
}
