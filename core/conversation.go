package core

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned by stores when a conversation id is
// unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is an ordered, append-only log of messages owned by one user.
//
// Contract:
//   - Append is the only way to grow the log and refreshes UpdatedAt
//   - StampLastAssistant may touch only the newest assistant message, and only
//     when it is the newest message overall
//   - Snapshot returns a copy
//
// A Conversation is not safe for concurrent mutation; a single active request
// per conversation id is assumed.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewConversation creates an empty conversation.
func NewConversation(id, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, UserID: userID, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

// Append adds messages to the end of the log.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now().UTC()
}

// StampLastAssistant applies fn to the metadata of the final message when it
// is an assistant message. It reports whether fn was applied.
func (c *Conversation) StampLastAssistant(fn func(*Metadata)) bool {
	if len(c.Messages) == 0 {
		return false
	}
	last := &c.Messages[len(c.Messages)-1]
	if last.Role != RoleAssistant {
		return false
	}
	fn(&last.Metadata)
	c.UpdatedAt = time.Now().UTC()
	return true
}

// Snapshot returns a copy of the message log.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = m.Clone()
	}
	return out
}

// ConversationInfo is the persisted header of a conversation.
type ConversationInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoredMessage is a message row as held by a MessageStore. Text and Summary
// are derived from Message; Message.Parts is always the canonical record.
type StoredMessage struct {
	ConversationID string
	Message        Message
	Text           string
	Summary        MessageSummary
	UpdatedAt      time.Time
}

// MessageSummary is a lightweight digest of reasoning and tool usage.
type MessageSummary struct {
	ReasoningCount int      `json:"reasoningCount"`
	ToolNames      []string `json:"toolNames"`
	HasReasoning   bool     `json:"hasReasoning"`
}

// MessageStore persists conversation headers and message rows keyed by
// UUID-shaped ids.
type MessageStore interface {
	// GetConversation returns ErrConversationNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*ConversationInfo, error)
	// CreateConversation is used by collaborators owning conversation creation.
	CreateConversation(ctx context.Context, info ConversationInfo) error
	// UpsertMessage inserts the row or replaces the row with the same message
	// id in the same conversation, keeping its position.
	UpsertMessage(ctx context.Context, row StoredMessage) error
	// TouchConversation refreshes the conversation's last-modified timestamp.
	TouchConversation(ctx context.Context, id string, at time.Time) error
	// ListMessages returns the rows of a conversation in insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]StoredMessage, error)
}
