package core

import (
	"context"
	"time"
)

// MemoryRecord is a projection of a persisted message kept by a MemoryStore.
// It references the message by id and never owns it.
type MemoryRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageID      string    `json:"messageId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Message        Message   `json:"message"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ScoredRecord is a MemoryRecord returned by similarity search.
type ScoredRecord struct {
	Record MemoryRecord
	Score  float64
}

// MemoryStore persists memory records keyed by (conversationId, userId) and
// serves recency and similarity reads. Short method names align with
// MessageStore.
type MemoryStore interface {
	// Put stores rec, replacing any record with the same MessageID in the
	// same conversation.
	Put(ctx context.Context, rec MemoryRecord) error
	// Recent returns up to limit records ordered oldest first, ending with the
	// newest.
	Recent(ctx context.Context, conversationID, userID string, limit int) ([]MemoryRecord, error)
	// Search returns up to limit records of the conversation owned by the
	// user, ordered by descending similarity to the query embedding.
	Search(ctx context.Context, conversationID, userID string, query []float32, limit int) ([]ScoredRecord, error)
}
