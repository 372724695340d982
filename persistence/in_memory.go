package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a volatile core.MessageStore keeping conversations in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned rows are cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]core.ConversationInfo
	messages      map[string][]core.StoredMessage
}

// NewInMemoryStore constructs an empty in-memory message store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]core.ConversationInfo),
		messages:      make(map[string][]core.StoredMessage),
	}
}

// GetConversation returns the conversation header or core.ErrConversationNotFound.
func (s *InMemoryStore) GetConversation(_ context.Context, id string) (*core.ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	return &info, nil
}

// CreateConversation registers a conversation. Creating an existing id is a
// no-op.
func (s *InMemoryStore) CreateConversation(_ context.Context, info core.ConversationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[info.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = info.CreatedAt
	}
	s.conversations[info.ID] = info
	return nil
}

// UpsertMessage inserts the row or replaces the row with the same message id
// in place, keeping its position.
func (s *InMemoryStore) UpsertMessage(_ context.Context, row core.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[row.ConversationID]; !ok {
		return core.ErrConversationNotFound
	}
	row = cloneRow(row)
	rows := s.messages[row.ConversationID]
	for i := range rows {
		if rows[i].Message.ID == row.Message.ID {
			rows[i] = row
			return nil
		}
	}
	s.messages[row.ConversationID] = append(rows, row)
	return nil
}

// TouchConversation refreshes UpdatedAt.
func (s *InMemoryStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.conversations[id]
	if !ok {
		return core.ErrConversationNotFound
	}
	info.UpdatedAt = at.UTC()
	s.conversations[id] = info
	return nil
}

// ListMessages returns clones of the conversation's rows in insertion order.
func (s *InMemoryStore) ListMessages(_ context.Context, conversationID string) ([]core.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.messages[conversationID]
	out := make([]core.StoredMessage, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func cloneRow(r core.StoredMessage) core.StoredMessage {
	c := r
	c.Message = r.Message.Clone()
	c.Summary.ToolNames = append([]string(nil), r.Summary.ToolNames...)
	return c
}
