package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/observability"
)

// Soft failure reasons, also used as metric labels.
const (
	ReasonConversationNotFound = "conversation_not_found"
	ReasonOwnerMismatch        = "owner_mismatch"
	ReasonStoreError           = "store_error"
	ReasonInvalidMessage       = "invalid_message"
)

// Rememberer receives messages after they were saved durably.
type Rememberer interface {
	Remember(ctx context.Context, conversationID, userID string, msg core.Message) error
}

// Turn is the outcome of one request as handed to the Persister.
type Turn struct {
	ConversationID string
	UserID         string
	// Messages are saved in order: normally the new user message followed by
	// the messages the orchestrator produced.
	Messages  []core.Message
	IsAborted bool
}

// Options configures a Persister.
type Options struct {
	Logger  logging.Logger
	Metrics *observability.Metrics
	// Memory, when set, records every durably saved message.
	Memory Rememberer
	Clock  func() time.Time
}

// Persister writes turns to a core.MessageStore.
type Persister struct {
	store core.MessageStore
	opts  Options
}

// NewPersister creates a Persister over store.
func NewPersister(store core.MessageStore, optFns ...func(o *Options)) *Persister {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Persister{store: store, opts: opts}
}

// SaveMessage upserts msg into an existing conversation. It never creates
// the conversation. Failures are returned as *core.PersistenceSoftFailure.
func (p *Persister) SaveMessage(ctx context.Context, conversationID string, msg core.Message) error {
	info, err := p.conversation(ctx, conversationID, msg.ID)
	if err != nil {
		return err
	}
	if _, err := p.save(ctx, info, msg); err != nil {
		return err
	}
	if err := p.store.TouchConversation(ctx, conversationID, p.opts.Clock()); err != nil {
		return p.softFailure(conversationID, msg.ID, ReasonStoreError, err)
	}
	return nil
}

// SaveTurn saves every message of turn and then refreshes the conversation
// timestamp. Aborted turns write nothing. Failed messages are skipped and
// reported together; the remaining messages are still saved.
func (p *Persister) SaveTurn(ctx context.Context, turn Turn) error {
	if turn.IsAborted {
		p.opts.Logger.Info("persistence.turn.skipped",
			"conversation_id", turn.ConversationID,
			"reason", "aborted",
			"messages", len(turn.Messages),
		)
		return nil
	}
	if len(turn.Messages) == 0 {
		return nil
	}

	info, err := p.conversation(ctx, turn.ConversationID, turn.Messages[0].ID)
	if err != nil {
		return err
	}
	if turn.UserID != "" && info.UserID != "" && info.UserID != turn.UserID {
		return p.softFailure(turn.ConversationID, turn.Messages[0].ID, ReasonOwnerMismatch, nil)
	}

	var errs []error
	saved := 0
	for _, msg := range turn.Messages {
		stored, err := p.save(ctx, info, msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
		p.remember(ctx, info, turn.UserID, stored)
	}

	if saved > 0 {
		if err := p.store.TouchConversation(ctx, turn.ConversationID, p.opts.Clock()); err != nil {
			errs = append(errs, p.softFailure(turn.ConversationID, "", ReasonStoreError, err))
		}
	}

	p.opts.Logger.Debug("persistence.turn.saved",
		"conversation_id", turn.ConversationID,
		"saved", saved,
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

func (p *Persister) conversation(ctx context.Context, conversationID, messageID string) (*core.ConversationInfo, error) {
	info, err := p.store.GetConversation(ctx, conversationID)
	if errors.Is(err, core.ErrConversationNotFound) {
		return nil, p.softFailure(conversationID, messageID, ReasonConversationNotFound, nil)
	}
	if err != nil {
		return nil, p.softFailure(conversationID, messageID, ReasonStoreError, err)
	}
	return info, nil
}

// save upserts one message and returns it as stored.
func (p *Persister) save(ctx context.Context, info *core.ConversationInfo, msg core.Message) (core.Message, error) {
	if msg.ID == "" {
		return core.Message{}, p.softFailure(info.ID, "", ReasonInvalidMessage, fmt.Errorf("message has no id"))
	}
	stored := msg.Clone()
	if id := StorageID(info.ID, msg.ID); id != msg.ID {
		stored.ID = id
		if err := stored.Metadata.Set("originalId", msg.ID); err != nil {
			return core.Message{}, p.softFailure(info.ID, msg.ID, ReasonInvalidMessage, err)
		}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = p.opts.Clock()
	}

	row := core.StoredMessage{
		ConversationID: info.ID,
		Message:        stored,
		Text:           stored.Text(),
		Summary:        Summarize(stored),
		UpdatedAt:      p.opts.Clock(),
	}
	if err := p.store.UpsertMessage(ctx, row); err != nil {
		return core.Message{}, p.softFailure(info.ID, msg.ID, ReasonStoreError, err)
	}
	return stored, nil
}

func (p *Persister) remember(ctx context.Context, info *core.ConversationInfo, userID string, msg core.Message) {
	if p.opts.Memory == nil {
		return
	}
	if userID == "" {
		userID = info.UserID
	}
	if err := p.opts.Memory.Remember(ctx, info.ID, userID, msg); err != nil {
		p.opts.Logger.Warn("persistence.memory.error",
			"conversation_id", info.ID,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (p *Persister) softFailure(conversationID, messageID, reason string, err error) error {
	p.opts.Metrics.RecordPersistenceSoftFailure(reason)
	p.opts.Logger.Warn("persistence.save.skipped",
		"conversation_id", conversationID,
		"message_id", messageID,
		"reason", reason,
		"error", err,
	)
	return &core.PersistenceSoftFailure{
		ConversationID: conversationID,
		MessageID:      messageID,
		Reason:         reason,
		Err:            err,
	}
}
