package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	msgs "github.com/hupe1980/agentstream/internal/testutil"
	"github.com/hupe1980/agentstream/observability"
)

type recordingMemory struct {
	stored []core.Message
	err    error
}

func (m *recordingMemory) Remember(_ context.Context, _, _ string, msg core.Message) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, msg)
	return nil
}

// failingUpserts wraps a store and fails upserts for the listed ids.
type failingUpserts struct {
	*InMemoryStore
	fail map[string]bool
}

func (f *failingUpserts) UpsertMessage(ctx context.Context, row core.StoredMessage) error {
	if f.fail[row.Message.ID] {
		return errors.New("write failed")
	}
	return f.InMemoryStore.UpsertMessage(ctx, row)
}

const convID = "8a4f9b2e-0a55-4a53-9f3c-2c8f3a1e7d10"

func newConversationStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	require.NoError(t, s.CreateConversation(context.Background(), core.ConversationInfo{
		ID:        convID,
		UserID:    "u1",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	return s
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPersister_SaveMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newConversationStore(t)
	p := NewPersister(store)

	id := uuid.NewString()
	require.NoError(t, p.SaveMessage(ctx, convID, msgs.NewMessageBuilder().ID(id).Assistant().Text("draft").Build()))
	require.NoError(t, p.SaveMessage(ctx, convID, msgs.NewMessageBuilder().ID(id).Assistant().Text("final").Build()))

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].Message.ID)
	assert.Equal(t, "final", rows[0].Text)
}

func TestPersister_SaveMessageDerivesTextAndSummary(t *testing.T) {
	ctx := context.Background()
	store := newConversationStore(t)
	touched := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := NewPersister(store, func(o *Options) { o.Clock = fixedClock(touched) })

	msg := msgs.NewMessageBuilder().ID(uuid.NewString()).Assistant().
		Reasoning("first think").
		Text("line one").
		ToolCall("c1", "searchWeb", `{"q":"go"}`).
		Reasoning("then think").
		ToolCall("c2", "reason", `{}`).
		ToolCall("c3", "searchWeb", `{"q":"rust"}`).
		Text("line two").
		Build()
	require.NoError(t, p.SaveMessage(ctx, convID, msg))

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "line one\nline two", rows[0].Text)
	assert.Equal(t, core.MessageSummary{ReasoningCount: 2, ToolNames: []string{"searchWeb", "reason"}, HasReasoning: true}, rows[0].Summary)
	assert.Equal(t, msg.Parts, rows[0].Message.Parts, "parts are stored verbatim")

	info, err := store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, touched, info.UpdatedAt)
}

func TestPersister_MissingConversationIsSoftFailure(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	mem := &recordingMemory{}
	p := NewPersister(store, func(o *Options) {
		o.Metrics = metrics
		o.Memory = mem
	})

	err := p.SaveMessage(ctx, "missing", msgs.User(uuid.NewString(), "hi"))
	var soft *core.PersistenceSoftFailure
	require.ErrorAs(t, err, &soft)
	assert.Equal(t, ReasonConversationNotFound, soft.Reason)

	err = p.SaveTurn(ctx, Turn{ConversationID: "missing", UserID: "u1", Messages: []core.Message{msgs.User("m1", "hi")}})
	require.ErrorAs(t, err, &soft)

	_, err = store.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrConversationNotFound, "conversations are never created by persistence")
	assert.Empty(t, mem.stored)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PersistenceSoftFailures.WithLabelValues(ReasonConversationNotFound)))
}

func TestPersister_AbortedTurnWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newConversationStore(t)
	mem := &recordingMemory{}
	p := NewPersister(store, func(o *Options) { o.Memory = mem })

	before, err := store.GetConversation(ctx, convID)
	require.NoError(t, err)

	err = p.SaveTurn(ctx, Turn{
		ConversationID: convID,
		UserID:         "u1",
		Messages: []core.Message{
			msgs.User("m1", "go"),
			msgs.AssistantCall("m2", "c1", "searchWeb"),
			msgs.UserResult("m3", "c1", "searchWeb", "found"),
		},
		IsAborted: true,
	})
	require.NoError(t, err)

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, mem.stored, "no memory record for an aborted turn")

	after, err := store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestPersister_SaveTurnRemembersAfterSave(t *testing.T) {
	ctx := context.Background()
	store := &failingUpserts{InMemoryStore: newConversationStore(t), fail: map[string]bool{}}
	mem := &recordingMemory{}
	p := NewPersister(store, func(o *Options) { o.Memory = mem })

	failing := StorageID(convID, "m2")
	store.fail[failing] = true

	err := p.SaveTurn(ctx, Turn{
		ConversationID: convID,
		UserID:         "u1",
		Messages: []core.Message{
			msgs.User("m1", "hello"),
			msgs.AssistantText("m2", "hi there"),
			msgs.User("m3", "bye"),
		},
	})
	var soft *core.PersistenceSoftFailure
	require.ErrorAs(t, err, &soft)
	assert.Equal(t, ReasonStoreError, soft.Reason)
	assert.Equal(t, "m2", soft.MessageID)

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, mem.stored, 2, "only durable rows are remembered")
	assert.Equal(t, rows[0].Message.ID, mem.stored[0].ID)
	assert.Equal(t, "bye", mem.stored[1].Text())
}

func TestPersister_MemoryErrorsDoNotFailTheTurn(t *testing.T) {
	ctx := context.Background()
	p := NewPersister(newConversationStore(t), func(o *Options) { o.Memory = &recordingMemory{err: errors.New("down")} })

	err := p.SaveTurn(ctx, Turn{ConversationID: convID, UserID: "u1", Messages: []core.Message{msgs.User("m1", "hi")}})
	assert.NoError(t, err)
}

func TestPersister_OwnerMismatch(t *testing.T) {
	ctx := context.Background()
	store := newConversationStore(t)
	p := NewPersister(store)

	err := p.SaveTurn(ctx, Turn{ConversationID: convID, UserID: "someone-else", Messages: []core.Message{msgs.User("m1", "hi")}})
	var soft *core.PersistenceSoftFailure
	require.ErrorAs(t, err, &soft)
	assert.Equal(t, ReasonOwnerMismatch, soft.Reason)

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPersister_NonUUIDIDsAreStable(t *testing.T) {
	ctx := context.Background()
	store := newConversationStore(t)
	p := NewPersister(store)

	require.NoError(t, p.SaveMessage(ctx, convID, msgs.User("msg-1", "one")))
	require.NoError(t, p.SaveMessage(ctx, convID, msgs.User("msg-1", "two")))

	rows, err := store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, err = uuid.Parse(rows[0].Message.ID)
	assert.NoError(t, err)
	assert.Equal(t, "msg-1", rows[0].Message.Metadata.Extra["originalId"])
	assert.Equal(t, "two", rows[0].Text)
}

func TestStorageID(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, id, StorageID("c", id))
	assert.Equal(t, id, StorageID("c", "{"+id+"}"), "uuid input is canonicalized")

	a := StorageID("c1", "m")
	assert.Equal(t, a, StorageID("c1", "m"))
	assert.NotEqual(t, a, StorageID("c2", "m"))
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestSummarize(t *testing.T) {
	s := Summarize(msgs.User("m", "plain"))
	assert.Equal(t, core.MessageSummary{ToolNames: []string{}}, s)
}
