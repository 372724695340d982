package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_JSONPreservesPartsVerbatim(t *testing.T) {
	msg := NewMessage(RoleAssistant,
		ControlPart{Kind: ControlStepStart, Step: 1},
		ReasoningPart{Text: "thinking"},
		TextPart{Text: "calling"},
		ToolCallPart{ToolCallID: "c1", ToolName: "searchWeb", Args: json.RawMessage(`{"query":"go"}`)},
		ControlPart{Kind: ControlStepEnd, Step: 1},
	)
	require.NoError(t, msg.Metadata.Set("source", "test"))

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Parts, decoded.Parts)
	assert.Equal(t, "test", decoded.Metadata.Extra["source"])
}

func TestMessage_UnmarshalRejectsUnknownRole(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"x","role":"tool","parts":[]}`), &m)
	assert.Error(t, err)
}

func TestUnmarshalParts_UnknownType(t *testing.T) {
	_, err := UnmarshalParts([]byte(`[{"type":"image"}]`))
	assert.ErrorContains(t, err, "unknown type")
}

func TestMessage_Helpers(t *testing.T) {
	msg := NewMessage(RoleUser,
		TextPart{Text: "a"},
		ToolResultPart{ToolCallID: "c1", ToolName: "t", Result: "ok"},
		TextPart{Text: "b"},
	)
	assert.Equal(t, "a\nb", msg.Text())
	assert.Len(t, msg.ToolResults(), 1)
	assert.Empty(t, msg.ToolCalls())
}

func TestMetadata_StampCreatedAtIsSingleAssignment(t *testing.T) {
	var md Metadata
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, md.StampCreatedAt(first))
	assert.False(t, md.StampCreatedAt(first.Add(time.Hour)))
	assert.Equal(t, first, *md.CreatedAt)
}

func TestMetadata_ReservedKeys(t *testing.T) {
	var md Metadata
	assert.Error(t, md.Set(MetaModel, "x"))

	md.Extra = map[string]any{MetaAborted: true}
	assert.Error(t, md.Validate())
}

func TestMetadata_JSONFlattensExtra(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	md := Metadata{CreatedAt: &ts, Model: "m", Step: 2, Extra: map[string]any{"k": "v"}}

	data, err := json.Marshal(md)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "v", flat["k"])
	assert.Equal(t, "m", flat[MetaModel])

	var back Metadata
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ts, back.CreatedAt.UTC())
	assert.Equal(t, 2, back.Step)
	assert.Equal(t, map[string]any{"k": "v"}, back.Extra)
}

func TestConversation_StampLastAssistantOnlyTouchesNewest(t *testing.T) {
	c := NewConversation("c", "u")
	c.Append(NewUserText("hi"), NewMessage(RoleAssistant, TextPart{Text: "hello"}))

	ok := c.StampLastAssistant(func(m *Metadata) { m.FinishReason = "stop" })
	assert.True(t, ok)
	assert.Equal(t, "stop", c.Messages[1].Metadata.FinishReason)

	c.Append(NewUserText("again"))
	assert.False(t, c.StampLastAssistant(func(m *Metadata) { m.FinishReason = "late" }))
	assert.Equal(t, "stop", c.Messages[1].Metadata.FinishReason)
}

func TestConversation_SnapshotIsCopy(t *testing.T) {
	c := NewConversation("c", "u")
	c.Append(NewUserText("hi"))
	snap := c.Snapshot()
	snap[0].Parts[0] = TextPart{Text: "changed"}
	assert.Equal(t, "hi", c.Messages[0].Text())
}

func TestStepBudget(t *testing.T) {
	b := NewStepBudget(0)
	assert.Equal(t, DefaultMaxSteps, b.Max())

	b = NewStepBudget(2)
	n, err := b.Consume()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Consume()
	require.NoError(t, err)
	_, err = b.Consume()
	assert.Error(t, err)
	assert.Equal(t, 0, b.Remaining())
}

func TestStreamStats_Observe(t *testing.T) {
	var s StreamStats
	s.Observe(Event{Type: EventTextDelta, Delta: "a"})
	s.Observe(Event{Type: EventTextDelta, Delta: "b"})
	s.Observe(Event{Type: EventToolCall})
	s.Observe(Event{Type: EventStepStart})
	assert.Equal(t, StreamStats{PartsEmitted: 3, TextParts: 2, LastFragment: "b"}, s)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(fmt.Errorf("wrapped: %w", &TransportError{Op: "model", Err: errors.New("eof")})))
	assert.True(t, IsTerminal(&ConfigurationError{Setting: "x", Message: "missing"}))
	assert.False(t, IsTerminal(&PersistenceSoftFailure{Reason: "missing conversation"}))
	assert.False(t, IsTerminal(&PaymentRequired{Cost: "0.001", Currency: "USDC"}))
}

func TestEvent_FinalAssistant(t *testing.T) {
	ev := NewEvent("t", EventFinish, 1)
	ev.Messages = []Message{NewMessage(RoleAssistant, TextPart{Text: "a"}), NewUserText("r"), NewMessage(RoleAssistant, TextPart{Text: "b"})}
	m, ok := ev.FinalAssistant()
	require.True(t, ok)
	assert.Equal(t, "b", m.Text())
	assert.True(t, ev.IsTerminal())
}
