package transcript

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	tu "github.com/hupe1980/agentstream/internal/testutil"
)

func codes(vs []core.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Code
	}
	return out
}

func TestValidate_ValidHistories(t *testing.T) {
	tests := []struct {
		name string
		msgs []core.Message
	}{
		{"empty", nil},
		{"text only", []core.Message{tu.User("u1", "hi"), tu.AssistantText("a1", "hello")}},
		{"single call", []core.Message{
			tu.User("u1", "search go"),
			tu.AssistantCall("a1", "c1", "searchWeb"),
			tu.UserResult("u2", "c1", "searchWeb", "results"),
			tu.AssistantText("a2", "done"),
		}},
		{"parallel calls", []core.Message{
			tu.User("u1", "two things"),
			tu.NewMessageBuilder().ID("a1").Assistant().ToolCall("c1", "a", "").ToolCall("c2", "b", "").Build(),
			tu.NewMessageBuilder().ID("u2").ToolResult("c2", "b", 2).ToolResult("c1", "a", 1).Build(),
		}},
		{"consecutive user messages", []core.Message{tu.User("u1", "a"), tu.User("u2", "b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Validate(tt.msgs))
		})
	}
}

func TestValidate_MixedAssistantMessageYieldsExactlyOneViolation(t *testing.T) {
	mixed := tu.NewMessageBuilder().ID("a1").Assistant().
		ToolCall("c1", "searchWeb", `{}`).
		ToolResult("c1", "searchWeb", "r").
		Build()

	histories := [][]core.Message{
		{tu.User("u1", "hi"), mixed},
		{tu.User("u1", "hi"), mixed, tu.AssistantText("a2", "next")},
		{tu.User("u1", "hi"), mixed, tu.User("u2", "more")},
	}
	for _, h := range histories {
		vs := Validate(h)
		require.Len(t, vs, 1)
		assert.Equal(t, CodeMixedToolParts, vs[0].Code)
		assert.Equal(t, "a1", vs[0].MessageID)
		assert.Equal(t, 1, vs[0].Index)
	}
}

func TestValidate_AssistantResultWithoutCall(t *testing.T) {
	vs := Validate([]core.Message{
		tu.User("u1", "hi"),
		tu.NewMessageBuilder().ID("a1").Assistant().ToolResult("c1", "x", nil).Build(),
	})
	assert.Equal(t, []string{CodeAssistantToolResult}, codes(vs))
}

func TestValidate_CallNotFollowedByResults(t *testing.T) {
	vs := Validate([]core.Message{
		tu.User("u1", "hi"),
		tu.AssistantCall("a1", "c1", "searchWeb"),
		tu.User("u2", "where are my results"),
	})
	require.Len(t, vs, 1)
	assert.Equal(t, CodeMissingToolResults, vs[0].Code)
	assert.Equal(t, "u2", vs[0].MessageID)

	vs = Validate([]core.Message{
		tu.AssistantCall("a1", "c1", "searchWeb"),
		tu.AssistantText("a2", "oops"),
	})
	assert.Equal(t, []string{CodeMissingToolResults}, codes(vs))
}

func TestValidate_UnmatchedIDs(t *testing.T) {
	vs := Validate([]core.Message{
		tu.AssistantCall("a1", "c1", "t"),
		tu.UserResult("u1", "zzz", "t", nil),
	})
	assert.ElementsMatch(t, []string{CodeOrphanToolResult, CodeUnansweredToolCall}, codes(vs))

	vs = Validate([]core.Message{
		tu.UserResult("u1", "c9", "t", nil),
	})
	assert.Equal(t, []string{CodeOrphanToolResult}, codes(vs))
}

func TestValidate_NonAdjacentResult(t *testing.T) {
	vs := Validate([]core.Message{
		tu.AssistantCall("a1", "c1", "t"),
		tu.UserResult("u1", "c1", "t", "ok"),
		tu.User("u2", "later"),
		tu.UserResult("u3", "c1", "t", "again"),
	})
	assert.Equal(t, []string{CodeNonAdjacentResult}, codes(vs))
	assert.Equal(t, 3, vs[0].Index)
}

func TestValidate_DuplicateCallID(t *testing.T) {
	vs := Validate([]core.Message{
		tu.AssistantCall("a1", "c1", "t"),
		tu.UserResult("u1", "c1", "t", "ok"),
		tu.AssistantCall("a2", "c1", "t"),
		tu.UserResult("u2", "c1", "t", "ok"),
	})
	assert.Contains(t, codes(vs), CodeDuplicateToolCallID)
}

func TestInspect_TrailingCallsAreIncompleteNotInvalid(t *testing.T) {
	r := Inspect([]core.Message{
		tu.User("u1", "hi"),
		tu.AssistantCall("a1", "c1", "searchWeb"),
	})
	assert.True(t, r.Valid())
	require.Len(t, r.Incomplete, 1)
	assert.Equal(t, "c1", r.Incomplete[0].ToolCallID)
	assert.Equal(t, "a1", r.Incomplete[0].MessageID)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	msgs := []core.Message{tu.AssistantCall("a1", "c1", "t"), tu.UserResult("u1", "c1", "t", "ok")}
	before := make([]core.Message, len(msgs))
	copy(before, msgs)
	_ = Validate(msgs)
	assert.Equal(t, before, msgs)
}

func TestLog_RefusesBrokenTransitions(t *testing.T) {
	l, err := NewLog([]core.Message{tu.User("u1", "hi")})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, l.State())

	require.NoError(t, l.Append(tu.AssistantCall("a1", "c1", "t")))
	assert.Equal(t, StateAwaitingResults, l.State())
	assert.True(t, l.HasCallID("c1"))

	err = l.Append(tu.AssistantText("a2", "skip"))
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeMissingToolResults, ve.Violations[0].Code)

	err = l.Append(tu.UserResult("u2", "other", "t", nil))
	require.Error(t, err)

	require.NoError(t, l.Append(tu.UserResult("u2", "c1", "t", "ok")))
	assert.Equal(t, StateIdle, l.State())

	err = l.Append(tu.AssistantCall("a3", "c1", "t"))
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeDuplicateToolCallID, ve.Violations[0].Code)

	assert.Empty(t, Validate(l.Messages()))
}

func TestLog_RequiresAllPendingCallsAnswered(t *testing.T) {
	l, err := NewLog(nil)
	require.NoError(t, err)
	require.NoError(t, l.Append(tu.NewMessageBuilder().Assistant().ToolCall("c1", "a", "").ToolCall("c2", "b", "").Build()))

	err = l.Append(tu.UserResult("u1", "c1", "a", 1))
	require.Error(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestNewLog_RejectsInvalidHistory(t *testing.T) {
	_, err := NewLog([]core.Message{tu.NewMessageBuilder().Assistant().ToolResult("c1", "t", nil).Build()})
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestLog_StampLastAssistant(t *testing.T) {
	l, err := NewLog([]core.Message{tu.User("u1", "hi"), tu.AssistantText("a1", "hello")})
	require.NoError(t, err)

	assert.True(t, l.StampLastAssistant(func(md *core.Metadata) { md.FinishReason = "stop" }))
	assert.Equal(t, "stop", l.Messages()[1].Metadata.FinishReason)
	assert.Empty(t, l.Messages()[0].Metadata.FinishReason)

	require.NoError(t, l.Append(tu.User("u2", "thanks")))
	assert.False(t, l.StampLastAssistant(func(md *core.Metadata) { md.FinishReason = "late" }))
	assert.Equal(t, "stop", l.Messages()[1].Metadata.FinishReason)
}

func TestLog_SnapshotDoesNotAlias(t *testing.T) {
	l, err := NewLog([]core.Message{tu.User("u1", "hi")})
	require.NoError(t, err)

	snap := l.Snapshot()
	snap[0].Parts[0] = core.TextPart{Text: "changed"}
	assert.Equal(t, "hi", l.Messages()[0].Text())
}
