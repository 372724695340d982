package transcript

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// State is the phase of a Log with respect to outstanding tool calls.
type State int

const (
	// StateIdle means no tool call is waiting for a result.
	StateIdle State = iota
	// StateAwaitingResults means the last message is an assistant message
	// with tool calls; only a user message answering all of them may follow.
	StateAwaitingResults
)

func (s State) String() string {
	if s == StateAwaitingResults {
		return "awaiting-results"
	}
	return "idle"
}

// Log is an append-only message sequence that refuses any message breaking
// the tool-call/tool-result ordering invariant. Every history built through
// a Log validates with zero violations, except that it may end in
// StateAwaitingResults (incomplete). A Log is owned by one goroutine.
type Log struct {
	conv    *core.Conversation
	state   State
	pending []core.ToolCallPart
	seen    map[string]struct{}
}

// NewLog replays history into a fresh Log. It fails with a
// *core.ValidationError if history is not valid.
func NewLog(history []core.Message) (*Log, error) {
	if vs := Validate(history); len(vs) > 0 {
		return nil, &core.ValidationError{Violations: vs}
	}
	l := &Log{conv: &core.Conversation{}, seen: map[string]struct{}{}}
	for _, m := range history {
		if err := l.Append(m); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// State returns the current phase.
func (l *Log) State() State { return l.state }

// Pending returns the unanswered calls while awaiting results.
func (l *Log) Pending() []core.ToolCallPart {
	return append([]core.ToolCallPart(nil), l.pending...)
}

// Len returns the number of messages.
func (l *Log) Len() int { return len(l.conv.Messages) }

// Messages returns a copy of the message sequence.
func (l *Log) Messages() []core.Message {
	return append([]core.Message(nil), l.conv.Messages...)
}

// Since returns a copy of the messages appended at or after index i.
func (l *Log) Since(i int) []core.Message {
	if i >= len(l.conv.Messages) {
		return nil
	}
	return append([]core.Message(nil), l.conv.Messages[i:]...)
}

// Snapshot returns deep copies of the messages.
func (l *Log) Snapshot() []core.Message { return l.conv.Snapshot() }

// StampLastAssistant applies fn to the metadata of the newest message when it
// is an assistant message. Earlier messages are never touched.
func (l *Log) StampLastAssistant(fn func(*core.Metadata)) bool {
	return l.conv.StampLastAssistant(fn)
}

// HasCallID reports whether id is already used by a tool call in the log.
func (l *Log) HasCallID(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// Append adds msg if the transition is legal. The returned error is a
// *core.ValidationError describing the refused transition.
func (l *Log) Append(msg core.Message) error {
	if err := l.check(msg); err != nil {
		return &core.ValidationError{Violations: []core.Violation{{
			Index:     len(l.conv.Messages),
			MessageID: msg.ID,
			Code:      err.code,
			Detail:    err.detail,
		}}}
	}

	l.conv.Append(msg)
	switch msg.Role {
	case core.RoleAssistant:
		calls := msg.ToolCalls()
		for _, c := range calls {
			l.seen[c.ToolCallID] = struct{}{}
		}
		if len(calls) > 0 {
			l.state, l.pending = StateAwaitingResults, calls
		}
	case core.RoleUser:
		l.state, l.pending = StateIdle, nil
	}
	return nil
}

type refusal struct {
	code, detail string
}

func refuse(code, format string, args ...any) *refusal {
	return &refusal{code: code, detail: fmt.Sprintf(format, args...)}
}

func (l *Log) check(msg core.Message) *refusal {
	if !msg.Role.Valid() {
		return refuse(CodeInvalidRole, "role %q is not user or assistant", msg.Role)
	}
	if err := msg.Metadata.Validate(); err != nil {
		return refuse(CodeInvalidMetadata, "%v", err)
	}
	calls, results := msg.ToolCalls(), msg.ToolResults()

	if l.state == StateAwaitingResults {
		if msg.Role != core.RoleUser || len(results) == 0 {
			return refuse(CodeMissingToolResults, "%d tool call(s) await results", len(l.pending))
		}
		open := make(map[string]bool, len(l.pending))
		for _, p := range l.pending {
			open[p.ToolCallID] = true
		}
		for _, r := range results {
			if !open[r.ToolCallID] {
				return refuse(CodeOrphanToolResult, "result for %q does not match a pending call", r.ToolCallID)
			}
			delete(open, r.ToolCallID)
		}
		for _, p := range l.pending {
			if open[p.ToolCallID] {
				return refuse(CodeUnansweredToolCall, "tool call %q (%s) has no result", p.ToolCallID, p.ToolName)
			}
		}
		return nil
	}

	switch msg.Role {
	case core.RoleAssistant:
		if len(results) > 0 && len(calls) > 0 {
			return refuse(CodeMixedToolParts, "assistant message holds tool calls and tool results")
		}
		if len(results) > 0 {
			return refuse(CodeAssistantToolResult, "tool results belong in user messages")
		}
		ids := map[string]struct{}{}
		for _, c := range calls {
			if c.ToolCallID == "" {
				return refuse(CodeEmptyToolCallID, "tool call %q has no id", c.ToolName)
			}
			_, inMsg := ids[c.ToolCallID]
			if inMsg || l.HasCallID(c.ToolCallID) {
				return refuse(CodeDuplicateToolCallID, "tool call id %q already used", c.ToolCallID)
			}
			ids[c.ToolCallID] = struct{}{}
		}
	case core.RoleUser:
		if len(results) > 0 {
			return refuse(CodeOrphanToolResult, "tool results without preceding tool calls")
		}
	}
	return nil
}
