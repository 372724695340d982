package core

import "time"

// EventType enumerates the typed records of an orchestrator stream.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventStepStart      EventType = "step-start"
	EventStepFinish     EventType = "step-finish"

	// Terminal events. Exactly one ends every stream.
	EventFinish    EventType = "finish"
	EventStepLimit EventType = "step-limit"
	EventStuck     EventType = "stuck"
	EventError     EventType = "error"
	EventAbort     EventType = "abort"
)

// IsTerminal reports whether the event type ends a stream.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventFinish, EventStepLimit, EventStuck, EventError, EventAbort:
		return true
	}
	return false
}

// Usage reports token accounting for a step or a whole turn.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Event is one record in an orchestrator stream. After emission it should be
// treated as immutable. Fields are populated according to Type:
//   - text-delta / reasoning-delta: Delta
//   - tool-call: ToolCall
//   - tool-result: ToolResult
//   - step-start / step-finish: Step (and Usage on step-finish)
//   - terminal events: Messages holds the new messages of the turn, Error is
//     set for error/stuck, Stats and Usage summarize the turn
type Event struct {
	Type       EventType       `json:"type"`
	TurnID     string          `json:"turnId"`
	Step       int             `json:"step"`
	Delta      string          `json:"delta,omitempty"`
	ToolCall   *ToolCallPart   `json:"toolCall,omitempty"`
	ToolResult *ToolResultPart `json:"toolResult,omitempty"`
	Messages   []Message       `json:"messages,omitempty"`
	Error      string          `json:"error,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	Stats      *StreamStats    `json:"stats,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEvent creates a bare event of the given type.
func NewEvent(turnID string, t EventType, step int) Event {
	return Event{Type: t, TurnID: turnID, Step: step, Timestamp: time.Now().UTC()}
}

// IsTerminal reports whether e ends its stream.
func (e Event) IsTerminal() bool { return e.Type.IsTerminal() }

// FinalAssistant returns the last assistant message carried by a terminal
// event.
func (e Event) FinalAssistant() (Message, bool) {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleAssistant {
			return e.Messages[i], true
		}
	}
	return Message{}, false
}
