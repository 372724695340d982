// Package transcript enforces the tool-call/tool-result ordering invariant
// over message histories. Validate and Inspect check untrusted snapshots;
// Log builds new histories so that the invariant holds by construction.
package transcript

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// Violation codes.
const (
	CodeMixedToolParts      = "mixed-tool-parts"
	CodeAssistantToolResult = "assistant-tool-result"
	CodeMissingToolResults  = "missing-tool-results"
	CodeUnansweredToolCall  = "unanswered-tool-call"
	CodeOrphanToolResult    = "orphan-tool-result"
	CodeNonAdjacentResult   = "non-adjacent-tool-result"
	CodeDuplicateToolCallID = "duplicate-tool-call-id"
	CodeEmptyToolCallID     = "empty-tool-call-id"
	CodeInvalidRole         = "invalid-role"
	CodeIncompleteToolCall  = "incomplete-tool-call"
	CodeDuplicateToolResult = "duplicate-tool-result"
	CodeInvalidMetadata     = "invalid-metadata"
	CodeEmptyHistory        = "empty-history"
)

// PendingCall is a tool call that has not been answered yet.
type PendingCall struct {
	Index      int    `json:"index"`
	MessageID  string `json:"messageId"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// Report is the full result of inspecting a snapshot. Incomplete lists the
// calls of a trailing assistant message that has no following message yet;
// they are not violations.
type Report struct {
	Violations []core.Violation `json:"violations"`
	Incomplete []PendingCall    `json:"incomplete,omitempty"`
}

// Valid reports whether the snapshot has no violations.
func (r Report) Valid() bool { return len(r.Violations) == 0 }

// Validate returns the violations of msgs. An empty result means the history
// is valid. The input is never mutated.
func Validate(msgs []core.Message) []core.Violation {
	return Inspect(msgs).Violations
}

// Inspect walks msgs once and reports violations and incomplete calls.
func Inspect(msgs []core.Message) Report {
	var (
		report    Report
		seenCalls = map[string]int{}
		answered  = map[string]bool{}
		pending   []PendingCall
	)
	add := func(i int, code, format string, args ...any) {
		report.Violations = append(report.Violations, core.Violation{
			Index:     i,
			MessageID: msgs[i].ID,
			Code:      code,
			Detail:    fmt.Sprintf(format, args...),
		})
	}

	for i, m := range msgs {
		if !m.Role.Valid() {
			add(i, CodeInvalidRole, "role %q is not user or assistant", m.Role)
			pending = nil
			continue
		}
		if err := m.Metadata.Validate(); err != nil {
			add(i, CodeInvalidMetadata, "%v", err)
		}

		calls, results := m.ToolCalls(), m.ToolResults()

		switch m.Role {
		case core.RoleAssistant:
			if len(pending) > 0 {
				add(i, CodeMissingToolResults, "expected a user message with results for %d pending tool call(s) from message %d", len(pending), pending[0].Index)
				pending = nil
			}

			inline := map[string]bool{}
			if len(results) > 0 {
				if len(calls) > 0 {
					add(i, CodeMixedToolParts, "assistant message holds %d tool call(s) and %d tool result(s)", len(calls), len(results))
					for _, r := range results {
						inline[r.ToolCallID] = true
					}
				} else {
					add(i, CodeAssistantToolResult, "tool results belong in user messages")
				}
			}

			for _, c := range calls {
				if c.ToolCallID == "" {
					add(i, CodeEmptyToolCallID, "tool call %q has no id", c.ToolName)
					continue
				}
				if prev, dup := seenCalls[c.ToolCallID]; dup {
					add(i, CodeDuplicateToolCallID, "tool call id %q already used by message %d", c.ToolCallID, prev)
					continue
				}
				seenCalls[c.ToolCallID] = i
				if inline[c.ToolCallID] {
					continue
				}
				pending = append(pending, PendingCall{Index: i, MessageID: m.ID, ToolCallID: c.ToolCallID, ToolName: c.ToolName})
			}

		case core.RoleUser:
			if len(pending) == 0 {
				for _, r := range results {
					if at, ok := seenCalls[r.ToolCallID]; ok {
						add(i, CodeNonAdjacentResult, "result for %q is not adjacent to its call in message %d", r.ToolCallID, at)
					} else {
						add(i, CodeOrphanToolResult, "result for %q has no matching tool call", r.ToolCallID)
					}
				}
				continue
			}

			if len(results) == 0 {
				add(i, CodeMissingToolResults, "expected results for %d pending tool call(s) from message %d", len(pending), pending[0].Index)
				pending = nil
				continue
			}

			open := make(map[string]bool, len(pending))
			for _, p := range pending {
				open[p.ToolCallID] = true
			}
			for _, r := range results {
				switch {
				case open[r.ToolCallID]:
					if answered[r.ToolCallID] {
						add(i, CodeDuplicateToolResult, "tool call %q answered twice", r.ToolCallID)
					}
					answered[r.ToolCallID] = true
				case isKnown(seenCalls, r.ToolCallID):
					add(i, CodeNonAdjacentResult, "result for %q is not adjacent to its call", r.ToolCallID)
				default:
					add(i, CodeOrphanToolResult, "result for %q has no matching tool call", r.ToolCallID)
				}
			}
			for _, p := range pending {
				if !answered[p.ToolCallID] {
					add(p.Index, CodeUnansweredToolCall, "tool call %q (%s) has no result in message %d", p.ToolCallID, p.ToolName, i)
				}
			}
			pending = nil
		}
	}

	report.Incomplete = pending
	return report
}

func isKnown(seen map[string]int, id string) bool {
	_, ok := seen[id]
	return ok
}
