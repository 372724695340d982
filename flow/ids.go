package flow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/agentstream/core"
)

var callIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NewCallID returns a fresh tool-call id.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidCallID reports whether id may be used as a tool-call id as is.
func ValidCallID(id string) bool { return callIDPattern.MatchString(id) }

// normalizeCalls replaces missing, malformed or reused ids so every call of
// the turn is uniquely addressable. taken reports ids already present in
// the transcript.
func normalizeCalls(calls []core.ToolCallPart, taken func(string) bool, replaced func(from, to string)) []core.ToolCallPart {
	out := make([]core.ToolCallPart, len(calls))
	used := make(map[string]bool, len(calls))
	for i, c := range calls {
		if !ValidCallID(c.ToolCallID) || used[c.ToolCallID] || taken(c.ToolCallID) {
			id := NewCallID()
			if replaced != nil {
				replaced(c.ToolCallID, id)
			}
			c.ToolCallID = id
		}
		used[c.ToolCallID] = true
		if len(strings.TrimSpace(string(c.Args))) == 0 {
			c.Args = json.RawMessage(`{}`)
		}
		out[i] = c
	}
	return out
}
