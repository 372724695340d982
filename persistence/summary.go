package persistence

import (
	"github.com/google/uuid"

	"github.com/hupe1980/agentstream/core"
)

// messageNamespace scopes the UUIDv5 ids derived for non-UUID message ids.
var messageNamespace = uuid.MustParse("6f1c7b4e-2d0a-5c1e-9b7f-3a8e4d2c1b0a")

// StorageID returns the row key for a message id. UUIDs are kept (in
// canonical form); anything else maps to a deterministic UUIDv5 of the
// conversation and message id so repeated saves hit the same row.
func StorageID(conversationID, messageID string) string {
	if id, err := uuid.Parse(messageID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(messageNamespace, []byte(conversationID+"/"+messageID)).String()
}

// Summarize derives the reasoning and tool digest of msg.
func Summarize(msg core.Message) core.MessageSummary {
	s := core.MessageSummary{ToolNames: []string{}}
	seen := map[string]struct{}{}
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case core.ReasoningPart:
			s.ReasoningCount++
		case core.ToolCallPart:
			if _, ok := seen[v.ToolName]; !ok {
				seen[v.ToolName] = struct{}{}
				s.ToolNames = append(s.ToolNames, v.ToolName)
			}
		}
	}
	s.HasReasoning = s.ReasoningCount > 0
	return s
}
