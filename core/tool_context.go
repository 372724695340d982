package core

import (
	"context"

	"github.com/hupe1980/agentstream/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// by the step orchestrator. It exposes request identity and the call id but
// never the transcript itself.
type ToolContext struct {
	ctx            context.Context
	conversationID string
	userID         string
	toolCallID     string
	step           int

	*loggerAdapter
}

// NewToolContext constructs a tool context for one tool call.
func NewToolContext(ctx context.Context, conversationID, userID, toolCallID string, step int, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:            ctx,
		conversationID: conversationID,
		userID:         userID,
		toolCallID:     toolCallID,
		step:           step,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Context returns the context of the tool invocation. It is cancelled when
// the turn is aborted.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ConversationID returns the conversation the call belongs to.
func (tc *ToolContext) ConversationID() string { return tc.conversationID }

// UserID returns the verified user owning the conversation.
func (tc *ToolContext) UserID() string { return tc.userID }

// ToolCallID returns the id binding this call to its result.
func (tc *ToolContext) ToolCallID() string { return tc.toolCallID }

// Step returns the 1-based step that issued the call.
func (tc *ToolContext) Step() int { return tc.step }

// WithContext returns a copy of tc bound to ctx.
func (tc *ToolContext) WithContext(ctx context.Context) *ToolContext {
	c := *tc
	c.ctx = ctx
	return &c
}
