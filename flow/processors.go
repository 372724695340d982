package flow

import (
	"strings"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// Markers delimiting injected historical context.
const (
	HistoricalContextOpen  = "<historical_context>"
	HistoricalContextClose = "</historical_context>"
)

// RequestProcessor prepares the model request before each step. Processors
// see the transcript already placed in req.Messages.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the model request before invocation.
	ProcessRequest(in *Request, req *model.Request) error
}

// DefaultProcessors returns the processors applied when none are configured.
func DefaultProcessors() []RequestProcessor {
	return []RequestProcessor{NewInstructionsProcessor(), NewHistoricalContextProcessor()}
}

// InstructionsProcessor copies the system prompt and sampling settings.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets the system prompt and temperature.
func (p *InstructionsProcessor) ProcessRequest(in *Request, req *model.Request) error {
	req.System = in.System
	req.Temperature = in.Temperature
	return nil
}

// HistoricalContextProcessor injects retrieved context as a synthetic leading
// user message so the model does not mistake it for a user utterance. The
// message is part of the model request only, never of the turn.
type HistoricalContextProcessor struct{}

// NewHistoricalContextProcessor creates a new historical context processor.
func NewHistoricalContextProcessor() *HistoricalContextProcessor {
	return &HistoricalContextProcessor{}
}

// Name returns the processor's identifier.
func (p *HistoricalContextProcessor) Name() string { return "historical-context" }

// ProcessRequest prepends the delimited context block.
func (p *HistoricalContextProcessor) ProcessRequest(in *Request, req *model.Request) error {
	text := strings.TrimSpace(in.HistoricalContext)
	if text == "" {
		return nil
	}
	injected := core.NewUserText(WrapHistoricalContext(text))
	req.Messages = append([]core.Message{injected}, req.Messages...)
	return nil
}

// WrapHistoricalContext delimits text with the historical context markers.
func WrapHistoricalContext(text string) string {
	return HistoricalContextOpen + "\n" + text + "\n" + HistoricalContextClose
}
