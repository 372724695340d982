package model

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentstream/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the orchestrator.
type Request struct {
	System      string           `json:"system,omitempty"`
	Messages    []core.Message   `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Response is a partial or final chunk emitted by a model.
//
// Partial chunks carry TextDelta or ReasoningDelta. The single final chunk
// (Partial == false) carries the complete Parts of the step, including tool
// calls, plus FinishReason and Usage.
type Response struct {
	Partial        bool        `json:"partial"`
	TextDelta      string      `json:"textDelta,omitempty"`
	ReasoningDelta string      `json:"reasoningDelta,omitempty"`
	Parts          []core.Part `json:"-"`
	FinishReason   string      `json:"finishReason,omitempty"`
	Usage          *core.Usage `json:"usage,omitempty"`
}

// ToolCalls returns the tool-call parts of a final response.
func (r Response) ToolCalls() []core.ToolCallPart {
	var out []core.ToolCallPart
	for _, p := range r.Parts {
		if tc, ok := p.(core.ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the orchestrator to drive
// generation. Both channels are closed when generation ends; at most one
// error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ResultText renders a tool result payload as the string form providers
// expect for tool-result content.
func ResultText(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case json.RawMessage:
		return string(r)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// ArgsObject decodes raw tool-call arguments for providers that want a
// structured input. Empty or invalid input yields an empty object.
func ArgsObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
