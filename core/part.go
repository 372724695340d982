package core

import (
	"encoding/json"
	"fmt"
)

// PartType tags the concrete variant of a Part on the wire.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeControl    PartType = "control"
)

// Part represents a polymorphic segment of a message. Concrete part types
// implement the unexported isPart marker enabling a closed set.
type Part interface {
	isPart()
	Type() PartType
}

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// Type implements Part.
func (TextPart) Type() PartType { return PartTypeText }

// ReasoningPart carries model reasoning ("thinking") text. Signature is the
// provider's opaque integrity token, required to replay the block.
type ReasoningPart struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

func (ReasoningPart) isPart() {}

// Type implements Part.
func (ReasoningPart) Type() PartType { return PartTypeReasoning }

// ToolCallPart is a request by the model to invoke a named tool. ToolCallID
// binds the call to its eventual ToolResultPart.
type ToolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

func (ToolCallPart) isPart() {}

// Type implements Part.
func (ToolCallPart) Type() PartType { return PartTypeToolCall }

// ToolResultPart is the outcome of a tool call handed back to the model.
// Result holds any JSON-serializable value; IsError marks failure payloads.
type ToolResultPart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Result     any    `json:"result,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

func (ToolResultPart) isPart() {}

// Type implements Part.
func (ToolResultPart) Type() PartType { return PartTypeToolResult }

// ControlKind enumerates span markers.
type ControlKind string

const (
	ControlStepStart ControlKind = "step-start"
	ControlStepEnd   ControlKind = "step-end"
)

// ControlPart marks the start or end of a step span inside a message.
type ControlPart struct {
	Kind ControlKind `json:"kind"`
	Step int         `json:"step"`
}

func (ControlPart) isPart() {}

// Type implements Part.
func (ControlPart) Type() PartType { return PartTypeControl }

// partEnvelope is the tagged JSON form of a Part.
type partEnvelope struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     any             `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Kind       ControlKind     `json:"kind,omitempty"`
	Step       int             `json:"step,omitempty"`
}

// MarshalParts encodes parts as a JSON array of tagged objects.
func MarshalParts(parts []Part) ([]byte, error) {
	envs := make([]partEnvelope, 0, len(parts))
	for _, p := range parts {
		env := partEnvelope{Type: p.Type()}
		switch v := p.(type) {
		case TextPart:
			env.Text = v.Text
		case ReasoningPart:
			env.Text, env.Signature = v.Text, v.Signature
		case ToolCallPart:
			env.ToolCallID, env.ToolName, env.Args = v.ToolCallID, v.ToolName, v.Args
		case ToolResultPart:
			env.ToolCallID, env.ToolName, env.Result, env.IsError = v.ToolCallID, v.ToolName, v.Result, v.IsError
		case ControlPart:
			env.Kind, env.Step = v.Kind, v.Step
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// UnmarshalParts decodes the output of MarshalParts.
func UnmarshalParts(data []byte) ([]Part, error) {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	parts := make([]Part, 0, len(envs))
	for i, env := range envs {
		switch env.Type {
		case PartTypeText:
			parts = append(parts, TextPart{Text: env.Text})
		case PartTypeReasoning:
			parts = append(parts, ReasoningPart{Text: env.Text, Signature: env.Signature})
		case PartTypeToolCall:
			parts = append(parts, ToolCallPart{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Args: env.Args})
		case PartTypeToolResult:
			parts = append(parts, ToolResultPart{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Result: env.Result, IsError: env.IsError})
		case PartTypeControl:
			parts = append(parts, ControlPart{Kind: env.Kind, Step: env.Step})
		default:
			return nil, fmt.Errorf("part %d: unknown type %q", i, env.Type)
		}
	}
	return parts, nil
}
