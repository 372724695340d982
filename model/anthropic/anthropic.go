// Package anthropic provides a model wrapper for the Anthropic Messages API
// with streaming, extended thinking and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// Options configures the Anthropic model adapter. Extend via functional
// options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	// ThinkingBudget enables extended thinking when > 0. Temperature is not
	// sent while thinking is enabled.
	ThinkingBudget int64
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model. In streaming mode text and thinking deltas
// are forwarded as they arrive; tool calls are delivered with the final
// response once their input JSON is complete.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		if !req.Stream {
			resp, err := m.client.Messages.New(ctx, params)
			if err != nil {
				errCh <- fmt.Errorf("anthropic api error: %w", err)
				return
			}
			out <- finalResponse(resp)
			return
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		acc := anthropic.Message{}
		for stream.Next() {
			ev := stream.Current()
			if err := acc.Accumulate(ev); err != nil {
				errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
				return
			}
			if ev.Type != "content_block_delta" {
				continue
			}
			var chunk model.Response
			switch ev.Delta.Type {
			case "text_delta":
				chunk = model.Response{Partial: true, TextDelta: ev.Delta.Text}
			case "thinking_delta":
				chunk = model.Response{Partial: true, ReasoningDelta: ev.Delta.Thinking}
			default:
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
			return
		}
		out <- finalResponse(&acc)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  buildMessages(req.Messages),
		MaxTokens: m.opts.MaxTokens,
	}
	if m.opts.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(m.opts.ThinkingBudget)
	} else {
		temp := m.opts.Temperature
		if req.Temperature != nil {
			temp = *req.Temperature
		}
		params.Temperature = anthropic.Float(temp)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// finalResponse converts a complete message into the final model.Response.
func finalResponse(msg *anthropic.Message) model.Response {
	var parts []core.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, core.TextPart{Text: block.Text})
			}
		case "thinking":
			parts = append(parts, core.ReasoningPart{Text: block.Thinking, Signature: block.Signature})
		case "tool_use":
			args := append(json.RawMessage(nil), block.Input...)
			parts = append(parts, core.ToolCallPart{ToolCallID: block.ID, ToolName: block.Name, Args: args})
		}
	}

	finish := "stop"
	if msg.StopReason != "" {
		finish = string(msg.StopReason)
	}

	return model.Response{
		Parts:        parts,
		FinishReason: finish,
		Usage:        &core.Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}
}

// buildMessages converts core messages into Anthropic message params. Tool
// results travel inside user messages, matching the transcript invariant.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case core.ReasoningPart:
				// unsigned thinking cannot be replayed
				if msg.Role == core.RoleAssistant && part.Signature != "" {
					blocks = append(blocks, anthropic.NewThinkingBlock(part.Signature, part.Text))
				}
			case core.ToolCallPart:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, model.ArgsObject(part.Args), part.ToolName))
			case core.ToolResultPart:
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, model.ResultText(part.Result), part.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == core.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// buildTools converts tool definitions to the Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"]; ok {
				schema.Properties = props
			}
			schema.Required = requiredFields(t.Parameters["required"])
		}
		tp := anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tp.Description = anthropic.String(t.Description)
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &tp}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}
