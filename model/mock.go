package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// ScriptStep is one scripted model invocation.
type ScriptStep struct {
	Parts        []core.Part
	FinishReason string
	Usage        core.Usage
	// Delay is waited before the final response; cancellation is honored.
	Delay time.Duration
	// Err is sent after the partial deltas of Parts have been streamed.
	Err error
}

// Text is shorthand for a text-only scripted step.
func Text(s string) ScriptStep {
	return ScriptStep{Parts: []core.Part{core.TextPart{Text: s}}, FinishReason: "stop"}
}

// Calls is shorthand for a scripted step emitting tool calls.
func Calls(calls ...core.ToolCallPart) ScriptStep {
	parts := make([]core.Part, len(calls))
	for i, c := range calls {
		parts[i] = c
	}
	return ScriptStep{Parts: parts, FinishReason: "tool_calls"}
}

// MockModel is a deterministic in-memory Model for tests and examples.
// Invocations consume the script in order; Responder, when set, takes
// precedence; otherwise canned prompt responses or an echo are returned.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	script    []ScriptStep
	requests  []Request

	// Responder computes the step for invocation n (0-based).
	Responder func(n int, req Request) ScriptStep
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, SupportsTools: true},
		responses: map[string]string{},
	}
}

// AddResponse registers a canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted steps.
func (m *MockModel) Enqueue(steps ...ScriptStep) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) ScriptStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	if m.Responder != nil {
		return m.Responder(n, req)
	}
	if len(m.script) > 0 {
		s := m.script[0]
		m.script = m.script[1:]
		return s
	}
	var prompt string
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Text()
	}
	full := m.responses[prompt]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", prompt)
	}
	return Text(full)
}

// Generate implements Model. Text parts are streamed word by word, reasoning
// parts as a single delta.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)
	step := m.next(req)

	go func() {
		defer close(out)
		defer close(errCh)

		send := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case out <- r:
				return true
			}
		}

		for _, p := range step.Parts {
			switch v := p.(type) {
			case core.ReasoningPart:
				if !send(Response{Partial: true, ReasoningDelta: v.Text}) {
					return
				}
			case core.TextPart:
				for _, chunk := range splitKeep(v.Text) {
					if !send(Response{Partial: true, TextDelta: chunk}) {
						return
					}
				}
			}
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(step.Delay):
			}
		}

		usage := step.Usage
		send(Response{Parts: step.Parts, FinishReason: step.FinishReason, Usage: &usage})
	}()
	return out, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// splitKeep splits s into words keeping the separating spaces attached, so
// the chunks concatenate back to s.
func splitKeep(s string) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			chunks = append(chunks, s)
			break
		}
		chunks = append(chunks, s[:i+1])
		s = s[i+1:]
	}
	return chunks
}
