package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/tool"
	"github.com/hupe1980/agentstream/transcript"
)

var errNoFinalResponse = errors.New("model stream ended without a final response")

// turn is the state of one running stream. It is owned by the goroutine
// started in Run and is never shared.
type turn struct {
	o      *Orchestrator
	req    Request
	log    *transcript.Log
	start  int
	budget *core.StepBudget
	tools  []model.ToolDefinition
	logger logging.Logger

	events    chan<- core.Event
	stats     core.StreamStats
	usage     core.Usage
	firstText *time.Time
	stamped   bool
}

func (t *turn) run(ctx context.Context, events chan<- core.Event) {
	t.events = events
	begin := t.o.opts.Clock()
	metrics := t.o.opts.Metrics

	metrics.StreamStarted()
	defer metrics.StreamEnded()

	ctx, span := t.o.opts.Tracer.Start(ctx, "flow.run", trace.WithAttributes(
		observability.ConversationAttributes(t.req.ConversationID, t.req.UserID, t.req.TurnID)...,
	))
	defer span.End()

	t.logger.Info("flow.turn.start",
		"history", t.log.Len(),
		"max_steps", t.budget.Max(),
		"tools", len(t.tools),
	)

	terminal := t.loop(ctx)
	terminal.Messages = t.log.Since(t.start)
	stats, usage := t.stats, t.usage
	terminal.Stats = &stats
	terminal.Usage = &usage

	span.SetAttributes(
		attribute.String("flow.terminal", string(terminal.Type)),
		attribute.Int("flow.steps", t.budget.Used()),
	)
	if terminal.Type == core.EventError || terminal.Type == core.EventStuck {
		observability.RecordError(span, errors.New(terminal.Error))
	}
	metrics.RecordTerminal(terminal.Type)

	logging.LogTurn(t.logger, string(terminal.Type), t.budget.Used(), t.o.opts.Clock().Sub(begin))
	t.emit(terminal)
}

// loop runs steps until one of them yields a terminal event.
func (t *turn) loop(ctx context.Context) core.Event {
	for {
		if err := ctx.Err(); err != nil {
			return *t.abort(err)
		}
		step, err := t.budget.Consume()
		if err != nil {
			t.logger.Warn("flow.step.limit", "max_steps", t.budget.Max())
			ev := t.event(core.EventStepLimit, step)
			ev.Error = err.Error()
			return ev
		}
		if terminal := t.step(ctx, step); terminal != nil {
			return *terminal
		}
	}
}

// step performs one model invocation plus the tool dispatches it triggers.
// A nil return continues the loop.
func (t *turn) step(ctx context.Context, step int) *core.Event {
	stepCtx, span := t.o.opts.Tracer.Start(ctx, "flow.step", trace.WithAttributes(attribute.Int("flow.step", step)))
	defer span.End()

	t.o.opts.Metrics.RecordStep()
	t.logger.Debug("flow.step.start", "step", step)
	t.emit(t.event(core.EventStepStart, step))

	mreq := model.Request{Messages: t.log.Snapshot(), Tools: t.tools, Stream: t.o.opts.Stream}
	for _, p := range t.o.opts.Processors {
		if err := p.ProcessRequest(&t.req, &mreq); err != nil {
			return t.fail(step, fmt.Errorf("request processor %s failed: %w", p.Name(), err))
		}
	}

	final, err := t.invoke(stepCtx, step, mreq)
	if err != nil {
		if ctx.Err() != nil {
			return t.abort(ctx.Err())
		}
		observability.RecordError(span, err)
		return t.fail(step, &core.TransportError{Op: "model.generate", Err: err})
	}
	if final.Usage != nil {
		t.usage.Add(*final.Usage)
	}

	assistant, calls := t.assistantMessage(step, final)
	if err := t.log.Append(assistant); err != nil {
		return t.fail(step, err)
	}
	// the first assistant text of the turn carries the time its first
	// fragment streamed
	if !t.stamped && t.firstText != nil && assistant.Text() != "" {
		t.log.StampLastAssistant(func(md *core.Metadata) {
			t.stamped = md.StampCreatedAt(*t.firstText)
		})
	}
	for i := range calls {
		ev := t.event(core.EventToolCall, step)
		ev.ToolCall = &calls[i]
		t.emit(ev)
	}

	if len(calls) == 0 {
		t.finishStep(step, final.Usage)
		ev := t.event(core.EventFinish, step)
		return &ev
	}

	// the model call settled; do not dispatch on behalf of a cancelled caller
	if err := ctx.Err(); err != nil {
		return t.abort(err)
	}

	results := t.o.executor.ExecuteBatch(stepCtx, tool.Scope{
		ConversationID: t.req.ConversationID,
		UserID:         t.req.UserID,
		Step:           step,
		Tools:          t.toolNames(),
	}, calls)

	resolved := 0
	parts := make([]core.Part, len(results))
	for i, res := range results {
		t.o.opts.Metrics.RecordToolCall(res.ToolName, res.Status(), res.Duration)
		if res.Code != tool.CodeNotFound {
			resolved++
		}
		var callErr error
		if res.Status() == "error" {
			callErr = fmt.Errorf("%s: %s", res.Code, res.Error)
		}
		logging.LogToolCall(t.logger, res.ToolName, res.ToolCallID, res.Duration, res.Status(), callErr)
		parts[i] = res.Part()
	}

	answer := core.NewMessage(core.RoleUser, parts...)
	answer.CreatedAt = t.o.opts.Clock().UTC()
	if err := t.log.Append(answer); err != nil {
		return t.fail(step, err)
	}
	for i := range parts {
		rp := parts[i].(core.ToolResultPart)
		ev := t.event(core.EventToolResult, step)
		ev.ToolResult = &rp
		t.emit(ev)
	}
	t.finishStep(step, final.Usage)

	if resolved == 0 {
		ev := t.event(core.EventStuck, step)
		ev.Error = fmt.Sprintf("none of %d tool call(s) could be resolved", len(calls))
		t.logger.Warn("flow.step.stuck", "step", step, "calls", len(calls))
		return &ev
	}
	if err := ctx.Err(); err != nil {
		return t.abort(err)
	}
	return nil
}

// invoke calls the model and forwards partial deltas. It returns the final
// response of the step.
func (t *turn) invoke(ctx context.Context, step int, req model.Request) (*model.Response, error) {
	info := t.o.model.Info()
	begin := t.o.opts.Clock()

	respCh, errCh := t.o.model.Generate(ctx, req)

	var (
		final    *model.Response
		streamed strings.Builder
	)
	for resp := range respCh {
		if !resp.Partial {
			r := resp
			final = &r
			continue
		}
		if resp.ReasoningDelta != "" {
			ev := t.event(core.EventReasoningDelta, step)
			ev.Delta = resp.ReasoningDelta
			t.emit(ev)
		}
		if resp.TextDelta != "" {
			t.markFirstText()
			streamed.WriteString(resp.TextDelta)
			ev := t.event(core.EventTextDelta, step)
			ev.Delta = resp.TextDelta
			t.emit(ev)
		}
	}
	err := <-errCh
	if err == nil && final == nil {
		err = errNoFinalResponse
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	var usage *core.Usage
	var inTokens, outTokens int64
	if final != nil && final.Usage != nil {
		usage = final.Usage
		inTokens, outTokens = usage.InputTokens, usage.OutputTokens
	}
	dur := t.o.opts.Clock().Sub(begin)
	t.o.opts.Metrics.RecordModelCall(info.Provider, info.Name, status, dur, usage)
	logging.LogModelCall(t.logger, info.Name, step, inTokens, outTokens, dur, err)

	if err != nil {
		return nil, err
	}

	// non-streaming models deliver text only with the final response
	if streamed.Len() == 0 {
		for _, p := range final.Parts {
			if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
				t.markFirstText()
				ev := t.event(core.EventTextDelta, step)
				ev.Delta = tp.Text
				t.emit(ev)
			}
		}
	}
	return final, nil
}

// assistantMessage builds the step's assistant message with normalized
// tool-call ids and returns the calls to dispatch.
func (t *turn) assistantMessage(step int, final *model.Response) (core.Message, []core.ToolCallPart) {
	calls := normalizeCalls(final.ToolCalls(), t.log.HasCallID, func(from, to string) {
		t.logger.Debug("flow.tool_call.id_replaced", "original", from, "replacement", to)
	})

	parts := make([]core.Part, 0, len(final.Parts)+2)
	parts = append(parts, core.ControlPart{Kind: core.ControlStepStart, Step: step})
	next := 0
	for _, p := range final.Parts {
		switch v := p.(type) {
		case core.ToolCallPart:
			parts = append(parts, calls[next])
			next++
		case core.TextPart:
			parts = append(parts, v)
		case core.ToolResultPart, core.ControlPart:
			// models never hand back results or markers
		default:
			parts = append(parts, v)
		}
	}
	parts = append(parts, core.ControlPart{Kind: core.ControlStepEnd, Step: step})

	msg := core.NewMessage(core.RoleAssistant, parts...)
	msg.CreatedAt = t.o.opts.Clock().UTC()
	msg.Metadata.Model = t.o.model.Info().Name
	msg.Metadata.FinishReason = final.FinishReason
	msg.Metadata.Step = step
	return msg, calls
}

// toolNames lists the tools the model was offered. It is never nil, so a
// turn without tools cannot dispatch any.
func (t *turn) toolNames() []string {
	names := make([]string, 0, len(t.tools))
	for _, d := range t.tools {
		names = append(names, d.Name)
	}
	return names
}

func (t *turn) markFirstText() {
	if t.firstText == nil {
		now := t.o.opts.Clock().UTC()
		t.firstText = &now
	}
}

func (t *turn) finishStep(step int, usage *core.Usage) {
	ev := t.event(core.EventStepFinish, step)
	if usage != nil {
		u := *usage
		ev.Usage = &u
	}
	t.emit(ev)
}

func (t *turn) fail(step int, err error) *core.Event {
	t.logger.Error("flow.turn.error", "step", step, "error", err)
	ev := t.event(core.EventError, step)
	ev.Error = err.Error()
	return &ev
}

func (t *turn) abort(err error) *core.Event {
	t.logger.Info("flow.turn.abort", "steps", t.budget.Used(), "reason", err)
	ev := t.event(core.EventAbort, t.budget.Used())
	ev.Error = err.Error()
	return &ev
}

func (t *turn) event(typ core.EventType, step int) core.Event {
	ev := core.NewEvent(t.req.TurnID, typ, step)
	ev.Timestamp = t.o.opts.Clock().UTC()
	return ev
}

func (t *turn) emit(ev core.Event) {
	t.stats.Observe(ev)
	t.events <- ev
}
