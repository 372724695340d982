// Package flow implements the bounded step loop that drives a model and its
// tools.
//
// An Orchestrator invokes the model with the current transcript, dispatches
// the tool calls of each step, folds the results back into the transcript as
// a user message, and streams typed events to the caller until a terminal
// event: finish, step-limit, stuck, error or abort.
package flow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/tool"
	"github.com/hupe1980/agentstream/transcript"
)

// Request is the input of one turn.
type Request struct {
	ConversationID string
	UserID         string
	// TurnID identifies the stream; generated when empty.
	TurnID string
	System string
	// Messages is the prepared history. It must validate and must not end
	// with unanswered tool calls.
	Messages []core.Message
	// HistoricalContext is injected as a leading, delimited user message.
	HistoricalContext string
	// Tools restricts the exposed tools to these names; empty exposes all
	// registered tools.
	Tools       []string
	MaxSteps    int
	Temperature *float64
}

// Result is the materialized outcome of a drained stream.
type Result struct {
	// Terminal is the terminal event of the stream.
	Terminal core.Event
	// Messages holds the new messages of the turn.
	Messages []core.Message
	Usage    core.Usage
	Steps    int
}

// Final returns the last assistant message of the turn.
func (r *Result) Final() (core.Message, bool) { return r.Terminal.FinalAssistant() }

// Options configures an Orchestrator.
type Options struct {
	// MaxSteps is the default step budget; requests may lower or raise it.
	MaxSteps int
	// Stream requests incremental deltas from the model.
	Stream bool
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	Logger      logging.Logger
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
	// Processors prepare every model request. Defaults to
	// DefaultProcessors().
	Processors []RequestProcessor
	Clock      func() time.Time
}

// Orchestrator runs turns against one model and tool executor. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	model    model.Model
	executor *tool.Executor
	opts     Options
}

// New creates an Orchestrator. A nil executor exposes no tools.
func New(m model.Model, executor *tool.Executor, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxSteps:    core.DefaultMaxSteps,
		Stream:      true,
		EventBuffer: 64,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer(nil)
	}
	if opts.Processors == nil {
		opts.Processors = DefaultProcessors()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if executor == nil {
		executor = tool.NewExecutor(tool.NewRegistry())
	}
	return &Orchestrator{model: m, executor: executor, opts: opts}
}

// Run validates the request and starts the step loop. Structural problems
// with the history are returned as a *core.ValidationError before the model
// is invoked. The returned channel yields events in step order and is closed
// after exactly one terminal event; callers must drain it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan core.Event, error) {
	t, err := o.newTurn(req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event, o.opts.EventBuffer)
	go func() {
		defer close(events)
		t.run(ctx, events)
	}()
	return events, nil
}

// Generate runs a turn and drains its stream.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	events, err := o.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for ev := range events {
		if ev.Type == core.EventStepStart {
			res.Steps = ev.Step
		}
		if ev.Type == core.EventStepFinish && ev.Usage != nil {
			res.Usage.Add(*ev.Usage)
		}
		if ev.IsTerminal() {
			res.Terminal = ev
			res.Messages = ev.Messages
		}
	}
	if res.Terminal.Type == core.EventError {
		return res, &core.TransportError{Op: "generate", Err: fmt.Errorf("%s", res.Terminal.Error)}
	}
	return res, nil
}

func (o *Orchestrator) newTurn(req Request) (*turn, error) {
	if len(req.Messages) == 0 {
		return nil, &core.ValidationError{Violations: []core.Violation{{
			Code:   transcript.CodeEmptyHistory,
			Detail: "request has no messages",
		}}}
	}

	log, err := transcript.NewLog(req.Messages)
	if err != nil {
		return nil, err
	}
	if log.State() == transcript.StateAwaitingResults {
		last := req.Messages[len(req.Messages)-1]
		return nil, &core.ValidationError{Violations: []core.Violation{{
			Index:     len(req.Messages) - 1,
			MessageID: last.ID,
			Code:      transcript.CodeIncompleteToolCall,
			Detail:    fmt.Sprintf("%d tool call(s) have no result", len(log.Pending())),
		}}}
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = o.opts.MaxSteps
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	return &turn{
		o:      o,
		req:    req,
		log:    log,
		start:  log.Len(),
		budget: core.NewStepBudget(maxSteps),
		tools:  o.toolDefinitions(req),
		logger: logging.ForTurn(o.opts.Logger, req.ConversationID, req.TurnID),
	}, nil
}

// toolDefinitions resolves the tools exposed to the model. Unknown names
// are skipped; tool configuration errors are reported at startup.
func (o *Orchestrator) toolDefinitions(req Request) []model.ToolDefinition {
	registry := o.executor.Registry()
	names := req.Tools
	if len(names) == 0 {
		names = registry.Names()
	}

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := registry.Get(name)
		if !ok {
			o.opts.Logger.Warn("flow.tool.unknown", "tool", name, "conversation_id", req.ConversationID)
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
