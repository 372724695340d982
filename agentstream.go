// Package agentstream provides a high-level façade over the step
// orchestrator, the memory context provider and the persistence layer.
// Most applications interact with this package by:
//  1. Creating an Engine via New() with a model and a tool registry
//     (optionally overriding the default in-memory stores)
//  2. Creating a conversation with CreateConversation
//  3. Sending user messages with Stream (events) or Generate (drained)
//
// Each turn validates the history, selects the context window and recalled
// memory, runs the bounded step loop and, once the stream has ended, saves
// the user message together with every message the turn produced. Aborted
// and failed turns are never saved.
package agentstream

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/internal/lazy"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/persistence"
	"github.com/hupe1980/agentstream/tool"
	"github.com/hupe1980/agentstream/transcript"
)

// Process-wide default stores, created on first use.
var (
	defaultMessageStore = lazy.New(func() (core.MessageStore, error) {
		return persistence.NewInMemoryStore(), nil
	})
	defaultMemoryStore = lazy.New(func() (core.MemoryStore, error) {
		return memory.NewInMemoryStore(), nil
	})
)

// SetDefaultStores replaces the process-wide default stores. A nil argument
// keeps the current value.
func SetDefaultStores(messages core.MessageStore, mem core.MemoryStore) {
	if messages != nil {
		defaultMessageStore.Set(messages)
	}
	if mem != nil {
		defaultMemoryStore.Set(mem)
	}
}

// ResetDefaultStores drops the process-wide default stores so the next
// Engine gets fresh in-memory instances.
func ResetDefaultStores() {
	defaultMessageStore.Reset()
	defaultMemoryStore.Reset()
}

// Options configures the Engine.
type Options struct {
	// System is the default system prompt.
	System string
	// MaxSteps is the default step budget of a turn.
	MaxSteps int
	// Tools restricts the exposed tools; empty exposes every registered tool.
	Tools []string
	// Stream requests incremental deltas from the model.
	Stream bool

	// Stores (default to the process-wide in-memory stores if not provided)
	MessageStore core.MessageStore
	MemoryStore  core.MemoryStore

	// Embedder enables semantic recall; without it memory falls back to the
	// most recent records.
	Embedder memory.Embedder
	// DisableMemory turns off recall and remembering.
	DisableMemory bool
	// Memory tunes the context provider.
	Memory []func(o *memory.ProviderOptions)

	// Logger (defaults to NoOp logger if nil)
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
}

// Request is one user turn.
type Request struct {
	ConversationID string
	UserID         string
	// Message is the new user message.
	Message core.Message
	// History overrides the stored history of the conversation.
	History []core.Message
	// Tools and MaxSteps override the engine defaults for this turn.
	Tools    []string
	MaxSteps int
	System   string
}

// Engine is the high-level façade aggregating the orchestrator and services.
type Engine struct {
	opts         Options
	model        model.Model
	orchestrator *flow.Orchestrator
	store        core.MessageStore
	memory       *memory.ContextProvider
	persister    *persistence.Persister
}

// New creates an Engine for m and the tools of registry. Any unset store is
// taken from the process-wide defaults.
func New(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		MaxSteps: core.DefaultMaxSteps,
		Stream:   true,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if m == nil {
		return nil, &core.ConfigurationError{Setting: "model", Message: "a model is required"}
	}
	if registry == nil {
		registry = tool.NewRegistry()
	}
	if len(opts.Tools) > 0 {
		if _, err := registry.Resolve(opts.Tools); err != nil {
			return nil, err
		}
	}

	if opts.MessageStore == nil {
		s, err := defaultMessageStore.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize message store: %w", err)
		}
		opts.MessageStore = s
	}

	e := &Engine{opts: opts, model: m, store: opts.MessageStore}

	if !opts.DisableMemory {
		if opts.MemoryStore == nil {
			s, err := defaultMemoryStore.Get()
			if err != nil {
				return nil, fmt.Errorf("failed to initialize memory store: %w", err)
			}
			opts.MemoryStore = s
		}
		memOpts := append([]func(o *memory.ProviderOptions){func(o *memory.ProviderOptions) {
			o.Embedder = opts.Embedder
			o.Logger = opts.Logger
		}}, opts.Memory...)
		e.memory = memory.NewContextProvider(opts.MemoryStore, memOpts...)
	}

	e.persister = persistence.NewPersister(opts.MessageStore, func(o *persistence.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		if e.memory != nil {
			o.Memory = e.memory
		}
	})

	executor := tool.NewExecutor(registry, func(o *tool.ExecutorOptions) {
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
	})
	e.orchestrator = flow.New(m, executor, func(o *flow.Options) {
		o.MaxSteps = opts.MaxSteps
		o.Stream = opts.Stream
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})
	e.opts = opts
	return e, nil
}

// Model returns the engine's model.
func (e *Engine) Model() model.Model { return e.model }

// CreateConversation registers a conversation. Persistence never creates
// conversations implicitly, so this must precede the first turn.
func (e *Engine) CreateConversation(ctx context.Context, info core.ConversationInfo) error {
	if info.ID == "" {
		info.ID = core.NewID()
	}
	return e.store.CreateConversation(ctx, info)
}

// Conversation returns the metadata of a conversation.
func (e *Engine) Conversation(ctx context.Context, id string) (*core.ConversationInfo, error) {
	return e.store.GetConversation(ctx, id)
}

// History returns the stored messages of a conversation in order.
func (e *Engine) History(ctx context.Context, conversationID string) ([]core.Message, error) {
	rows, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Message, len(rows))
	for i, row := range rows {
		out[i] = row.Message
	}
	return out, nil
}

// Stream runs one turn. Structural problems with the history are returned as
// a *core.ValidationError before the model is invoked. The returned channel
// is closed after exactly one terminal event, which is delivered only after
// the turn has been handed to persistence.
func (e *Engine) Stream(ctx context.Context, req Request) (<-chan core.Event, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if req.Message.ID == "" {
		req.Message.ID = core.NewID()
	}
	if req.Message.Role == "" {
		req.Message.Role = core.RoleUser
	}
	// the prompt precedes every message the turn produces
	if req.Message.CreatedAt.IsZero() {
		req.Message.CreatedAt = time.Now().UTC()
	}

	history := req.History
	if history == nil {
		var err error
		if history, err = e.History(ctx, req.ConversationID); err != nil {
			return nil, err
		}
	}
	full := make([]core.Message, 0, len(history)+1)
	full = append(full, history...)
	full = append(full, req.Message)

	if violations := transcript.Validate(full); len(violations) > 0 {
		return nil, &core.ValidationError{Violations: violations}
	}

	window, historical := full, ""
	if e.memory != nil {
		res, err := e.memory.GetRelevantContext(ctx, req.ConversationID, req.UserID, full, e.model.Info().Name)
		if err != nil {
			return nil, err
		}
		window, historical = res.Messages, res.HistoricalContext
		e.opts.Logger.Debug("engine.context.selected",
			"conversation_id", req.ConversationID,
			"window", len(window),
			"recalled", res.Metadata.RetrievedCount+res.Metadata.RecentCount,
			"semantic", res.Metadata.UsedSemanticRecall,
			"estimated_tokens", res.Metadata.EstimatedTokens,
		)
	}

	freq := flow.Request{
		ConversationID:    req.ConversationID,
		UserID:            req.UserID,
		System:            firstNonEmpty(req.System, e.opts.System),
		Messages:          window,
		HistoricalContext: historical,
		Tools:             req.Tools,
		MaxSteps:          req.MaxSteps,
	}
	if len(freq.Tools) == 0 {
		freq.Tools = e.opts.Tools
	}

	events, err := e.orchestrator.Run(ctx, freq)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, cap(events))
	go func() {
		defer close(out)
		for ev := range events {
			if ev.IsTerminal() {
				e.persist(ctx, req, ev)
			}
			out <- ev
		}
	}()
	return out, nil
}

// Generate runs a turn and drains its stream.
func (e *Engine) Generate(ctx context.Context, req Request) (*flow.Result, error) {
	events, err := e.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &flow.Result{}
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

// persist hands the finished turn to the persister. Aborted and failed turns
// are passed with IsAborted so that nothing is written.
func (e *Engine) persist(ctx context.Context, req Request, terminal core.Event) {
	turn := persistence.Turn{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Messages:       append([]core.Message{req.Message}, terminal.Messages...),
		IsAborted:      terminal.Type == core.EventAbort || terminal.Type == core.EventError,
	}
	if err := e.persister.SaveTurn(context.WithoutCancel(ctx), turn); err != nil {
		e.opts.Logger.Warn("engine.persist.failed",
			"conversation_id", req.ConversationID,
			"turn_id", terminal.TurnID,
			"error", err,
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
