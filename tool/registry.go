package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
)

// PaymentSignal is the result-level form of a PaymentRequired signal.
type PaymentSignal struct {
	NeedsPayment bool   `json:"needsPayment"`
	Cost         string `json:"cost"`
	Currency     string `json:"currency"`
	Resource     string `json:"resource,omitempty"`
}

// Result is the outcome of one tool call. Exactly one of Output, Error or
// Payment describes it.
type Result struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Payment    *PaymentSignal `json:"payment,omitempty"`
	Duration   time.Duration  `json:"-"`
	// Err is the caught failure, kept for logging and metrics.
	Err error `json:"-"`
}

// Status is a short label for metrics: ok, error or payment_required.
func (r Result) Status() string {
	switch {
	case r.Payment != nil:
		return "payment_required"
	case r.Error != "":
		return "error"
	default:
		return "ok"
	}
}

// Payload is the value handed back to the model.
func (r Result) Payload() any {
	switch {
	case r.Payment != nil:
		return *r.Payment
	case r.Error != "":
		return map[string]any{"error": r.Error, "retryable": r.Retryable}
	default:
		return r.Output
	}
}

// Part converts the result into a tool-result part. Payment signals are
// ordinary data, not errors.
func (r Result) Part() core.ToolResultPart {
	return core.ToolResultPart{
		ToolCallID: r.ToolCallID,
		ToolName:   r.ToolName,
		Result:     r.Payload(),
		IsError:    r.Error != "",
	}
}

// Definition is the model-facing declaration of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// Timeout bounds a single tool call. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

type entry struct {
	tool   Tool
	schema *Schema
}

// Registry maps tool names to capabilities. Registration happens at startup;
// Execute is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	opts  RegistryOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Registry{tools: map[string]entry{}, opts: opts}
}

// Register adds t. Duplicate names and uncompilable schemas are
// configuration errors.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return &core.ConfigurationError{Setting: "tools", Message: "tool name must not be empty"}
	}
	schema, err := CompileSchema(t.Parameters())
	if err != nil {
		return &core.ConfigurationError{Setting: "tools." + name, Message: err.Error()}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &core.ConfigurationError{Setting: "tools." + name, Message: "tool registered twice"}
	}
	r.tools[name] = entry{tool: t, schema: schema}
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve checks that every configured name is registered and returns a
// registry restricted to them. Unknown names are a *core.ConfigurationError;
// call it at startup, never per request.
func (r *Registry) Resolve(names []string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := &Registry{tools: make(map[string]entry, len(names)), opts: r.opts}
	var unknown []string
	for _, n := range names {
		e, ok := r.tools[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		sub.tools[n] = e
	}
	if len(unknown) > 0 {
		return nil, &core.ConfigurationError{Setting: "tools", Message: fmt.Sprintf("unknown tool(s): %v", unknown)}
	}
	return sub, nil
}

// Definitions returns the declarations of all registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, Definition{Name: e.tool.Name(), Description: e.tool.Description(), Parameters: e.schema.Raw()})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs one call. It never returns an error and never panics: every
// failure becomes a Result carrying {Error, Retryable}, and a payment
// precondition becomes Result.Payment.
func (r *Registry) Execute(tc *core.ToolContext, call core.ToolCallPart) (res Result) {
	res = Result{ToolCallID: call.ToolCallID, ToolName: call.ToolName}
	logger := r.opts.Logger
	if tc == nil {
		tc = core.NewToolContext(context.Background(), "", "", call.ToolCallID, 0, logger)
	}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	r.mu.RLock()
	e, ok := r.tools[call.ToolName]
	r.mu.RUnlock()
	if !ok {
		return fail(res, &ToolError{Tool: call.ToolName, Message: fmt.Sprintf("tool %s not found", call.ToolName), Code: CodeNotFound})
	}

	args := map[string]any{}
	if len(call.Args) > 0 && string(call.Args) != "null" {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return fail(res, &ToolError{Tool: call.ToolName, Message: fmt.Sprintf("arguments are not a JSON object: %v", err), Code: CodeValidation})
		}
	}
	if err := e.schema.Validate(args); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "error", err.Error())
		return fail(res, &ToolError{Tool: call.ToolName, Message: fmt.Sprintf("parameter validation failed: %v", err), Code: CodeValidation, Details: err})
	}

	if r.opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(tc.Context(), r.opts.Timeout)
		defer cancel()
		tc = tc.WithContext(ctx)
	}

	logger.Debug("tool.call.start", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	out, err := safeCall(e.tool, tc, args)
	if err == nil {
		res.Output = out
		logger.Info("tool.call.success", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "duration_ms", time.Since(start).Milliseconds())
		return res
	}

	var pay *PaymentRequired
	if errors.As(err, &pay) {
		res.Payment = &PaymentSignal{NeedsPayment: true, Cost: pay.Cost, Currency: pay.Currency, Resource: pay.Resource}
		logger.Info("tool.call.payment_required", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "cost", pay.Cost, "currency", pay.Currency)
		return res
	}

	var te *ToolError
	switch {
	case errors.As(err, &te):
	case errors.Is(err, context.DeadlineExceeded):
		te = &ToolError{Tool: call.ToolName, Message: "tool call timed out", Code: CodeTimeout, Retryable: true}
	default:
		te = &ToolError{Tool: call.ToolName, Message: err.Error(), Code: CodeExecution}
	}
	logger.Error("tool.call.error", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "code", te.Code, "error", te.Message)
	return fail(res, te)
}

func fail(res Result, te *ToolError) Result {
	res.Error = te.Message
	res.Code = te.Code
	res.Retryable = te.Retryable
	res.Err = &core.ToolExecutionError{Tool: res.ToolName, CallID: res.ToolCallID, Retryable: te.Retryable, Err: te}
	return res
}

func safeCall(t Tool, tc *core.ToolContext, args map[string]any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			tc.LogError("tool.call.panic", "tool", t.Name(), "recover", rec, "stack", string(debug.Stack()))
			out, err = nil, &ToolError{Tool: t.Name(), Message: fmt.Sprintf("panic: %v", rec), Code: CodePanic}
		}
	}()
	return t.Call(tc, args)
}
