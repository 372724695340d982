package tool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
)

// Scope identifies the request a batch of calls belongs to.
type Scope struct {
	ConversationID string
	UserID         string
	Step           int
	// Tools lists the tool names exposed for the request. Calls to other
	// tools fail with CodeNotFound. A nil slice allows every registered tool.
	Tools []string
}

func (s Scope) allows(name string) bool {
	return s.Tools == nil || slices.Contains(s.Tools, name)
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent calls; <= 0 means one goroutine per call.
	MaxParallel    int
	LogStartEvents bool
	Logger         logging.Logger
	Tracer         trace.Tracer
}

// Executor dispatches the tool calls of one step concurrently. Execution
// order is unspecified; results are re-associated by ToolCallID and returned
// in the order of the calls.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
}

// NewExecutor creates an executor backed by registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("agentstream/tool")
	}
	return &Executor{registry: registry, opts: opts}
}

// Registry returns the backing registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ExecuteBatch runs calls and returns exactly one Result per call. Calls
// whose dispatch was prevented by cancellation yield an error result so the
// association stays total.
func (e *Executor) ExecuteBatch(ctx context.Context, scope Scope, calls []core.ToolCallPart) []Result {
	n := len(calls)
	if n == 0 {
		return nil
	}

	if n == 1 {
		return []Result{e.executeOne(ctx, scope, calls[0])}
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var mu sync.Mutex
	byID := make(map[string]Result, n)

	batchStart := time.Now()
	p := pool.New().WithMaxGoroutines(maxPar)
	for _, call := range calls {
		p.Go(func() {
			var res Result
			if ctx.Err() != nil {
				res = cancelled(call, ctx.Err())
			} else {
				res = e.executeOne(ctx, scope, call)
			}
			mu.Lock()
			byID[call.ToolCallID] = res
			mu.Unlock()
		})
	}
	p.Wait()

	out := make([]Result, n)
	for i, call := range calls {
		out[i] = byID[call.ToolCallID]
	}

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"step", scope.Step,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return out
}

func (e *Executor) executeOne(ctx context.Context, scope Scope, call core.ToolCallPart) Result {
	ctx, span := e.opts.Tracer.Start(ctx, "tool."+call.ToolName, trace.WithAttributes(
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.ToolCallID),
		attribute.Int("flow.step", scope.Step),
	))
	defer span.End()

	if e.opts.LogStartEvents {
		e.opts.Logger.Info("tool.call.dispatch", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "step", scope.Step)
	}

	var res Result
	if scope.allows(call.ToolName) {
		tc := core.NewToolContext(ctx, scope.ConversationID, scope.UserID, call.ToolCallID, scope.Step, e.opts.Logger)
		res = e.registry.Execute(tc, call)
	} else {
		res = fail(Result{ToolCallID: call.ToolCallID, ToolName: call.ToolName}, &ToolError{
			Tool:    call.ToolName,
			Message: fmt.Sprintf("tool %s is not available", call.ToolName),
			Code:    CodeNotFound,
		})
	}

	span.SetAttributes(attribute.String("tool.status", res.Status()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func cancelled(call core.ToolCallPart, err error) Result {
	return fail(Result{ToolCallID: call.ToolCallID, ToolName: call.ToolName}, &ToolError{
		Tool:    call.ToolName,
		Message: "not dispatched: " + err.Error(),
		Code:    CodeExecution,
	})
}
