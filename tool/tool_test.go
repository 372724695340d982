package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
)

// -------------------- Schema & Validation Tests --------------------

type sampleArgs struct {
	A string `json:"a" jsonschema:"description=Field A"`
	B *int   `json:"b,omitempty"`
	C int    `json:"c,omitempty"`
}

func TestSchemaFromStruct(t *testing.T) {
	schema := SchemaFromStruct(&sampleArgs{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.ElementsMatch(t, []any{"a"}, schema["required"])
	assert.NotContains(t, schema, "$schema")
}

func TestSchema_Validate(t *testing.T) {
	s, err := CompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		"required": []any{"x"},
	})
	require.NoError(t, err)

	assert.NoError(t, s.Validate(map[string]any{"x": 5}))

	err = s.Validate(map[string]any{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	err = s.Validate(map[string]any{"x": "not-int"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "x", ve.Field)
	assert.Contains(t, ve.Message, "integer")
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 12})
	assert.Error(t, err)
}

// -------------------- Registry Tests --------------------

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func call(id, name, args string) core.ToolCallPart {
	return core.ToolCallPart{ToolCallID: id, ToolName: name, Args: json.RawMessage(args)}
}

func TestRegistry_ExecuteSuccess(t *testing.T) {
	r := NewRegistry().MustRegister(sumTool())
	res := r.Execute(nil, call("c1", "sum", `{"a":2,"b":3}`))
	assert.Equal(t, "ok", res.Status())
	assert.Equal(t, 5.0, res.Output)

	part := res.Part()
	assert.Equal(t, "c1", part.ToolCallID)
	assert.False(t, part.IsError)
}

func TestRegistry_SchemaViolationBecomesResult(t *testing.T) {
	called := false
	tl := NewFunctionTool("need_a", "", map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return nil, nil
	})
	r := NewRegistry().MustRegister(tl)

	res := r.Execute(nil, call("c1", "need_a", `{}`))
	assert.False(t, called)
	assert.Equal(t, CodeValidation, res.Code)
	assert.False(t, res.Retryable)
	assert.True(t, res.Part().IsError)

	res = r.Execute(nil, call("c2", "need_a", `not json`))
	assert.Equal(t, CodeValidation, res.Code)
}

func TestRegistry_ErrorsAndPanicsAreCaught(t *testing.T) {
	r := NewRegistry().MustRegister(
		NewFunctionTool("boom", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("boom")
		}),
		NewFunctionTool("flaky", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, Retryable("flaky", errors.New("rate limited"))
		}),
		NewFunctionTool("panics", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			panic("kaboom")
		}),
	)

	res := r.Execute(nil, call("c1", "boom", ""))
	assert.Equal(t, CodeExecution, res.Code)
	assert.Equal(t, map[string]any{"error": "boom", "retryable": false}, res.Payload())
	var te *core.ToolExecutionError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, "c1", te.CallID)

	res = r.Execute(nil, call("c2", "flaky", ""))
	assert.True(t, res.Retryable)

	res = r.Execute(nil, call("c3", "panics", ""))
	assert.Equal(t, CodePanic, res.Code)
	assert.Contains(t, res.Error, "kaboom")

	res = r.Execute(nil, call("c4", "missing", ""))
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestRegistry_PaymentRequiredIsData(t *testing.T) {
	r := NewRegistry().MustRegister(NewFunctionTool("oracle", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, NewPaymentRequired("0.001", "USDC", "oracle")
	}))

	res := r.Execute(nil, call("c2", "oracle", `{}`))
	require.NotNil(t, res.Payment)
	assert.Equal(t, "payment_required", res.Status())
	assert.Empty(t, res.Error)

	part := res.Part()
	assert.False(t, part.IsError)
	assert.Equal(t, PaymentSignal{NeedsPayment: true, Cost: "0.001", Currency: "USDC", Resource: "oracle"}, part.Result)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) { o.Timeout = 10 * time.Millisecond }).MustRegister(
		NewFunctionTool("slow", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
			<-tc.Context().Done()
			return nil, tc.Context().Err()
		}),
	)
	res := r.Execute(nil, call("c1", "slow", ""))
	assert.Equal(t, CodeTimeout, res.Code)
	assert.True(t, res.Retryable)
}

func TestRegistry_ResolveUnknownIsConfigurationError(t *testing.T) {
	r := NewRegistry().MustRegister(sumTool())

	sub, err := r.Resolve([]string{"sum"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sum"}, sub.Names())

	_, err = r.Resolve([]string{"sum", "nope"})
	var ce *core.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "nope")
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sumTool()))
	assert.Error(t, r.Register(sumTool()))
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry().MustRegister(sumTool())
	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "sum", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}

type echoArgs struct {
	Query string `json:"query"`
}

func TestNewTypedTool(t *testing.T) {
	echo := NewTypedTool("echo", "Echo", func(_ *core.ToolContext, in echoArgs) (any, error) {
		return "got " + in.Query, nil
	})
	r := NewRegistry().MustRegister(echo)

	res := r.Execute(nil, call("c1", "echo", `{"query":"go"}`))
	assert.Equal(t, "got go", res.Output)

	res = r.Execute(nil, call("c2", "echo", `{}`))
	assert.Equal(t, CodeValidation, res.Code)
}

// -------------------- Executor Tests --------------------

func TestExecutor_ResultsAssociatedByID(t *testing.T) {
	var inflight, peak int32
	delayed := NewFunctionTool("delayed", "", nil, func(tc *core.ToolContext, args map[string]any) (any, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&inflight, -1)
		// first call finishes last
		if tc.ToolCallID() == "c1" {
			time.Sleep(30 * time.Millisecond)
		}
		return tc.ToolCallID(), nil
	})
	ex := NewExecutor(NewRegistry().MustRegister(delayed))

	calls := []core.ToolCallPart{call("c1", "delayed", ""), call("c2", "delayed", ""), call("c3", "delayed", "")}
	results := ex.ExecuteBatch(context.Background(), Scope{Step: 1}, calls)

	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, calls[i].ToolCallID, res.ToolCallID)
		assert.Equal(t, calls[i].ToolCallID, res.Output)
	}
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestExecutor_PanicInBatchDoesNotEscape(t *testing.T) {
	r := NewRegistry().MustRegister(
		NewFunctionTool("panics", "", nil, func(*core.ToolContext, map[string]any) (any, error) { panic("x") }),
		sumTool(),
	)
	ex := NewExecutor(r, func(o *ExecutorOptions) { o.MaxParallel = 1 })

	results := ex.ExecuteBatch(context.Background(), Scope{}, []core.ToolCallPart{
		call("c1", "panics", ""),
		call("c2", "sum", `{"a":1,"b":1}`),
	})
	require.Len(t, results, 2)
	assert.Equal(t, CodePanic, results[0].Code)
	assert.Equal(t, 2.0, results[1].Output)
}

func TestExecutor_CancelledBatchStillAnswersEveryCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := NewExecutor(NewRegistry().MustRegister(sumTool()))

	results := ex.ExecuteBatch(ctx, Scope{}, []core.ToolCallPart{
		call("c1", "sum", `{"a":1,"b":1}`),
		call("c2", "sum", `{"a":1,"b":1}`),
	})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "error", res.Status())
	}
}

func TestExecutor_ScopeLimitsDispatch(t *testing.T) {
	ran := false
	hidden := NewFunctionTool("hidden", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
		ran = true
		return "ran", nil
	})
	ex := NewExecutor(NewRegistry().MustRegister(hidden, sumTool()))

	results := ex.ExecuteBatch(context.Background(), Scope{Tools: []string{"sum"}}, []core.ToolCallPart{
		call("c1", "hidden", ""),
		call("c2", "sum", `{"a":2,"b":3}`),
	})
	require.Len(t, results, 2)
	assert.Equal(t, CodeNotFound, results[0].Code)
	assert.False(t, ran)
	assert.Equal(t, 5.0, results[1].Output)

	results = ex.ExecuteBatch(context.Background(), Scope{Tools: []string{}}, []core.ToolCallPart{call("c3", "sum", `{"a":1,"b":1}`)})
	assert.Equal(t, CodeNotFound, results[0].Code, "an empty list exposes nothing")

	results = ex.ExecuteBatch(context.Background(), Scope{}, []core.ToolCallPart{call("c4", "hidden", "")})
	assert.Equal(t, "ran", results[0].Output)
}

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
}
