package tool

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Argument validation happens in the Registry before Call, so the wrapped
// function always receives schema-conforming arguments when invoked through
// a registry. A FunctionTool has no mutable state after construction and is
// safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(tc *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection (see SchemaFromStruct).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, SchemaFromStruct(structType), fn)
}

// NewTypedTool builds a tool whose arguments are decoded into T. The schema
// is reflected from T.
//
//	type SearchArgs struct {
//	  Query string `json:"query" jsonschema:"description=Search query"`
//	}
//
//	search := NewTypedTool("searchWeb", "Search the web", func(tc *core.ToolContext, in SearchArgs) (any, error) {
//	  return backend.Search(tc.Context(), in.Query)
//	})
func NewTypedTool[T any](name, description string, fn func(tc *core.ToolContext, in T) (any, error)) *FunctionTool {
	var zero T
	return NewFunctionTool(name, description, SchemaFromStruct(&zero), func(tc *core.ToolContext, args map[string]any) (any, error) {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeValidation}
		}
		var in T
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, &ToolError{Tool: name, Message: fmt.Sprintf("decode arguments: %v", err), Code: CodeValidation}
		}
		return fn(tc, in)
	})
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call invokes the wrapped function.
func (t *FunctionTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	return t.fn(tc, args)
}
