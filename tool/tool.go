// Package tool implements the tool calling subsystem: capabilities with a
// declared input schema, a registry that validates and executes calls while
// converting every failure into result data, and a batch executor that
// dispatches one step's calls concurrently.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// Tool defines a capability the model may invoke.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Respect tc.Context() cancellation
//   - Return *PaymentRequired instead of performing a paid side effect
//     whose precondition is not met
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Call executes the tool with schema-validated arguments.
	Call(tc *core.ToolContext, args map[string]any) (any, error)
}

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
	CodeTimeout    = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool      string `json:"tool"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Retryable marks err as worth retrying by the model, e.g. a rate limit or a
// transient upstream failure.
func Retryable(tool string, err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		c := *te
		c.Retryable = true
		return &c
	}
	return &ToolError{Tool: tool, Message: err.Error(), Code: CodeExecution, Retryable: true}
}

// PaymentRequired is the structured "payment required" signal returned by
// payment-gated capabilities.
type PaymentRequired = core.PaymentRequired

// NewPaymentRequired builds a payment signal for resource.
func NewPaymentRequired(cost, currency, resource string) *PaymentRequired {
	return &PaymentRequired{Cost: cost, Currency: currency, Resource: resource}
}
