package core

import (
	"errors"
	"fmt"
	"strings"
)

// Violation describes one breach of the tool-call/tool-result ordering
// invariant.
type Violation struct {
	Index     int    `json:"index"`
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("message %d (%s): %s: %s", v.Index, v.MessageID, v.Code, v.Detail)
}

// ValidationError rejects a message history before any model invocation.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "invalid conversation structure"
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invalid conversation structure: " + strings.Join(parts, "; ")
}

// ToolExecutionError is a tool failure caught at the registry boundary. It is
// surfaced to the model as data and never aborts the step loop.
type ToolExecutionError struct {
	Tool      string
	CallID    string
	Retryable bool
	Err       error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PaymentRequired is returned by a capability that needs an external payment
// precondition before it may perform its side effect. It is a typed signal,
// not a failure, and is terminal for the tool call that produced it.
type PaymentRequired struct {
	Cost     string `json:"cost"`
	Currency string `json:"currency"`
	Resource string `json:"resource,omitempty"`
}

func (p *PaymentRequired) Error() string {
	if p.Resource != "" {
		return fmt.Sprintf("payment required for %s: %s %s", p.Resource, p.Cost, p.Currency)
	}
	return fmt.Sprintf("payment required: %s %s", p.Cost, p.Currency)
}

// TransportError is a model or network failure. It aborts the stream and
// nothing is persisted for the turn.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceSoftFailure reports a skipped or failed write. It is logged and
// never aborts an in-flight response.
type PersistenceSoftFailure struct {
	ConversationID string
	MessageID      string
	Reason         string
	Err            error
}

func (e *PersistenceSoftFailure) Error() string {
	msg := fmt.Sprintf("persistence: conversation %s message %s: %s", e.ConversationID, e.MessageID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistenceSoftFailure) Unwrap() error { return e.Err }

// ConfigurationError is a missing or invalid setting. It is fatal at process
// start and never raised per request.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Message)
}

// IsTerminal reports whether err belongs to the classes that terminate a
// request or process (transport and configuration errors).
func IsTerminal(err error) bool {
	var te *TransportError
	var ce *ConfigurationError
	return errors.As(err, &te) || errors.As(err, &ce)
}
