// Package logging provides a minimal logging interface and adapters for agentstream.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the orchestrator, tools and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping a *slog.Logger
//   - StreamLogger, a configurable slog-backed logger with conversation scoping
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	orch := flow.New(m, registry, flow.WithLogger(logger.WithComponent("flow")))
//
// Messages are event-style keys such as "flow.step.start"; context travels as
// key/value pairs.
package logging
