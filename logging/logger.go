package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger defines the minimal logging interface for agentstream. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// StreamLogger wraps slog.Logger adding conversation scoping and helpers for
// the recurring records of a streaming turn. With* methods return copies.
type StreamLogger struct {
	logger         *slog.Logger
	component      string
	conversationID string
	turnID         string
	attrs          []slog.Attr
}

// LoggerConfig configures construction of a StreamLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
	Attrs     map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a StreamLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *StreamLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	l := &StreamLogger{logger: slog.New(handler), component: cfg.Component}
	for k, v := range cfg.Attrs {
		l.attrs = append(l.attrs, slog.Any(k, v))
	}
	return l
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *StreamLogger) clone() *StreamLogger {
	nl := *l
	nl.attrs = append([]slog.Attr(nil), l.attrs...)
	return &nl
}

// With attaches a key/value attribute to every subsequent entry.
func (l *StreamLogger) With(key string, value any) *StreamLogger {
	nl := l.clone()
	nl.attrs = append(nl.attrs, slog.Any(key, value))
	return nl
}

// WithComponent sets the logical component (flow, tool, persistence, ...).
func (l *StreamLogger) WithComponent(c string) *StreamLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithConversation attaches conversation and turn identifiers.
func (l *StreamLogger) WithConversation(conversationID, turnID string) *StreamLogger {
	nl := l.clone()
	nl.conversationID = conversationID
	nl.turnID = turnID
	return nl
}

func (l *StreamLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.conversationID != "" {
		attrs = append(attrs, slog.String("conversation_id", l.conversationID))
	}
	if l.turnID != "" {
		attrs = append(attrs, slog.String("turn_id", l.turnID))
	}
	return append(attrs, l.attrs...)
}

func (l *StreamLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(l.buildAttrs()...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

// Debug logs at debug level.
func (l *StreamLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *StreamLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *StreamLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *StreamLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// ForTurn scopes l to one conversation turn. A StreamLogger carries the ids
// as attributes; other loggers receive them with every call.
func ForTurn(l Logger, conversationID, turnID string) Logger {
	switch v := l.(type) {
	case nil:
		return NoOpLogger{}
	case NoOpLogger:
		return v
	case *StreamLogger:
		return v.WithConversation(conversationID, turnID)
	}
	return scopedLogger{next: l, kv: []any{"conversation_id", conversationID, "turn_id", turnID}}
}

type scopedLogger struct {
	next Logger
	kv   []any
}

func (s scopedLogger) args(args []any) []any {
	return append(append(make([]any, 0, len(s.kv)+len(args)), s.kv...), args...)
}

func (s scopedLogger) Debug(msg string, args ...any) { s.next.Debug(msg, s.args(args)...) }
func (s scopedLogger) Info(msg string, args ...any)  { s.next.Info(msg, s.args(args)...) }
func (s scopedLogger) Warn(msg string, args ...any)  { s.next.Warn(msg, s.args(args)...) }
func (s scopedLogger) Error(msg string, args ...any) { s.next.Error(msg, s.args(args)...) }

// LogToolCall records execution details for a tool invocation. Failures are
// logged at warn level.
func LogToolCall(l Logger, tool, callID string, dur time.Duration, status string, err error) {
	args := []any{"tool_name", tool, "tool_call_id", callID, "duration_ms", dur.Milliseconds(), "status", status}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Warn("tool.call.failed", args...)
		return
	}
	l.Debug("tool.call.completed", args...)
}

// LogModelCall records model call latency, token usage and success.
func LogModelCall(l Logger, model string, step int, inputTokens, outputTokens int64, dur time.Duration, err error) {
	args := []any{"model", model, "step", step, "input_tokens", inputTokens, "output_tokens", outputTokens, "duration_ms", dur.Milliseconds()}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Error("model.call.failed", args...)
		return
	}
	l.Debug("model.call.completed", args...)
}

// LogTurn records the terminal outcome of a turn.
func LogTurn(l Logger, terminal string, steps int, dur time.Duration) {
	l.Info("flow.turn.completed", "terminal", terminal, "step_count", steps, "duration_ms", dur.Milliseconds())
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}
