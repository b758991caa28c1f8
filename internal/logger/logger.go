// Package logger provides the structured logging abstraction used for query
// and migration events. It adapts log/slog and accepts custom implementations.
package logger

import (
	"log/slog"
	"strings"
)

// Logger receives structured events as a message plus key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything. It is the default.
type NoopLogger struct{}

// Debug does nothing.
func (n *NoopLogger) Debug(_ string, _ ...any) {}

// Info does nothing.
func (n *NoopLogger) Info(_ string, _ ...any) {}

// Warn does nothing.
func (n *NoopLogger) Warn(_ string, _ ...any) {}

// Error does nothing.
func (n *NoopLogger) Error(_ string, _ ...any) {}

// SlogAdapter forwards events to a *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps an slog.Logger. The provided logger must not be nil.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Debug logs at debug level.
func (a *SlogAdapter) Debug(msg string, args ...any) {
	a.logger.Debug(msg, args...)
}

// Info logs at info level.
func (a *SlogAdapter) Info(msg string, args ...any) {
	a.logger.Info(msg, args...)
}

// Warn logs at warn level.
func (a *SlogAdapter) Warn(msg string, args ...any) {
	a.logger.Warn(msg, args...)
}

// Error logs at error level.
func (a *SlogAdapter) Error(msg string, args ...any) {
	a.logger.Error(msg, args...)
}

// With returns a logger that adds args to every event. SlogAdapter delegates
// to slog.Logger.With; other implementations are wrapped.
func With(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	switch l := l.(type) {
	case *NoopLogger:
		return l
	case *SlogAdapter:
		return &SlogAdapter{logger: l.logger.With(args...)}
	}
	return &boundLogger{next: l, args: args}
}

type boundLogger struct {
	next Logger
	args []any
}

func (b *boundLogger) bind(args []any) []any {
	return append(append(make([]any, 0, len(b.args)+len(args)), b.args...), args...)
}

func (b *boundLogger) Debug(msg string, args ...any) { b.next.Debug(msg, b.bind(args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.next.Info(msg, b.bind(args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.next.Warn(msg, b.bind(args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.next.Error(msg, b.bind(args)...) }

// ParseLevel maps a config string (debug, info, warn, error) to an slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
