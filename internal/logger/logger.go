// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context, optional file
// rotation, and session ID propagation through context.Context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const sessionIDKey ctxKey = "session_id"

// FileConfig controls log file rotation. An empty Path logs to stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON with the service name embedded and is installed
// as the slog default, so the standard log package is routed through it too.
func Init(service string, level slog.Level, file FileConfig) *slog.Logger {
	handler := slog.NewJSONHandler(Output(file), &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)

	return logger
}

// Output returns the writer logs go to.
func Output(file FileConfig) io.Writer {
	if file.Path == "" || file.Path == "stdout" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
		LocalTime:  true,
	}
}

// ParseLevel maps a config string to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSessionID stores the trading session ID in the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID extracts the session ID from context. Returns "" if not set.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionAttrs returns slog attributes including the session ID from context.
// Usage: slog.Info("msg", logger.SessionAttrs(ctx)...)
func SessionAttrs(ctx context.Context) []any {
	sid := SessionID(ctx)
	if sid == "" {
		return nil
	}
	return []any{slog.String("session_id", sid)}
}

// Component returns a child of the default logger tagged with a component.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}
