// Package logger builds the service's zerolog loggers and carries a
// request-scoped logger and correlation ID through context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// Options controls where and how log lines are written.
type Options struct {
	Level  string
	Format string // json or console
	Output string // stdout or file
	File   FileConfig
}

// New creates a zerolog.Logger with the specified level and JSON output.
// If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	return build(os.Stdout, level)
}

// NewWithOptions creates a logger writing to stdout or to a rotating file.
// A file output with an empty path falls back to stdout.
func NewWithOptions(opts Options) zerolog.Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(opts.Output, "file") && opts.File.Path != "" {
		w = NewFileWriter(opts.File)
	}
	if strings.EqualFold(opts.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stdout}
	}
	return build(w, opts.Level)
}

func build(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "mail-dispatch").
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns an empty string if not set.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext retrieves the logger from the context with the correlation ID
// attached. Without a stored logger an info-level stdout logger is used.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return withCorrelationID(ctx, l)
	}
	return withCorrelationID(ctx, New("info"))
}

// FromContextOr is FromContext with fallback used when no logger is stored.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return withCorrelationID(ctx, l)
	}
	return withCorrelationID(ctx, fallback)
}

func withCorrelationID(ctx context.Context, log zerolog.Logger) zerolog.Logger {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return log.With().Str("correlation_id", id).Logger()
	}
	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
