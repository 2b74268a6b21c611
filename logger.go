package splitembed

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with splitembed-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(table int) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", table),
	}
}

// WithStep adds an iteration step field to the logger.
func (l *Logger) WithStep(step int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("step", step),
	}
}

// LogPrefetch logs a prefetch operation.
func (l *Logger) LogPrefetch(ctx context.Context, timestep int64, indices int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "prefetch failed",
			"timestep", timestep,
			"indices", indices,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "prefetch completed",
			"timestep", timestep,
			"indices", indices,
		)
	}
}

// LogForward logs a forward pass.
func (l *Logger) LogForward(ctx context.Context, step int64, indices int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "forward failed",
			"step", step,
			"indices", indices,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "forward completed",
			"step", step,
			"indices", indices,
		)
	}
}

// LogFlush logs a cache flush.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache flush failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cache flush completed")
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
		)
	}
}
