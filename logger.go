package blockalloc

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocator-specific helpers so that every
// variant logs the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewJSONLogger creates a Logger that writes JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithVariant tags every record with the allocator variant.
func (l *Logger) WithVariant(name string) *Logger {
	return &Logger{Logger: l.Logger.With("allocator", name)}
}

// LogAcquire logs the outcome of an Acquire call.
func (l *Logger) LogAcquire(size, blocks int, p Ptr, err error) {
	if err != nil {
		l.Warn("acquire failed",
			"size", size,
			"blocks", blocks,
			"error", err,
		)
		return
	}
	l.Debug("acquire",
		"size", size,
		"blocks", blocks,
		"ptr", int(p),
	)
}

// LogRelease logs a Release call. A non-nil err means the pointer was ignored.
func (l *Logger) LogRelease(p Ptr, blocks int, err error) {
	if err != nil {
		l.Warn("release ignored",
			"ptr", int(p),
			"error", err,
		)
		return
	}
	l.Debug("release",
		"ptr", int(p),
		"blocks", blocks,
	)
}
