package app

import (
	"io"
	"log/slog"
	"os"

	"escalator/internal/types"
)

// NewLogger creates a JSON slog.Logger on stdout at the given level. Unknown
// levels fall back to info.
func NewLogger(level string) *slog.Logger {
	return newLoggerTo(os.Stdout, level)
}

func newLoggerTo(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// SlogAdapter wraps *slog.Logger to implement types.Logger. slog's With
// returns *slog.Logger, which does not satisfy the interface on its own.
type SlogAdapter struct {
	Logger *slog.Logger
}

// Adapt wraps l.
func Adapt(l *slog.Logger) *SlogAdapter {
	return &SlogAdapter{Logger: l}
}

func (a *SlogAdapter) Info(msg string, args ...any)  { a.Logger.Info(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.Logger.Error(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.Logger.Warn(msg, args...) }
func (a *SlogAdapter) With(args ...any) types.Logger {
	return &SlogAdapter{Logger: a.Logger.With(args...)}
}

var _ types.Logger = (*SlogAdapter)(nil)
