package config

import (
	"io"
	"log/slog"
)

// NewLogger builds a slog.Logger writing to w in the configured format and
// level.
func (l *LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.GetFormat() == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel returns the configured level as a slog.Level.
func (l *LogConfig) SlogLevel() slog.Level {
	switch l.GetLevel() {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
