package event

import (
	"context"
	"log/slog"
)

// LogSink writes every event to a logger.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a LogSink logging at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

// Publish logs the event.
func (s *LogSink) Publish(ctx context.Context, topic string, payload []byte) error {
	s.logger.Log(ctx, s.level, "memory event", "topic", topic, "payload", string(payload))
	return nil
}
