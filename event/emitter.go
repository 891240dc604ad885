package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/tiermem/memory"
)

// Emitter wraps payloads in an Envelope and hands them to a Sink. It never
// returns sink failures to the caller.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the time source used for EmittedAt.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() string) EmitterOption {
	return func(e *Emitter) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEmitter creates an Emitter. A nil sink behaves like Nop.
func NewEmitter(sink Sink, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	if sink == nil {
		sink = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		sink:   sink,
		logger: logger.With("component", "event"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sink returns the wrapped sink.
func (e *Emitter) Sink() Sink { return e.sink }

// Emit publishes data under topic. Encoding errors, sink errors and sink
// panics are logged as event errors and dropped.
func (e *Emitter) Emit(ctx context.Context, topic string, data any) {
	if err := e.emit(ctx, topic, data); err != nil {
		e.logger.Warn("failed to publish event",
			"error", &memory.Error{Op: "event.Emit", Kind: memory.KindEvent, Err: err},
			"topic", topic,
		)
	}
}

func (e *Emitter) emit(ctx context.Context, topic string, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	payload, err := json.Marshal(Envelope{
		SchemaVersion: SchemaVersionV1,
		EventID:       e.newID(),
		Topic:         topic,
		EmittedAt:     memory.FromTime(e.now()),
		Data:          raw,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return e.sink.Publish(ctx, topic, payload)
}
