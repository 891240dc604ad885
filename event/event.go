package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/zero-day-ai/tiermem/memory"
)

// SchemaVersionV1 is the first version of the envelope schema.
const SchemaVersionV1 = 1

// Topics published by the engine.
const (
	TopicWorkingStored   = "memory.working.stored"
	TopicWorkingCleared  = "memory.working.cleared"
	TopicMemoryPromoted  = "memory.episodic.promoted"
	TopicCoreFactSet     = "memory.core.set"
	TopicCoreFactDeleted = "memory.core.deleted"
	TopicConsolidated    = "memory.consolidated"
)

// Topics lists every topic the engine publishes.
func Topics() []string {
	return []string{
		TopicWorkingStored,
		TopicWorkingCleared,
		TopicMemoryPromoted,
		TopicCoreFactSet,
		TopicCoreFactDeleted,
		TopicConsolidated,
	}
}

// Envelope is the transport-neutral wire form of an event.
type Envelope struct {
	SchemaVersion int              `json:"schema_version"`
	EventID       string           `json:"event_id"`
	Topic         string           `json:"topic"`
	EmittedAt     memory.Timestamp `json:"emitted_at"`
	Data          json.RawMessage  `json:"data"`
}

// Sink delivers encoded events.
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, topic string, payload []byte) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Nop is a Sink that discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, string, []byte) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Publish delivers to all sinks even when some fail.
func (m Multi) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Payloads carried in Envelope.Data.

// WorkingStored is published after an interaction enters working memory.
type WorkingStored struct {
	Interaction memory.Interaction `json:"interaction"`
}

// WorkingCleared is published after working memory is emptied.
type WorkingCleared struct {
	ClearedAt memory.Timestamp `json:"cleared_at"`
}

// MemoryPromoted is published after a memory is written to episodic memory.
// The embedding is omitted.
type MemoryPromoted struct {
	MemoryID            string           `json:"memory_id"`
	SourceInteractionID string           `json:"source_interaction_id"`
	Importance          float64          `json:"importance"`
	Tags                []string         `json:"tags"`
	Forced              bool             `json:"forced"`
	CreatedAt           memory.Timestamp `json:"created_at"`
}

// CoreFactSet is published after a core fact is written.
type CoreFactSet struct {
	KeyPath   string           `json:"key_path"`
	Value     any              `json:"value"`
	UpdatedAt memory.Timestamp `json:"updated_at"`
}

// CoreFactDeleted is published after a core fact subtree is removed.
type CoreFactDeleted struct {
	KeyPath   string           `json:"key_path"`
	DeletedAt memory.Timestamp `json:"deleted_at"`
}
