package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer a KafkaSink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	// Brokers are the bootstrap broker addresses.
	Brokers []string

	// Topic, when set, receives every event. Otherwise each event goes to
	// the Kafka topic named after the event topic.
	Topic string

	// WriteTimeout bounds a single write. Default: 10s.
	WriteTimeout time.Duration

	// BatchTimeout is how long the writer waits to fill a batch before
	// sending it. Default: 10ms.
	BatchTimeout time.Duration

	// Logger receives delivery failures. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultBatchTimeout is the KafkaConfig.BatchTimeout default.
const DefaultBatchTimeout = 10 * time.Millisecond

// TopicHeader carries the event topic on every Kafka message.
const TopicHeader = "event_topic"

// KafkaSink writes events to Kafka. Messages are keyed by event topic so all
// events of one kind land on one partition in order.
type KafkaSink struct {
	writer MessageWriter
	fixed  bool
}

// NewKafkaSink creates a KafkaSink backed by an asynchronous kafka.Writer.
// Publish only enqueues; delivery failures are logged from the writer's
// completion callback and Close flushes what is still pending.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event.kafka")

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           timeout,
		BatchTimeout:           batchTimeout,
		Async:                  true,
		Completion:             logFailures(logger),
		AllowAutoTopicCreation: cfg.Topic == "",
	}

	return NewKafkaSinkWithWriter(w, cfg.Topic != ""), nil
}

// logFailures returns a kafka.Writer completion callback that logs messages
// the broker did not accept.
func logFailures(logger *slog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Warn("kafka event delivery failed",
				"topic", messageTopic(m),
				"error", err,
			)
		}
	}
}

func messageTopic(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == TopicHeader {
			return string(h.Value)
		}
	}
	return m.Topic
}

// NewKafkaSinkWithWriter wraps an existing writer. fixedTopic must be true
// when the writer already targets a single topic.
func NewKafkaSinkWithWriter(w MessageWriter, fixedTopic bool) *KafkaSink {
	return &KafkaSink{writer: w, fixed: fixedTopic}
}

// Publish writes one message.
func (s *KafkaSink) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := kafka.Message{
		Key:     []byte(topic),
		Value:   payload,
		Headers: []kafka.Header{{Key: TopicHeader, Value: []byte(topic)}},
	}
	if !s.fixed {
		msg.Topic = topic
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message for %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
