// Package event delivers memory engine notifications to external
// collaborators.
//
// Every mutating engine operation publishes one event after its state change
// has committed. Events travel as a versioned JSON Envelope through a Sink.
// Sink failures never fail the operation that caused them: the Emitter logs
// and drops them.
//
// Sinks:
//
//   - RedisSink publishes on a Redis pub/sub channel per topic
//   - KafkaSink writes to Kafka with segmentio/kafka-go
//   - LogSink writes events to a slog.Logger
//   - Nop discards events
//   - Multi fans out to several sinks
package event
