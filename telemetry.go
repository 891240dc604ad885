package tiermem

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zero-day-ai/tiermem"

// Operation names used for spans and metric attributes.
const (
	opStoreInteraction  = "store_interaction"
	opPromote           = "promote"
	opGetWorkingContext = "get_working_context"
	opClearWorking      = "clear_working"
	opSearchMemories    = "search_memories"
	opExportMemories    = "export_memories"
	opGetCoreFact       = "get_core_fact"
	opSetCoreFact       = "set_core_fact"
	opDeleteCoreFact    = "delete_core_fact"
	opConsolidate       = "consolidate"
	opStats             = "stats"
)

// telemetry holds the OpenTelemetry tracer and metric instruments for an
// Engine. Instruments that fail to register fall back to no-ops.
type telemetry struct {
	tracer trace.Tracer

	// operations counts engine operations by op and status
	operations metric.Int64Counter

	// duration records operation latency in milliseconds
	duration metric.Float64Histogram

	// importance records the score of every stored interaction
	importance metric.Float64Histogram

	// promotions counts memories written to episodic memory
	promotions metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) *telemetry {
	t := &telemetry{
		tracer:     tp.Tracer(instrumentationName),
		operations: noop.Int64Counter{},
		duration:   noop.Float64Histogram{},
		importance: noop.Float64Histogram{},
		promotions: noop.Int64Counter{},
	}

	meter := mp.Meter(instrumentationName)

	if c, err := meter.Int64Counter(
		"tiermem.operations",
		metric.WithDescription("Number of engine operations performed"),
		metric.WithUnit("1"),
	); err == nil {
		t.operations = c
	} else {
		logger.Warn("failed to create metric", "metric", "tiermem.operations", "error", err)
	}

	if h, err := meter.Float64Histogram(
		"tiermem.operation.duration",
		metric.WithDescription("Engine operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err == nil {
		t.duration = h
	} else {
		logger.Warn("failed to create metric", "metric", "tiermem.operation.duration", "error", err)
	}

	if h, err := meter.Float64Histogram(
		"tiermem.importance",
		metric.WithDescription("Importance score of stored interactions from 0.0 to 1.0"),
		metric.WithUnit("1"),
	); err == nil {
		t.importance = h
	} else {
		logger.Warn("failed to create metric", "metric", "tiermem.importance", "error", err)
	}

	if c, err := meter.Int64Counter(
		"tiermem.promotions",
		metric.WithDescription("Number of interactions promoted to episodic memory"),
		metric.WithUnit("1"),
	); err == nil {
		t.promotions = c
	} else {
		logger.Warn("failed to create metric", "metric", "tiermem.promotions", "error", err)
	}

	return t
}

// start opens the span tiermem.<op>. The returned function ends it and
// records the operation metrics; pass it the operation's error.
func (t *telemetry) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := t.tracer.Start(ctx, "tiermem."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		opts := metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		)
		t.operations.Add(ctx, 1, opts)
		t.duration.Record(ctx, float64(time.Since(begin).Microseconds())/1000, opts)
	}
}

func (t *telemetry) recordImportance(ctx context.Context, score float64) {
	t.importance.Record(ctx, score)
}

func (t *telemetry) recordPromotion(ctx context.Context, forced bool) {
	t.promotions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forced", forced)))
}
