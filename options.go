package tiermem

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/corefact"
	"github.com/zero-day-ai/tiermem/episodic"
	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/importance"
	"github.com/zero-day-ai/tiermem/memory"
	"github.com/zero-day-ai/tiermem/tagging"
)

// Option configures an Engine.
type Option func(*engineConfig)

// engineConfig holds configuration for an Engine instance.
type engineConfig struct {
	namespace      string
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	sink      event.Sink
	scorer    *importance.Scorer
	extractor *tagging.Extractor

	workingMax   int
	workingTTL   time.Duration
	workingRetry *backing.Retry

	promoteThreshold *float64
	embedRetry       *backing.Retry
	index            episodic.Index

	coreBackend corefact.Backend

	consolidationWindow time.Duration
	consolidationMax    int

	searchLimit   int
	minSimilarity float64
}

func defaultConfig() *engineConfig {
	return &engineConfig{
		namespace:     backing.DefaultNamespace,
		logger:        slog.Default(),
		now:           time.Now,
		searchLimit:   DefaultSearchLimit,
		minSimilarity: DefaultMinSimilarity,
	}
}

// WithNamespace prefixes every backing key, letting several engines share
// one Redis.
func WithNamespace(ns string) Option {
	return func(c *engineConfig) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithLogger sets a custom logger for the engine and its stores.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source of every tier.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides interaction id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *engineConfig) {
		c.newID = fn
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *engineConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. Default: the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *engineConfig) {
		c.meterProvider = mp
	}
}

// WithSink sets where change events are published. Default: discarded.
func WithSink(sink event.Sink) Option {
	return func(c *engineConfig) {
		c.sink = sink
	}
}

// WithScorer replaces the importance scorer.
func WithScorer(s *importance.Scorer) Option {
	return func(c *engineConfig) {
		c.scorer = s
	}
}

// WithExtractor replaces the tag extractor.
func WithExtractor(e *tagging.Extractor) Option {
	return func(c *engineConfig) {
		c.extractor = e
	}
}

// WithWorkingLimits sets the working memory capacity and TTL. Zero keeps
// the default for that limit.
func WithWorkingLimits(maxEntries int, ttl time.Duration) Option {
	return func(c *engineConfig) {
		c.workingMax = maxEntries
		c.workingTTL = ttl
	}
}

// WithWorkingRetry sets the retry policy for working memory writes.
func WithWorkingRetry(r backing.Retry) Option {
	return func(c *engineConfig) {
		c.workingRetry = &r
	}
}

// WithPromoteThreshold sets the importance needed for promotion.
func WithPromoteThreshold(v float64) Option {
	return func(c *engineConfig) {
		c.promoteThreshold = &v
	}
}

// WithEmbedRetry sets the retry policy for embedding generation.
func WithEmbedRetry(r backing.Retry) Option {
	return func(c *engineConfig) {
		c.embedRetry = &r
	}
}

// WithIndex enables a vector index in front of episodic search.
func WithIndex(idx episodic.Index) Option {
	return func(c *engineConfig) {
		c.index = idx
	}
}

// WithCoreBackend stores core facts somewhere other than the engine's
// Redis, such as etcd.
func WithCoreBackend(b corefact.Backend) Option {
	return func(c *engineConfig) {
		c.coreBackend = b
	}
}

// WithConsolidation bounds the memories a consolidation run reads.
func WithConsolidation(window time.Duration, maxEntries int) Option {
	return func(c *engineConfig) {
		c.consolidationWindow = window
		c.consolidationMax = maxEntries
	}
}

// WithSearchDefaults sets the limit and similarity floor used when a search
// does not specify them.
func WithSearchDefaults(limit int, minSimilarity float64) Option {
	return func(c *engineConfig) {
		if limit > 0 {
			c.searchLimit = limit
		}
		c.minSimilarity = minSimilarity
	}
}

// SearchOption adjusts a single search.
type SearchOption func(*memory.SearchQuery)

// WithLimit caps the number of results.
func WithLimit(n int) SearchOption {
	return func(q *memory.SearchQuery) {
		q.Limit = n
	}
}

// WithMinSimilarity discards results below v.
func WithMinSimilarity(v float64) SearchOption {
	return func(q *memory.SearchQuery) {
		q.MinSimilarity = v
	}
}

// WithTags restricts results to memories carrying at least one tag.
func WithTags(tags ...string) SearchOption {
	return func(q *memory.SearchQuery) {
		q.Tags = append(q.Tags, tags...)
	}
}

// WithTimeRange restricts results by creation time.
func WithTimeRange(r *memory.TimeRange) SearchOption {
	return func(q *memory.SearchQuery) {
		q.Range = r
	}
}
