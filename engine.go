package tiermem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/consolidate"
	"github.com/zero-day-ai/tiermem/corefact"
	"github.com/zero-day-ai/tiermem/embedding"
	"github.com/zero-day-ai/tiermem/episodic"
	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/health"
	"github.com/zero-day-ai/tiermem/importance"
	"github.com/zero-day-ai/tiermem/memory"
	"github.com/zero-day-ai/tiermem/tagging"
	"github.com/zero-day-ai/tiermem/working"
)

// Engine defaults.
const (
	// DefaultContextLimit is used by GetWorkingContext for a non-positive
	// limit.
	DefaultContextLimit = working.DefaultMaxEntries

	// DefaultSearchLimit is the number of search results returned when the
	// caller does not set one.
	DefaultSearchLimit = 5

	// DefaultMinSimilarity is the search floor used when the caller does
	// not set one.
	DefaultMinSimilarity = 0.5
)

// Engine is a tiered memory engine. It is safe for concurrent use; no lock
// is held across tiers or while embedding.
type Engine struct {
	keys     backing.Keyspace
	client   redis.UniversalClient
	provider embedding.Provider
	scorer   *importance.Scorer

	working      *working.Store
	episodic     *episodic.Store
	core         *corefact.Store
	consolidator *consolidate.Consolidator
	emitter      *event.Emitter
	telemetry    *telemetry

	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	searchLimit   int
	minSimilarity float64
	indexed       bool

	closeOnce sync.Once
	closers   []io.Closer
}

var _ memory.Store = (*Engine)(nil)

// New creates an Engine over a Redis client and an embedding provider. The
// caller keeps ownership of client.
func New(client redis.UniversalClient, provider embedding.Provider, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newEngine(client, provider, cfg)
}

func newEngine(client redis.UniversalClient, provider embedding.Provider, cfg *engineConfig) *Engine {
	logger := cfg.logger
	keys := backing.NewKeyspace(cfg.namespace)

	tp := cfg.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	scorer := cfg.scorer
	if scorer == nil {
		scorer = importance.NewScorer()
	}
	extractor := cfg.extractor
	if extractor == nil {
		extractor = tagging.NewExtractor()
	}
	newID := cfg.newID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}

	emitter := event.NewEmitter(cfg.sink, logger, event.WithClock(cfg.now))

	workingOpts := []working.Option{
		working.WithMaxEntries(cfg.workingMax),
		working.WithTTL(cfg.workingTTL),
		working.WithClock(cfg.now),
		working.WithLogger(logger),
	}
	if cfg.workingRetry != nil {
		workingOpts = append(workingOpts, working.WithRetry(*cfg.workingRetry))
	}

	episodicOpts := []episodic.Option{
		episodic.WithExtractor(extractor),
		episodic.WithClock(cfg.now),
		episodic.WithLogger(logger),
	}
	if cfg.promoteThreshold != nil {
		episodicOpts = append(episodicOpts, episodic.WithPromoteThreshold(*cfg.promoteThreshold))
	}
	if cfg.embedRetry != nil {
		episodicOpts = append(episodicOpts, episodic.WithEmbedRetry(*cfg.embedRetry))
	}
	if cfg.index != nil {
		episodicOpts = append(episodicOpts, episodic.WithIndex(cfg.index))
	}
	episodicStore := episodic.New(client, keys, provider, episodicOpts...)

	backend := cfg.coreBackend
	if backend == nil {
		backend = corefact.NewRedisBackend(client, keys)
	}

	return &Engine{
		keys:     keys,
		client:   client,
		provider: provider,
		scorer:   scorer,
		working:  working.New(client, keys, workingOpts...),
		episodic: episodicStore,
		core:     corefact.New(backend, corefact.WithClock(cfg.now), corefact.WithLogger(logger)),
		consolidator: consolidate.New(episodicStore,
			consolidate.WithWindow(cfg.consolidationWindow),
			consolidate.WithMaxEntries(cfg.consolidationMax),
			consolidate.WithEmitter(emitter),
			consolidate.WithClock(cfg.now),
			consolidate.WithLogger(logger),
		),
		emitter:       emitter,
		telemetry:     newTelemetry(tp, mp, logger),
		now:           cfg.now,
		newID:         newID,
		logger:        logger.With("component", "engine"),
		searchLimit:   cfg.searchLimit,
		minSimilarity: cfg.minSimilarity,
		indexed:       cfg.index != nil,
	}
}

// Working returns the working memory tier.
func (e *Engine) Working() memory.WorkingMemory { return e.working }

// Episodic returns the episodic memory tier.
func (e *Engine) Episodic() memory.EpisodicMemory { return e.episodic }

// Core returns the core fact tier.
func (e *Engine) Core() memory.CoreMemory { return e.core }

// Consolidator returns the engine's consolidator, for scheduling.
func (e *Engine) Consolidator() *consolidate.Consolidator { return e.consolidator }

// StoreInteraction scores an exchange, records it in working memory and
// promotes it to episodic memory when it is important enough or force is
// set.
//
// The steps are not transactional. When promotion fails the interaction is
// still returned together with the error; it stays in working memory and
// Promote can be retried with it.
func (e *Engine) StoreInteraction(ctx context.Context, userText, agentText string, force bool) (_ *memory.Interaction, err error) {
	ctx, finish := e.telemetry.start(ctx, opStoreInteraction, attribute.Bool("forced", force))
	defer func() { finish(err) }()

	if strings.TrimSpace(userText) == "" {
		return nil, memory.Validation("tiermem.StoreInteraction", "user text is required")
	}

	in := memory.Interaction{
		ID:         e.newID(),
		UserText:   userText,
		AgentText:  agentText,
		CreatedAt:  memory.FromTime(e.now()),
		Importance: e.scorer.Score(userText, agentText),
	}
	e.telemetry.recordImportance(ctx, in.Importance)

	if err := e.working.Push(ctx, in); err != nil {
		return nil, err
	}
	e.emitter.Emit(ctx, event.TopicWorkingStored, event.WorkingStored{Interaction: in})

	if _, err := e.promote(ctx, in, force); err != nil {
		e.logger.Warn("promotion failed, interaction kept in working memory",
			"interaction_id", in.ID,
			"error", err,
		)
		return &in, err
	}

	return &in, nil
}

// Promote promotes a stored interaction. It is idempotent and returns nil,
// nil when the interaction does not qualify.
func (e *Engine) Promote(ctx context.Context, in memory.Interaction, force bool) (_ *memory.Memory, err error) {
	ctx, finish := e.telemetry.start(ctx, opPromote, attribute.Bool("forced", force))
	defer func() { finish(err) }()

	return e.promote(ctx, in, force)
}

func (e *Engine) promote(ctx context.Context, in memory.Interaction, force bool) (*memory.Memory, error) {
	mem, err := e.episodic.Promote(ctx, in, force)
	if err != nil || mem == nil {
		return mem, err
	}

	e.telemetry.recordPromotion(ctx, force)
	e.emitter.Emit(ctx, event.TopicMemoryPromoted, event.MemoryPromoted{
		MemoryID:            mem.ID,
		SourceInteractionID: mem.SourceInteractionID,
		Importance:          mem.Importance,
		Tags:                mem.Tags,
		Forced:              force,
		CreatedAt:           mem.CreatedAt,
	})
	return mem, nil
}

// GetWorkingContext returns up to limit recent interactions, newest first.
// A non-positive limit returns the whole buffer.
func (e *Engine) GetWorkingContext(ctx context.Context, limit int) (_ []memory.Interaction, err error) {
	ctx, finish := e.telemetry.start(ctx, opGetWorkingContext, attribute.Int("limit", limit))
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = DefaultContextLimit
	}
	return e.working.Recent(ctx, limit)
}

// ClearWorking empties working memory.
func (e *Engine) ClearWorking(ctx context.Context) (err error) {
	ctx, finish := e.telemetry.start(ctx, opClearWorking)
	defer func() { finish(err) }()

	if err := e.working.Clear(ctx); err != nil {
		return err
	}
	e.emitter.Emit(ctx, event.TopicWorkingCleared, event.WorkingCleared{ClearedAt: memory.FromTime(e.now())})
	return nil
}

// SearchMemories returns the episodic memories most similar to query,
// similarity descending. Without options it returns at most
// DefaultSearchLimit results scoring at least DefaultMinSimilarity.
func (e *Engine) SearchMemories(ctx context.Context, query string, opts ...SearchOption) (_ []memory.Result, err error) {
	q := memory.SearchQuery{
		Text:          query,
		Limit:         e.searchLimit,
		MinSimilarity: e.minSimilarity,
	}
	for _, opt := range opts {
		opt(&q)
	}

	ctx, finish := e.telemetry.start(ctx, opSearchMemories,
		attribute.Int("limit", q.Limit),
		attribute.Float64("min_similarity", q.MinSimilarity),
		attribute.StringSlice("tags", q.Tags),
	)
	defer func() { finish(err) }()

	return e.episodic.Search(ctx, q)
}

// ExportMemories returns every episodic memory inside r, oldest first.
func (e *Engine) ExportMemories(ctx context.Context, r *memory.TimeRange) (_ []memory.Memory, err error) {
	ctx, finish := e.telemetry.start(ctx, opExportMemories)
	defer func() { finish(err) }()

	return e.episodic.Export(ctx, r)
}

// GetCoreFact returns the value at keyPath, or the whole tree for an empty
// path.
func (e *Engine) GetCoreFact(ctx context.Context, keyPath string) (_ any, _ bool, err error) {
	ctx, finish := e.telemetry.start(ctx, opGetCoreFact, attribute.String("key_path", keyPath))
	defer func() { finish(err) }()

	return e.core.Get(ctx, keyPath)
}

// SetCoreFact replaces the subtree at keyPath with value.
func (e *Engine) SetCoreFact(ctx context.Context, keyPath string, value any) (err error) {
	ctx, finish := e.telemetry.start(ctx, opSetCoreFact, attribute.String("key_path", keyPath))
	defer func() { finish(err) }()

	if err := e.core.Set(ctx, keyPath, value); err != nil {
		return err
	}
	e.emitter.Emit(ctx, event.TopicCoreFactSet, event.CoreFactSet{
		KeyPath:   keyPath,
		Value:     value,
		UpdatedAt: memory.FromTime(e.now()),
	})
	return nil
}

// DeleteCoreFact removes the subtree at keyPath and reports whether
// anything was there.
func (e *Engine) DeleteCoreFact(ctx context.Context, keyPath string) (_ bool, err error) {
	ctx, finish := e.telemetry.start(ctx, opDeleteCoreFact, attribute.String("key_path", keyPath))
	defer func() { finish(err) }()

	deleted, err := e.core.Delete(ctx, keyPath)
	if err != nil || !deleted {
		return deleted, err
	}
	e.emitter.Emit(ctx, event.TopicCoreFactDeleted, event.CoreFactDeleted{
		KeyPath:   keyPath,
		DeletedAt: memory.FromTime(e.now()),
	})
	return true, nil
}

// Consolidate aggregates recent episodic memories by tag.
func (e *Engine) Consolidate(ctx context.Context) (_ *consolidate.Summary, err error) {
	ctx, finish := e.telemetry.start(ctx, opConsolidate)
	defer func() { finish(err) }()

	return e.consolidator.Run(ctx)
}

// Stats reports tier sizes and the effective configuration.
type Stats struct {
	WorkingCount  int         `json:"working_count"`
	EpisodicCount int         `json:"episodic_count"`
	CoreFactCount int         `json:"core_fact_count"`
	Config        StatsConfig `json:"config"`
}

// StatsConfig is the configuration part of Stats.
type StatsConfig struct {
	Namespace                  string  `json:"namespace"`
	WorkingMaxEntries          int     `json:"working_max_entries"`
	WorkingTTLSeconds          float64 `json:"working_ttl_seconds"`
	PromoteThreshold           float64 `json:"promote_threshold"`
	EmbeddingDimensions        int     `json:"embedding_dimensions"`
	SearchLimit                int     `json:"search_limit"`
	MinSimilarity              float64 `json:"min_similarity"`
	VectorIndex                bool    `json:"vector_index"`
	ConsolidationWindowSeconds float64 `json:"consolidation_window_seconds"`
	ConsolidationMaxEntries    int     `json:"consolidation_max_entries"`
}

// Stats counts the entries of every tier.
func (e *Engine) Stats(ctx context.Context) (_ *Stats, err error) {
	ctx, finish := e.telemetry.start(ctx, opStats)
	defer func() { finish(err) }()

	s := &Stats{Config: e.statsConfig()}

	if s.WorkingCount, err = e.working.Count(ctx); err != nil {
		return nil, err
	}
	if s.EpisodicCount, err = e.episodic.Count(ctx); err != nil {
		return nil, err
	}
	if s.CoreFactCount, err = e.core.Count(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) statsConfig() StatsConfig {
	return StatsConfig{
		Namespace:                  e.keys.Namespace(),
		WorkingMaxEntries:          e.working.MaxEntries(),
		WorkingTTLSeconds:          e.working.TTL().Seconds(),
		PromoteThreshold:           e.episodic.Threshold(),
		EmbeddingDimensions:        e.episodic.Dimensions(),
		SearchLimit:                e.searchLimit,
		MinSimilarity:              e.minSimilarity,
		VectorIndex:                e.indexed,
		ConsolidationWindowSeconds: e.consolidator.Window().Seconds(),
		ConsolidationMaxEntries:    e.consolidator.MaxEntries(),
	}
}

// Health checks the backing store, the embedding provider and the core
// fact backend.
func (e *Engine) Health(ctx context.Context) health.Status {
	return health.Combine(map[string]health.Status{
		"redis":     health.RedisCheck(ctx, e.client),
		"embedding": health.EmbedderCheck(ctx, e.provider, e.episodic.Dimensions()),
		"core":      health.StoreCheck(ctx, "core", e.core),
	})
}

// Close releases resources the engine opened itself. It does not close a
// Redis client passed to New.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
