package episodic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/embedding"
	"github.com/zero-day-ai/tiermem/memory"
	"github.com/zero-day-ai/tiermem/tagging"
)

const (
	// DefaultPromoteThreshold is the importance at or above which an
	// interaction is promoted without being forced.
	DefaultPromoteThreshold = 0.5

	// DefaultEmbedRetries is the number of embedding attempts per promotion.
	DefaultEmbedRetries = 3

	loadBatch = 500
)

// Store is a Redis-backed memory.EpisodicMemory.
type Store struct {
	client    redis.UniversalClient
	keys      backing.Keyspace
	provider  embedding.Provider
	extractor *tagging.Extractor
	index     Index

	threshold  float64
	embedRetry backing.Retry
	writeRetry backing.Retry
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPromoteThreshold sets the promotion gate.
func WithPromoteThreshold(v float64) Option {
	return func(s *Store) {
		if v >= 0 && v <= 1 {
			s.threshold = v
		}
	}
}

// WithExtractor sets the tag extractor.
func WithExtractor(e *tagging.Extractor) Option {
	return func(s *Store) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithEmbedRetry sets the retry policy for embedding during promotion.
func WithEmbedRetry(r backing.Retry) Option {
	return func(s *Store) {
		s.embedRetry = r
	}
}

// WithWriteRetry sets the retry policy for the promotion transaction.
func WithWriteRetry(r backing.Retry) Option {
	return func(s *Store) {
		s.writeRetry = r
	}
}

// WithIndex mirrors promoted memories into idx and consults it during search.
func WithIndex(idx Index) Option {
	return func(s *Store) {
		s.index = idx
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an episodic store embedding with provider.
func New(client redis.UniversalClient, keys backing.Keyspace, provider embedding.Provider, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keys:       keys,
		provider:   provider,
		extractor:  tagging.NewExtractor(),
		threshold:  DefaultPromoteThreshold,
		embedRetry: backing.Retry{Attempts: DefaultEmbedRetries, Backoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second},
		writeRetry: backing.Retry{Attempts: 3, Backoff: 50 * time.Millisecond, MaxBackoff: time.Second},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "episodic")
	return s
}

// Threshold returns the promotion gate.
func (s *Store) Threshold() float64 { return s.threshold }

// Dimensions returns the embedding size every memory carries.
func (s *Store) Dimensions() int { return s.provider.Dimensions() }

func (s *Store) memoryKey(id string) string { return s.keys.Key("episodic", "memory", id) }
func (s *Store) timelineKey() string        { return s.keys.Key("episodic", "timeline") }
func (s *Store) tagKey(tag string) string   { return s.keys.Key("episodic", "tag", tag) }

// Promote turns interaction into a Memory when its importance clears the
// threshold or force is set. It returns nil, nil when the gate is not met.
//
// Promotion is idempotent: the memory id, content, tags and embedding are
// all derived from the interaction, so a retry rewrites the same record.
func (s *Store) Promote(ctx context.Context, interaction memory.Interaction, force bool) (*memory.Memory, error) {
	const op = "episodic.Promote"

	if !force && interaction.Importance < s.threshold {
		return nil, nil
	}
	if interaction.ID == "" {
		return nil, memory.Validation(op, "interaction id is required")
	}
	if strings.TrimSpace(interaction.UserText) == "" {
		return nil, memory.Validation(op, "user text is required")
	}

	content := Content(interaction)
	tags := s.extractor.Extract(interaction.UserText, interaction.AgentText)

	vec, err := s.embedWithRetry(ctx, op, EmbeddingText(content, tags))
	if err != nil {
		return nil, err
	}

	created := interaction.CreatedAt
	if created <= 0 {
		created = memory.FromTime(s.now())
	}

	mem := &memory.Memory{
		ID:                  MemoryID(s.keys.Namespace(), interaction.ID),
		SourceInteractionID: interaction.ID,
		Content:             content,
		Embedding:           vec,
		Importance:          interaction.Importance,
		Tags:                tags,
		CreatedAt:           created,
	}

	data, err := json.Marshal(mem)
	if err != nil {
		return nil, memory.Validation(op, "encode memory: %v", err)
	}

	err = s.writeRetry.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			score := float64(mem.CreatedAt)
			pipe.Set(ctx, s.memoryKey(mem.ID), data, 0)
			pipe.ZAdd(ctx, s.timelineKey(), redis.Z{Score: score, Member: mem.ID})
			for _, tag := range mem.Tags {
				pipe.ZAdd(ctx, s.tagKey(tag), redis.Z{Score: score, Member: mem.ID})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, memory.Unavailable(op, err).WithContext("memory_id", mem.ID)
	}

	if s.index != nil {
		if err := s.index.Add(ctx, mem.ID, mem.Embedding); err != nil {
			s.logger.Warn("failed to index memory", "error", err, "memory_id", mem.ID)
		}
	}

	s.logger.Debug("promoted interaction",
		"memory_id", mem.ID,
		"interaction_id", interaction.ID,
		"importance", mem.Importance,
		"tags", mem.Tags,
		"forced", force,
	)

	return mem, nil
}

// embedWithRetry embeds text, retrying transient provider failures. A
// dimension mismatch is never retried.
func (s *Store) embedWithRetry(ctx context.Context, op, text string) ([]float32, error) {
	want := s.provider.Dimensions()

	var vec []float32
	err := s.embedRetry.Do(ctx, func(ctx context.Context) error {
		v, err := s.provider.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, memory.ErrDimensionMismatch) {
				return backing.Permanent(err)
			}
			return err
		}
		if len(v) != want {
			return backing.Permanent(memory.DimensionMismatch(op, want, len(v)))
		}
		vec = v
		return nil
	})
	if err != nil {
		if errors.Is(err, memory.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, memory.Embedding(op, err).WithContext("attempts", s.embedRetry.Attempts)
	}
	return vec, nil
}

// Export returns every memory created inside r, oldest first. A nil range
// exports everything.
func (s *Store) Export(ctx context.Context, r *memory.TimeRange) ([]memory.Memory, error) {
	const op = "episodic.Export"

	if !r.Valid() {
		return nil, memory.Validation(op, "time range start is after end")
	}

	ids, err := s.client.ZRangeByScore(ctx, s.timelineKey(), scoreRange(r)).Result()
	if err != nil {
		return nil, memory.Unavailable(op, err)
	}
	return s.load(ctx, op, ids)
}

// Recent returns up to max memories created within window of now, newest
// first.
func (s *Store) Recent(ctx context.Context, window time.Duration, max int) ([]memory.Memory, error) {
	const op = "episodic.Recent"

	if max <= 0 {
		return nil, memory.Validation(op, "max must be positive, got %d", max)
	}

	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(max)}
	if window > 0 {
		by.Min = formatScore(memory.FromTime(s.now().Add(-window)))
	}

	ids, err := s.client.ZRevRangeByScore(ctx, s.timelineKey(), by).Result()
	if err != nil {
		return nil, memory.Unavailable(op, err)
	}
	return s.load(ctx, op, ids)
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.timelineKey()).Result()
	if err != nil {
		return 0, memory.Unavailable("episodic.Count", err)
	}
	return int(n), nil
}

// Warm loads every stored embedding into the index.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}

	all, err := s.Export(ctx, nil)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range all {
		if err := s.index.Add(ctx, m.ID, m.Embedding); err != nil {
			s.logger.Warn("failed to index memory", "error", err, "memory_id", m.ID)
			continue
		}
		n++
	}
	return n, nil
}

// load fetches memories by id in order, skipping ids whose record is gone.
func (s *Store) load(ctx context.Context, op string, ids []string) ([]memory.Memory, error) {
	out := make([]memory.Memory, 0, len(ids))
	for start := 0; start < len(ids); start += loadBatch {
		end := start + loadBatch
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.memoryKey(id))
		}

		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, memory.Unavailable(op, err)
		}

		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var m memory.Memory
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				s.logger.Warn("skipping malformed memory", "error", err, "key", keys[i])
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func scoreRange(r *memory.TimeRange) *redis.ZRangeBy {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if r == nil {
		return by
	}
	if r.Start != nil {
		by.Min = formatScore(*r.Start)
	}
	if r.End != nil {
		by.Max = formatScore(*r.End)
	}
	return by
}

func formatScore(ts memory.Timestamp) string {
	return strconv.FormatFloat(float64(ts), 'f', -1, 64)
}

var _ memory.EpisodicMemory = (*Store)(nil)
