// Package working implements the working memory tier: a bounded,
// time-limited recency buffer of raw interactions kept in one Redis sorted
// set scored by creation time.
//
// Push trims the set to the configured maximum in the same MULTI/EXEC
// transaction that inserts the entry and refreshes the key TTL, so readers
// never see more than the maximum and trimming always drops the oldest
// entries by creation time. Each entry also carries its own expiry mark;
// Recent and Count skip entries whose mark has passed.
package working

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/memory"
)

const (
	// DefaultMaxEntries is the buffer capacity.
	DefaultMaxEntries = 20

	// DefaultTTL is how long an entry stays live after it was pushed.
	DefaultTTL = time.Hour
)

// Store is a Redis-backed memory.WorkingMemory.
type Store struct {
	client     redis.UniversalClient
	key        string
	maxEntries int
	ttl        time.Duration
	retry      backing.Retry
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries sets the buffer capacity. Non-positive values are ignored.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithTTL sets the entry lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRetry sets the retry policy for writes.
func WithRetry(r backing.Retry) Option {
	return func(s *Store) {
		s.retry = r
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

// entry is the stored form of an interaction.
type entry struct {
	memory.Interaction
	ExpiresAt memory.Timestamp `json:"expires_at"`
}

// New creates a working memory store keyed under keys.
func New(client redis.UniversalClient, keys backing.Keyspace, opts ...Option) *Store {
	s := &Store{
		client:     client,
		key:        keys.Key("working", "interactions"),
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultTTL,
		retry:      backing.Retry{Attempts: 3, Backoff: 50 * time.Millisecond, MaxBackoff: time.Second},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "working")
	return s
}

// MaxEntries returns the buffer capacity.
func (s *Store) MaxEntries() int { return s.maxEntries }

// TTL returns the entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Push adds interaction to the buffer. The entry expires TTL after the
// interaction's creation time. Pushing the same interaction again, including
// a retried write whose reply was lost, leaves a single entry.
func (s *Store) Push(ctx context.Context, interaction memory.Interaction) error {
	const op = "working.Push"

	if interaction.ID == "" {
		return memory.Validation(op, "interaction id is required")
	}

	created := interaction.CreatedAt
	if created <= 0 {
		created = memory.FromTime(s.now())
		interaction.CreatedAt = created
	}

	data, err := json.Marshal(entry{
		Interaction: interaction,
		ExpiresAt:   created.Add(s.ttl),
	})
	if err != nil {
		return memory.Validation(op, "encode interaction: %v", err)
	}

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(created), Member: data})
			pipe.ZRemRangeByRank(ctx, s.key, 0, int64(-s.maxEntries-1))
			pipe.Expire(ctx, s.key, s.ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return memory.Unavailable(op, err).WithContext("attempts", s.retry.Attempts)
	}
	return nil
}

// Recent returns up to limit live interactions, newest first. A limit of
// zero or less, or above capacity, is treated as the capacity.
func (s *Store) Recent(ctx context.Context, limit int) ([]memory.Interaction, error) {
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}

	live, err := s.live(ctx, "working.Recent")
	if err != nil {
		return nil, err
	}
	if len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

// Count returns the number of live interactions.
func (s *Store) Count(ctx context.Context) (int, error) {
	live, err := s.live(ctx, "working.Count")
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// Clear removes every interaction.
func (s *Store) Clear(ctx context.Context) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.client.Del(ctx, s.key).Err()
	})
	if err != nil {
		return memory.Unavailable("working.Clear", err)
	}
	return nil
}

func (s *Store) live(ctx context.Context, op string) ([]memory.Interaction, error) {
	raw, err := s.client.ZRevRange(ctx, s.key, 0, int64(s.maxEntries-1)).Result()
	if err != nil {
		return nil, memory.Unavailable(op, err)
	}

	now := memory.FromTime(s.now())
	out := make([]memory.Interaction, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		var e entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("skipping malformed working entry", "error", err)
			continue
		}
		if e.ExpiresAt <= now {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e.Interaction)
	}
	return out, nil
}

var _ memory.WorkingMemory = (*Store)(nil)
