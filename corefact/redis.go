package corefact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/backing"
)

// Optimistic transaction retry bounds. Each lost round waits a random
// interval up to txBackoff times the attempt number, capped at txMaxBackoff.
const (
	maxTxAttempts = 32
	txBackoff     = 2 * time.Millisecond
	txMaxBackoff  = 50 * time.Millisecond
)

// conflictBackoff sleeps before retry attempt+1 of a transaction that lost
// to a concurrent writer.
func conflictBackoff(ctx context.Context, attempt int) error {
	limit := txBackoff * time.Duration(attempt+1)
	if limit > txMaxBackoff {
		limit = txMaxBackoff
	}
	t := time.NewTimer(rand.N(limit) + time.Microsecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RedisBackend stores every leaf as one field of a single hash. Mutations run
// under WATCH so a concurrent writer forces a re-read instead of a lost
// update.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

// NewRedisBackend creates a backend keyed under keys.
func NewRedisBackend(client redis.UniversalClient, keys backing.Keyspace) *RedisBackend {
	return &RedisBackend{client: client, key: keys.Key("core", "facts")}
}

// Load returns every leaf whose key starts with prefix.
func (b *RedisBackend) Load(ctx context.Context, prefix string) (map[string]Leaf, error) {
	fields, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	return decodeFields(fields, prefix)
}

// Apply runs m inside a WATCH/MULTI transaction.
func (b *RedisBackend) Apply(ctx context.Context, m Mutation) error {
	var mutErr error

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, b.key).Result()
		if err != nil {
			return err
		}
		current, err := decodeFields(fields, "")
		if err != nil {
			return err
		}

		del, put, err := m(current)
		if err != nil {
			mutErr = err
			return err
		}
		if len(del) == 0 && len(put) == 0 {
			return nil
		}

		values := make([]any, 0, len(put)*2)
		for k, leaf := range put {
			data, err := json.Marshal(leaf)
			if err != nil {
				mutErr = err
				return err
			}
			values = append(values, k, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(del) > 0 {
				pipe.HDel(ctx, b.key, del...)
			}
			if len(values) > 0 {
				pipe.HSet(ctx, b.key, values...)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := b.client.Watch(ctx, txf, b.key)
		if err == nil {
			return nil
		}
		if mutErr != nil {
			return mutErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			if err := conflictBackoff(ctx, i); err != nil {
				return fmt.Errorf("apply facts: %w", err)
			}
			continue
		}
		return fmt.Errorf("apply facts: %w", err)
	}
	return ErrConflict
}

// Count returns the number of leaves.
func (b *RedisBackend) Count(ctx context.Context) (int, error) {
	n, err := b.client.HLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return int(n), nil
}

func decodeFields(fields map[string]string, prefix string) (map[string]Leaf, error) {
	out := make(map[string]Leaf, len(fields))
	for k, v := range fields {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var leaf Leaf
		if err := json.Unmarshal([]byte(v), &leaf); err != nil {
			return nil, fmt.Errorf("decode fact %q: %w", k, err)
		}
		out[k] = leaf
	}
	return out, nil
}

var _ Backend = (*RedisBackend)(nil)
