package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes another provider's embeddings in a bounded ristretto cache.
// Each entry costs 1, so size is the maximum number of cached texts.
//
// ristretto admits writes asynchronously and may reject some; a miss simply
// calls the wrapped provider again, which is safe because embeddings are a
// pure function of the text.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache of up to size entries.
func NewCached(inner Provider, size int64) (*Cached, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedding: cache size must be positive, got %d", size)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}

	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text, computing it on a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return clone(vec), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, clone(vec), 1)
	return vec, nil
}

// Dimensions returns the wrapped provider's embedding size.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Wait blocks until buffered cache writes are applied.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached) Close() error {
	c.cache.Close()
	return nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ Provider = (*Cached)(nil)
