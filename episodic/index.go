package episodic

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Index is an in-process vector index consulted by Search to avoid loading
// records that cannot clear the similarity minimum. It only narrows what is
// loaded; results are always scored exactly.
type Index interface {
	// Add indexes an embedding under id. Re-adding an id replaces it.
	Add(ctx context.Context, id string, embedding []float32) error

	// Query returns approximate similarities for indexed ids scoring at
	// least floor.
	Query(ctx context.Context, embedding []float32, floor float64) (map[string]float64, error)

	// Contains reports whether id has been indexed.
	Contains(id string) bool

	// Len returns the number of indexed ids.
	Len() int
}

// ChromemIndex is an Index backed by a chromem-go collection.
type ChromemIndex struct {
	col *chromem.Collection

	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewChromemIndex creates an empty in-memory index.
func NewChromemIndex(name string) (*ChromemIndex, error) {
	if name == "" {
		name = "episodic"
	}

	db := chromem.NewDB()
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemIndex{col: col, ids: make(map[string]struct{})}, nil
}

// Add indexes an embedding. Zero vectors are not indexed; Search scans them
// directly.
func (c *ChromemIndex) Add(ctx context.Context, id string, embedding []float32) error {
	if norm(embedding) == 0 {
		return nil
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	err := c.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: vec,
		Content:   id,
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Query returns every indexed id scoring at least floor.
func (c *ChromemIndex) Query(ctx context.Context, embedding []float32, floor float64) (map[string]float64, error) {
	n := c.col.Count()
	if n == 0 {
		return map[string]float64{}, nil
	}

	res, err := c.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make(map[string]float64, len(res))
	for _, r := range res {
		sim := float64(r.Similarity)
		if sim >= floor {
			out[r.ID] = sim
		}
	}
	return out, nil
}

// Contains reports whether id has been indexed.
func (c *ChromemIndex) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of indexed ids.
func (c *ChromemIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

var _ Index = (*ChromemIndex)(nil)
