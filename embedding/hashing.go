package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/zero-day-ai/tiermem/lexical"
)

// DefaultDimensions matches the output size of common small sentence models.
const DefaultDimensions = 384

// Hashing is an offline provider that projects content words into a fixed
// number of buckets (feature hashing) and L2-normalizes the result.
//
// Similarity between two Hashing embeddings approximates weighted word
// overlap. Text with no content words embeds to the zero vector, whose
// cosine similarity with anything is 0.
type Hashing struct {
	dimensions int
}

// NewHashing creates a hashing provider. Non-positive dimensions fall back
// to DefaultDimensions.
func NewHashing(dimensions int) *Hashing {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Hashing{dimensions: dimensions}
}

// Embed returns the normalized term-frequency projection of text.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dimensions)
	for _, w := range lexical.ContentWords(text) {
		vec[bucket(w, h.dimensions)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}

	out := make([]float32, h.dimensions)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (h *Hashing) Dimensions() int {
	return h.dimensions
}

func bucket(word string, n int) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(word))
	return int(f.Sum32() % uint32(n))
}

var _ Provider = (*Hashing)(nil)
