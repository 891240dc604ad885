package episodic

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/memory"
)

// indexSlack widens the index cut-off so float32 rounding inside the index
// never drops a memory the exact score would keep.
const indexSlack = 1e-3

// Search returns the memories most similar to query.Text.
func (s *Store) Search(ctx context.Context, query memory.SearchQuery) ([]memory.Result, error) {
	const op = "episodic.Search"

	if strings.TrimSpace(query.Text) == "" {
		return nil, memory.Validation(op, "query text is required")
	}
	if query.Limit <= 0 {
		return nil, memory.Validation(op, "limit must be positive, got %d", query.Limit)
	}
	if query.MinSimilarity < -1 || query.MinSimilarity > 1 || math.IsNaN(query.MinSimilarity) {
		return nil, memory.Validation(op, "min similarity must be within [-1, 1], got %v", query.MinSimilarity)
	}
	if !query.Range.Valid() {
		return nil, memory.Validation(op, "time range start is after end")
	}

	qvec, err := s.provider.Embed(ctx, query.Text)
	if err != nil {
		if memory.IsKind(err, memory.KindConfiguration) {
			return nil, err
		}
		return nil, memory.Embedding(op, err)
	}
	if want := s.provider.Dimensions(); len(qvec) != want {
		return nil, memory.DimensionMismatch(op, want, len(qvec))
	}

	candidates, err := s.candidates(ctx, op, query.Tags, query.Range)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []memory.Result{}, nil
	}

	ids, err := s.shortlist(ctx, qvec, query.MinSimilarity, candidates)
	if err != nil {
		return nil, err
	}

	mems, err := s.load(ctx, op, ids)
	if err != nil {
		return nil, err
	}

	results := make([]memory.Result, 0, len(mems))
	for _, m := range mems {
		sim, err := Cosine(qvec, m.Embedding)
		if err != nil {
			return nil, memory.DimensionMismatch(op, len(qvec), len(m.Embedding)).WithContext("memory_id", m.ID)
		}
		if sim < query.MinSimilarity {
			continue
		}
		results = append(results, memory.Result{Memory: m, Similarity: sim})
	}

	Rank(results)
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// candidates returns the ids allowed by the tag and time filters. With tags,
// a memory qualifies when it carries at least one of them.
func (s *Store) candidates(ctx context.Context, op string, tags []string, r *memory.TimeRange) (map[string]struct{}, error) {
	by := scoreRange(r)

	keys := []string{s.timelineKey()}
	if len(tags) > 0 {
		keys = keys[:0]
		seen := make(map[string]struct{}, len(tags))
		for _, tag := range tags {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			keys = append(keys, s.tagKey(tag))
		}
	}

	cmds := make([]*redis.StringSliceCmd, 0, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds = append(cmds, pipe.ZRangeByScore(ctx, key, by))
		}
		return nil
	})
	if err != nil {
		return nil, memory.Unavailable(op, err)
	}

	out := make(map[string]struct{})
	for _, cmd := range cmds {
		for _, id := range cmd.Val() {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// shortlist picks which candidate records to load. Without an index every
// candidate is loaded. With one, indexed candidates scoring clearly below
// minSim are skipped; candidates the index has not seen are always loaded.
func (s *Store) shortlist(ctx context.Context, qvec []float32, minSim float64, candidates map[string]struct{}) ([]string, error) {
	ids := make([]string, 0, len(candidates))

	if s.index == nil || s.index.Len() == 0 || norm(qvec) == 0 {
		for id := range candidates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	}

	hits, err := s.index.Query(ctx, qvec, minSim-indexSlack)
	if err != nil {
		s.logger.Warn("index query failed, scanning all candidates", "error", err)
		for id := range candidates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	}

	for id := range candidates {
		if _, ok := hits[id]; ok || !s.index.Contains(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Rank orders results by similarity descending, then newer first, then id.
func Rank(results []memory.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Memory.CreatedAt != b.Memory.CreatedAt {
			return a.Memory.CreatedAt > b.Memory.CreatedAt
		}
		return a.Memory.ID < b.Memory.ID
	})
}
