package episodic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/embedding"
	"github.com/zero-day-ai/tiermem/lexical"
	"github.com/zero-day-ai/tiermem/memory"
	"github.com/zero-day-ai/tiermem/tagging"
)

// colorProvider embeds text as counts of the words red, green and blue.
type colorProvider struct {
	calls    atomic.Int32
	failures int32
	dims     int
}

func (p *colorProvider) Embed(_ context.Context, text string) ([]float32, error) {
	n := p.calls.Add(1)
	if n <= p.failures {
		return nil, errors.New("provider overloaded")
	}
	if p.dims != 0 {
		return make([]float32, p.dims), nil
	}
	words := lexical.Tokenize(text)
	vec := make([]float32, 3)
	for _, w := range words {
		switch w {
		case "red":
			vec[0]++
		case "green":
			vec[1]++
		case "blue":
			vec[2]++
		}
	}
	return vec, nil
}

func (p *colorProvider) Dimensions() int { return 3 }

func colorExtractor() *tagging.Extractor {
	return tagging.NewExtractor(
		tagging.Rule{Tag: "warm", Match: func(d lexical.Doc) bool { return d.HasAny("red") }},
		tagging.Rule{Tag: "cool", Match: func(d lexical.Doc) bool { return d.HasAny("green", "blue") }},
	)
}

func newTestStore(t *testing.T, provider embedding.Provider, opts ...Option) (*Store, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{
		WithEmbedRetry(backing.Retry{Attempts: 3, Backoff: time.Millisecond}),
		WithWriteRetry(backing.Retry{Attempts: 2, Backoff: time.Millisecond}),
	}, opts...)

	return New(client, backing.NewKeyspace("test"), provider, opts...), mr, client
}

func in(id, text string, created float64, importance float64) memory.Interaction {
	return memory.Interaction{
		ID:         id,
		UserText:   text,
		CreatedAt:  memory.Timestamp(created),
		Importance: importance,
	}
}

func TestStore_PromoteGate(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, &colorProvider{}, WithExtractor(colorExtractor()))

	mem, err := s.Promote(ctx, in("low", "red", 100, 0.3), false)
	require.NoError(t, err)
	assert.Nil(t, mem)

	mem, err = s.Promote(ctx, in("edge", "red", 100, 0.5), false)
	require.NoError(t, err)
	require.NotNil(t, mem)

	mem, err = s.Promote(ctx, in("forced", "blue", 100, 0.1), true)
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, 0.1, mem.Importance)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_PromoteWritesIndexes(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t, &colorProvider{}, WithExtractor(colorExtractor()))

	mem, err := s.Promote(ctx, memory.Interaction{
		ID:         "i1",
		UserText:   "red and green",
		AgentText:  "nice colors",
		CreatedAt:  1234.5,
		Importance: 0.9,
	}, false)
	require.NoError(t, err)

	assert.Equal(t, MemoryID("test", "i1"), mem.ID)
	assert.Equal(t, "i1", mem.SourceInteractionID)
	assert.Equal(t, "red and green\nnice colors", mem.Content)
	assert.Equal(t, []string{"cool", "warm"}, mem.Tags)
	assert.Equal(t, memory.Timestamp(1234.5), mem.CreatedAt)
	assert.Equal(t, []float32{1, 1, 0}, mem.Embedding)

	assert.True(t, mr.Exists("test:episodic:memory:"+mem.ID))
	for _, key := range []string{"test:episodic:timeline", "test:episodic:tag:warm", "test:episodic:tag:cool"} {
		score, err := mr.ZScore(key, mem.ID)
		require.NoError(t, err, key)
		assert.Equal(t, 1234.5, score)
	}

	again, err := s.Promote(ctx, memory.Interaction{
		ID:         "i1",
		UserText:   "red and green",
		AgentText:  "nice colors",
		CreatedAt:  1234.5,
		Importance: 0.9,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, mem, again, "promotion is idempotent")

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_PromoteRetriesEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		p := &colorProvider{failures: 2}
		s, _, _ := newTestStore(t, p)

		mem, err := s.Promote(ctx, in("i1", "red", 1, 1), false)
		require.NoError(t, err)
		require.NotNil(t, mem)
		assert.Equal(t, int32(3), p.calls.Load())
	})

	t.Run("exhausted", func(t *testing.T) {
		p := &colorProvider{failures: 10}
		s, _, _ := newTestStore(t, p)

		mem, err := s.Promote(ctx, in("i1", "red", 1, 1), false)
		assert.Nil(t, mem)
		assert.ErrorIs(t, err, memory.ErrEmbedding)
		assert.True(t, memory.IsKind(err, memory.KindEmbedding))
		assert.Equal(t, int32(3), p.calls.Load())

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count, "no memory without an embedding")
	})

	t.Run("dimension mismatch is not retried", func(t *testing.T) {
		p := &colorProvider{dims: 5}
		s, _, _ := newTestStore(t, p)

		_, err := s.Promote(ctx, in("i1", "red", 1, 1), false)
		assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
		assert.True(t, memory.IsKind(err, memory.KindConfiguration))
		assert.Equal(t, int32(1), p.calls.Load())
	})
}

func TestStore_PromoteValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, &colorProvider{})

	_, err := s.Promote(ctx, in("", "red", 1, 1), false)
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = s.Promote(ctx, in("i1", "   ", 1, 1), true)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func seedColors(t *testing.T, s *Store) map[string]string {
	t.Helper()
	ctx := context.Background()

	ids := map[string]string{}
	for _, tc := range []struct {
		name    string
		text    string
		created float64
	}{
		{"red-old", "red", 100},
		{"red-new", "red", 200},
		{"red-green", "red green", 300},
		{"blue", "blue", 400},
	} {
		mem, err := s.Promote(ctx, in(tc.name, tc.text, tc.created, 1), false)
		require.NoError(t, err)
		ids[mem.ID] = tc.name
	}
	return ids
}

func names(ids map[string]string, results []memory.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = ids[r.Memory.ID]
	}
	return out
}

func TestStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, &colorProvider{}, WithExtractor(colorExtractor()))
	ids := seedColors(t, s)

	results, err := s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 10, MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"red-new", "red-old", "red-green"}, names(ids, results))
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 1/1.4142135623730951, results[2].Similarity, 1e-6)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}

	results, err = s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 1, MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"red-new"}, names(ids, results))

	results, err = s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 10, MinSimilarity: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"red-new", "red-old", "red-green", "blue"}, names(ids, results))
}

func TestStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, &colorProvider{}, WithExtractor(colorExtractor()))
	ids := seedColors(t, s)

	t.Run("tags intersect", func(t *testing.T) {
		results, err := s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 10, MinSimilarity: -1, Tags: []string{"cool"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"red-green", "blue"}, names(ids, results))
		for _, r := range results {
			assert.True(t, r.Memory.HasAnyTag("cool"))
		}
	})

	t.Run("tag union", func(t *testing.T) {
		results, err := s.Search(ctx, memory.SearchQuery{Text: "blue", Limit: 10, MinSimilarity: -1, Tags: []string{"cool", "warm", "cool"}})
		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("unknown tag", func(t *testing.T) {
		results, err := s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 10, Tags: []string{"nope"}})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("time range inclusive", func(t *testing.T) {
		start, end := memory.Timestamp(200), memory.Timestamp(300)
		results, err := s.Search(ctx, memory.SearchQuery{
			Text:          "red",
			Limit:         10,
			MinSimilarity: -1,
			Range:         &memory.TimeRange{Start: &start, End: &end},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"red-new", "red-green"}, names(ids, results))
	})

	t.Run("tags and range", func(t *testing.T) {
		start := memory.Timestamp(350)
		results, err := s.Search(ctx, memory.SearchQuery{
			Text:          "red",
			Limit:         10,
			MinSimilarity: -1,
			Tags:          []string{"cool"},
			Range:         &memory.TimeRange{Start: &start},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"blue"}, names(ids, results))
	})
}

func TestStore_SearchValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, &colorProvider{})

	start, end := memory.Timestamp(2), memory.Timestamp(1)
	for name, q := range map[string]memory.SearchQuery{
		"empty text":    {Text: " ", Limit: 5},
		"zero limit":    {Text: "red"},
		"min too large": {Text: "red", Limit: 5, MinSimilarity: 1.5},
		"bad range":     {Text: "red", Limit: 5, Range: &memory.TimeRange{Start: &start, End: &end}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(ctx, q)
			assert.ErrorIs(t, err, memory.ErrValidation)
		})
	}
}

func TestStore_SearchEmptyStore(t *testing.T) {
	s, _, _ := newTestStore(t, &colorProvider{})
	results, err := s.Search(context.Background(), memory.SearchQuery{Text: "red", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_PersonalDisclosureRecall(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, embedding.NewHashing(384))

	mem, err := s.Promote(ctx, memory.Interaction{
		ID:         "i1",
		UserText:   "I live in Melbourne and work as a photographer",
		AgentText:  "Got it, noted!",
		CreatedAt:  memory.FromTime(time.Now()),
		Importance: 0.53,
	}, false)
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Contains(t, mem.Tags, tagging.TagLocation)
	assert.Contains(t, mem.Tags, tagging.TagProfession)

	results, err := s.Search(ctx, memory.SearchQuery{Text: "photographer location", Limit: 5, MinSimilarity: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, mem.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Similarity, 0.3)
}

func TestStore_ExportAndRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s, _, _ := newTestStore(t, &colorProvider{}, WithClock(func() time.Time { return now }))

	for i, created := range []float64{600, 100, 900} {
		_, err := s.Promote(ctx, in(fmt.Sprintf("i%d", i), "red", created, 1), false)
		require.NoError(t, err)
	}

	all, err := s.Export(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []memory.Timestamp{100, 600, 900}, createdAt(all))

	start := memory.Timestamp(500)
	ranged, err := s.Export(ctx, &memory.TimeRange{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, []memory.Timestamp{600, 900}, createdAt(ranged))

	recent, err := s.Recent(ctx, 500*time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, []memory.Timestamp{900, 600}, createdAt(recent))

	recent, err = s.Recent(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []memory.Timestamp{900}, createdAt(recent))

	_, err = s.Recent(ctx, time.Hour, 0)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestStore(t, &colorProvider{})
	mr.Close()

	_, err := s.Promote(ctx, in("i1", "red", 1, 1), false)
	assert.ErrorIs(t, err, memory.ErrStoreUnavailable)

	_, err = s.Search(ctx, memory.SearchQuery{Text: "red", Limit: 5})
	assert.ErrorIs(t, err, memory.ErrStoreUnavailable)

	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, memory.ErrStoreUnavailable)
}

func TestStore_IndexMatchesLinearScan(t *testing.T) {
	ctx := context.Background()
	provider := embedding.NewHashing(128)

	linear, _, client := newTestStore(t, provider)
	texts := []string{
		"I moved to Berlin last spring for a design job",
		"My sister is getting married in June",
		"I feel anxious about the product launch deadline",
		"Remind me to call the dentist tomorrow",
		"I prefer tea over coffee in the mornings",
		"The Berlin office is near the river",
	}
	for i, text := range texts {
		_, err := linear.Promote(ctx, in(fmt.Sprintf("i%d", i), text, float64(100+i), 1), false)
		require.NoError(t, err)
	}

	idx, err := NewChromemIndex("")
	require.NoError(t, err)
	indexed := New(client, backing.NewKeyspace("test"), provider, WithIndex(idx))

	queries := []memory.SearchQuery{
		{Text: "Berlin design job", Limit: 3, MinSimilarity: 0.1},
		{Text: "tea mornings", Limit: 5, MinSimilarity: 0},
		{Text: "deadline anxious launch", Limit: 2, MinSimilarity: 0.2, Tags: []string{tagging.TagEmotional}},
	}

	check := func() {
		for _, q := range queries {
			want, err := linear.Search(ctx, q)
			require.NoError(t, err)
			got, err := indexed.Search(ctx, q)
			require.NoError(t, err)
			require.Equal(t, len(want), len(got), q.Text)
			for i := range want {
				assert.Equal(t, want[i].Memory.ID, got[i].Memory.ID, q.Text)
				assert.Equal(t, want[i].Similarity, got[i].Similarity, q.Text)
			}
		}
	}

	check()

	n, err := indexed.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(texts), n)
	assert.Equal(t, len(texts), idx.Len())

	check()
}

func TestCosine(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-12)

	sim, err = Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	sim, err = Cosine([]float32{1, 0}, []float32{-2, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-12)

	sim, err = Cosine([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestContent(t *testing.T) {
	assert.Equal(t, "hello", Content(memory.Interaction{UserText: " hello ", AgentText: "  "}))
	assert.Equal(t, "a\nb", Content(memory.Interaction{UserText: "a", AgentText: "b"}))
	assert.Equal(t, "a\nb\nx y", EmbeddingText("a\nb", []string{"x", "y"}))
	assert.NotEqual(t, MemoryID("ns1", "i1"), MemoryID("ns2", "i1"))
	assert.Equal(t, MemoryID("ns1", "i1"), MemoryID("ns1", "i1"))
	assert.False(t, strings.Contains(MemoryID("ns1", "i1"), "i1"))
}

func createdAt(ms []memory.Memory) []memory.Timestamp {
	out := make([]memory.Timestamp, len(ms))
	for i, m := range ms {
		out[i] = m.CreatedAt
	}
	return out
}
