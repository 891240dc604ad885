package tiermem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/embedding"
	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingSink) Publish(_ context.Context, topic string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingSink) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func setupEngine(t *testing.T, opts ...Option) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := []Option{
		WithMeterProvider(noop.NewMeterProvider()),
		WithWorkingRetry(backing.Retry{Attempts: 1}),
		WithEmbedRetry(backing.Retry{Attempts: 2}),
	}
	e := New(client, embedding.NewHashing(0), append(base, opts...)...)
	t.Cleanup(func() { _ = e.Close() })
	return e, mr
}

func TestStoreInteraction_WorkingBufferKeepsNewestTwenty(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	for i := 0; i < 25; i++ {
		_, err := e.StoreInteraction(ctx, fmt.Sprintf("note number %d", i), "ok", false)
		require.NoError(t, err)
	}

	got, err := e.GetWorkingContext(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i, in := range got {
		assert.Equal(t, fmt.Sprintf("note number %d", 24-i), in.UserText)
	}

	def, err := e.GetWorkingContext(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, def, 20)

	few, err := e.GetWorkingContext(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, few, 3)
}

func TestStoreInteraction_ConcurrentCallersKeepCapacity(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	const callers = 60
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.StoreInteraction(ctx, fmt.Sprintf("parallel note %d", i), "ok", false)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := e.GetWorkingContext(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, DefaultContextLimit)

	seen := map[string]bool{}
	for i, in := range got {
		assert.False(t, seen[in.ID], "duplicate interaction %s", in.ID)
		seen[in.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].CreatedAt, in.CreatedAt, "context must be newest first")
		}
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultContextLimit, stats.WorkingCount)
}

func TestStoreInteraction_WorkingEntriesExpire(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e, _ := setupEngine(t, WithClock(clock.Now))

	_, err := e.StoreInteraction(ctx, "first", "ok", false)
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	_, err = e.StoreInteraction(ctx, "second", "ok", false)
	require.NoError(t, err)

	got, err := e.GetWorkingContext(ctx, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].UserText)
}

func TestStoreInteraction_PersonalDisclosureIsRecallable(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	in, err := e.StoreInteraction(ctx, "I live in Melbourne and work as a photographer", "Got it, noted!", false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, in.Importance, 0.5)

	results, err := e.SearchMemories(ctx, "photographer location", WithMinSimilarity(0.3))
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, in.ID, got.Memory.SourceInteractionID)
	assert.Greater(t, got.Similarity, 0.3)
	assert.Subset(t, got.Memory.Tags, []string{"location", "profession"})
}

func TestStoreInteraction_PromotionGate(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	low, err := e.StoreInteraction(ctx, "ok", "sure", false)
	require.NoError(t, err)
	assert.Less(t, low.Importance, 0.5)

	n, err := e.Episodic().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.StoreInteraction(ctx, "ok", "sure", true)
	require.NoError(t, err)

	n, err = e.Episodic().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreInteraction_Validation(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.StoreInteraction(context.Background(), "   ", "reply", false)
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = e.SearchMemories(context.Background(), "")
	assert.ErrorIs(t, err, memory.ErrValidation)

	err = e.SetCoreFact(context.Background(), "a..b", 1)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestStoreInteraction_StoreUnavailable(t *testing.T) {
	e, mr := setupEngine(t)
	mr.Close()

	_, err := e.StoreInteraction(context.Background(), "hello there", "hi", false)
	assert.ErrorIs(t, err, memory.ErrStoreUnavailable)
}

type mismatchedProvider struct{}

func (mismatchedProvider) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (mismatchedProvider) Dimensions() int { return 8 }

func TestStoreInteraction_DimensionMismatchIsHardError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := New(client, mismatchedProvider{}, WithMeterProvider(noop.NewMeterProvider()))

	in, err := e.StoreInteraction(ctx, "I decided to move to Lisbon", "Exciting!", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
	require.NotNil(t, in, "interaction is returned so promotion can be retried")

	working, err := e.GetWorkingContext(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, working, 1)

	n, err := e.Episodic().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type flakyProvider struct {
	embedding.Provider
	failures atomic.Int32
}

func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("model loading")
	}
	return f.Provider.Embed(ctx, text)
}

func TestPromote_RetryAfterEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := &flakyProvider{Provider: embedding.NewHashing(64)}
	p.failures.Store(1)
	e := New(client, p,
		WithMeterProvider(noop.NewMeterProvider()),
		WithEmbedRetry(backing.Retry{Attempts: 1}),
	)

	in, err := e.StoreInteraction(ctx, "I'm worried about my sister", "That sounds hard", true)
	require.ErrorIs(t, err, memory.ErrEmbedding)
	require.NotNil(t, in)

	first, err := e.Promote(ctx, *in, true)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.Promote(ctx, *in, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Embedding, second.Embedding)

	n, err := e.Episodic().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchMemories_Filters(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e, _ := setupEngine(t, WithClock(clock.Now))

	_, err := e.StoreInteraction(ctx, "I feel worried about my sister and my family", "I'm sorry", true)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	cutoff := clock.Now()
	_, err = e.StoreInteraction(ctx, "my boss moved the project deadline at work", "Ugh", true)
	require.NoError(t, err)

	all, err := e.SearchMemories(ctx, "my family and my work", WithMinSimilarity(-1), WithLimit(10))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].Similarity, all[1].Similarity)

	family, err := e.SearchMemories(ctx, "my family and my work", WithMinSimilarity(-1), WithTags("family"))
	require.NoError(t, err)
	require.Len(t, family, 1)
	assert.Contains(t, family[0].Memory.Tags, "family")

	recent, err := e.SearchMemories(ctx, "my family and my work", WithMinSimilarity(-1), WithTimeRange(memory.Since(cutoff)))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Memory.Tags, "work")

	exported, err := e.ExportMemories(ctx, nil)
	require.NoError(t, err)
	require.Len(t, exported, 2)
	assert.Less(t, exported[0].CreatedAt, exported[1].CreatedAt)
}

func TestCoreFacts(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	require.NoError(t, e.SetCoreFact(ctx, "a.b.d", "kept"))
	require.NoError(t, e.SetCoreFact(ctx, "a.b.c", 42))

	v, found, err := e.GetCoreFact(ctx, "a.b.c")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(42), v)

	deleted, err := e.DeleteCoreFact(ctx, "a.b.c")
	require.NoError(t, err)
	assert.True(t, deleted)

	v, found, err = e.GetCoreFact(ctx, "a.b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"d": "kept"}, v)

	_, found, err = e.GetCoreFact(ctx, "a.b.c")
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = e.DeleteCoreFact(ctx, "a.b.c")
	require.NoError(t, err)
	assert.False(t, deleted)

	tree, found, err := e.GetCoreFact(ctx, "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"d": "kept"}}}, tree)
}

func TestSetCoreFact_ConcurrentSiblings(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- e.SetCoreFact(ctx, fmt.Sprintf("a.b.c%d", i), i)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < writers; i++ {
		v, found, err := e.GetCoreFact(ctx, fmt.Sprintf("a.b.c%d", i))
		require.NoError(t, err)
		require.True(t, found, "a.b.c%d lost", i)
		assert.Equal(t, float64(i), v)
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, stats.CoreFactCount)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e, _ := setupEngine(t, WithSink(sink))

	_, err := e.StoreInteraction(ctx, "I live in Melbourne and work as a photographer", "Got it, noted!", false)
	require.NoError(t, err)
	_, err = e.StoreInteraction(ctx, "ok", "sure", false)
	require.NoError(t, err)
	require.NoError(t, e.SetCoreFact(ctx, "profile.city", "Melbourne"))
	_, err = e.DeleteCoreFact(ctx, "profile.missing")
	require.NoError(t, err)
	_, err = e.DeleteCoreFact(ctx, "profile.city")
	require.NoError(t, err)
	require.NoError(t, e.ClearWorking(ctx))
	_, err = e.Consolidate(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		event.TopicWorkingStored,
		event.TopicMemoryPromoted,
		event.TopicWorkingStored,
		event.TopicCoreFactSet,
		event.TopicCoreFactDeleted,
		event.TopicWorkingCleared,
		event.TopicConsolidated,
	}, sink.Topics())
}

func TestEvents_SinkFailureNeverFailsOperation(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	failing := event.SinkFunc(func(context.Context, string, []byte) error {
		calls.Add(1)
		return errors.New("broker unreachable")
	})
	e, _ := setupEngine(t, WithSink(failing))

	_, err := e.StoreInteraction(ctx, "I decided to quit my job", "Big step", false)
	require.NoError(t, err)
	require.NoError(t, e.SetCoreFact(ctx, "x", true))
	_, err = e.DeleteCoreFact(ctx, "x")
	require.NoError(t, err)

	v, found, err := e.GetCoreFact(ctx, "x")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
	assert.Positive(t, calls.Load())
}

func TestConsolidate_Repeatable(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)

	for _, text := range []string{
		"I live in Melbourne and work as a photographer",
		"I'm worried about my sister",
		"I feel so happy about my new job",
	} {
		_, err := e.StoreInteraction(ctx, text, "Noted", true)
		require.NoError(t, err)
	}

	first, err := e.Consolidate(ctx)
	require.NoError(t, err)
	second, err := e.Consolidate(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Considered)
	assert.NotEmpty(t, first.Tags)
	assert.Equal(t, first.Tags, second.Tags)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t, WithNamespace("alice"), WithWorkingLimits(5, 10*time.Minute))

	_, err := e.StoreInteraction(ctx, "I live in Melbourne and work as a photographer", "Got it", false)
	require.NoError(t, err)
	require.NoError(t, e.SetCoreFact(ctx, "profile", map[string]any{"city": "Melbourne", "job": "photographer"}))

	s, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.WorkingCount)
	assert.Equal(t, 1, s.EpisodicCount)
	assert.Equal(t, 2, s.CoreFactCount)

	assert.Equal(t, "alice", s.Config.Namespace)
	assert.Equal(t, 5, s.Config.WorkingMaxEntries)
	assert.Equal(t, 600.0, s.Config.WorkingTTLSeconds)
	assert.Equal(t, 0.5, s.Config.PromoteThreshold)
	assert.Equal(t, embedding.DefaultDimensions, s.Config.EmbeddingDimensions)
	assert.Equal(t, DefaultSearchLimit, s.Config.SearchLimit)
	assert.Equal(t, DefaultMinSimilarity, s.Config.MinSimilarity)
	assert.False(t, s.Config.VectorIndex)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	alice := New(client, embedding.NewHashing(0), WithNamespace("alice"))
	bob := New(client, embedding.NewHashing(0), WithNamespace("bob"))

	_, err := alice.StoreInteraction(ctx, "hello from alice", "hi", false)
	require.NoError(t, err)
	require.NoError(t, alice.SetCoreFact(ctx, "name", "Alice"))

	got, err := bob.GetWorkingContext(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, found, err := bob.GetCoreFact(ctx, "name")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHealth(t *testing.T) {
	e, mr := setupEngine(t)

	status := e.Health(context.Background())
	assert.True(t, status.IsHealthy(), status.Message)
	assert.Contains(t, status.Details, "redis")
	assert.Contains(t, status.Details, "embedding")
	assert.Contains(t, status.Details, "core")

	mr.Close()
	status = e.Health(context.Background())
	assert.True(t, status.IsUnhealthy())
	assert.Contains(t, status.Message, "redis")
}

func TestTelemetry_Spans(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(ctx)

	e, _ := setupEngine(t, WithTracerProvider(tp))

	_, err := e.StoreInteraction(ctx, "hello", "hi", false)
	require.NoError(t, err)
	_, err = e.StoreInteraction(ctx, "", "hi", false)
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "tiermem.store_interaction", spans[0].Name())
	assert.Equal(t, "Ok", spans[0].Status().Code.String())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
	assert.NotEmpty(t, spans[1].Events(), "error is recorded on the span")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClose(t *testing.T) {
	e, _ := setupEngine(t)

	var order []string
	e.closers = append(e.closers,
		closerFunc(func() error { order = append(order, "first"); return nil }),
		closerFunc(func() error { order = append(order, "second"); return errors.New("boom") }),
	)

	assert.EqualError(t, e.Close(), "boom")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, e.Close(), "second close is a no-op")
}
