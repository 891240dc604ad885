package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/embedding"
)

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if status := RedisCheck(context.Background(), client); !status.IsHealthy() {
		t.Errorf("expected healthy, got %s: %s", status.Status, status.Message)
	}

	mr.Close()
	status := RedisCheck(context.Background(), client)
	if !status.IsUnhealthy() {
		t.Errorf("expected unhealthy after shutdown, got %s", status.Status)
	}
	if status.Details["error"] == nil {
		t.Error("expected error detail")
	}

	if status := RedisCheck(context.Background(), nil); !status.IsUnhealthy() {
		t.Errorf("expected unhealthy for nil client, got %s", status.Status)
	}
}

type stubProvider struct {
	dims int
	vec  []float32
	err  error
}

func (s stubProvider) Embed(context.Context, string) ([]float32, error) { return s.vec, s.err }
func (s stubProvider) Dimensions() int                                  { return s.dims }

func TestEmbedderCheck(t *testing.T) {
	tests := []struct {
		name          string
		provider      embedding.Provider
		want          int
		expectHealthy bool
	}{
		{name: "hashing provider", provider: embedding.NewHashing(32), expectHealthy: true},
		{name: "explicit dimensions", provider: embedding.NewHashing(32), want: 32, expectHealthy: true},
		{name: "configured dimensions differ", provider: embedding.NewHashing(32), want: 64},
		{name: "provider error", provider: stubProvider{dims: 2, err: errors.New("model not loaded")}},
		{name: "short vector", provider: stubProvider{dims: 3, vec: []float32{1, 0}}},
		{name: "nil provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := EmbedderCheck(context.Background(), tt.provider, tt.want)
			if status.IsHealthy() != tt.expectHealthy {
				t.Errorf("expected healthy=%v, got %s: %s", tt.expectHealthy, status.Status, status.Message)
			}
		})
	}
}

type stubCounter struct {
	n   int
	err error
}

func (s stubCounter) Count(context.Context) (int, error) { return s.n, s.err }

func TestStoreCheck(t *testing.T) {
	status := StoreCheck(context.Background(), "core", stubCounter{n: 3})
	if !status.IsHealthy() || status.Details["count"] != 3 {
		t.Errorf("expected healthy with count 3, got %+v", status)
	}

	status = StoreCheck(context.Background(), "core", stubCounter{err: errors.New("etcdserver: request timed out")})
	if !status.IsUnhealthy() || status.Message != "core: read failed" {
		t.Errorf("expected unhealthy read failure, got %+v", status)
	}

	if status := StoreCheck(context.Background(), "core", nil); !status.IsUnhealthy() {
		t.Errorf("expected unhealthy for nil store, got %s", status.Status)
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   string
	}{
		{name: "no checks", want: StatusHealthy},
		{name: "all healthy", checks: map[string]Status{"a": Healthy("a"), "b": Healthy("b")}, want: StatusHealthy},
		{name: "one degraded", checks: map[string]Status{"a": Healthy("a"), "b": Degraded("b", nil)}, want: StatusDegraded},
		{name: "unhealthy wins", checks: map[string]Status{"a": Degraded("a", nil), "b": Unhealthy("b", nil), "c": Healthy("c")}, want: StatusUnhealthy},
		{name: "unknown status counts as unhealthy", checks: map[string]Status{"a": {Status: "exploded"}}, want: "exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.checks)
			if got.Status != tt.want {
				t.Errorf("expected %s, got %s: %s", tt.want, got.Status, got.Message)
			}
		})
	}
}

func TestCombineDetails(t *testing.T) {
	got := Combine(map[string]Status{
		"redis":     Unhealthy("redis: ping failed", nil),
		"embedding": Degraded("embedding: slow", nil),
		"core":      Healthy("core: ok"),
	})

	if got.Message != "unhealthy: embedding, redis" {
		t.Errorf("unexpected message %q", got.Message)
	}
	redis, ok := got.Details["redis"].(Status)
	if !ok {
		t.Fatalf("expected redis detail to be Status, got %T", got.Details["redis"])
	}
	if redis.Message != "redis: ping failed" {
		t.Errorf("unexpected redis detail %+v", redis)
	}
	if len(got.Details) != 3 {
		t.Errorf("expected 3 component details, got %d", len(got.Details))
	}
}
