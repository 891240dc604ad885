// Package health checks the dependencies of a memory engine: the Redis
// backing store, the embedding provider and the core fact backend.
//
// Checks return a Status instead of an error. Combine folds named checks
// into one report whose status is the worst of its components:
//
//	report := health.Combine(map[string]health.Status{
//	    "redis":     health.RedisCheck(ctx, client),
//	    "embedding": health.EmbedderCheck(ctx, provider, 384),
//	})
//	if report.IsUnhealthy() {
//	    log.Println(report.Message, report.Details)
//	}
package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tiermem/embedding"
)

// DefaultTimeout bounds a check when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// probeText is embedded by EmbedderCheck.
const probeText = "health check probe"

// Counter is anything that can report its size, such as a memory tier.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// RedisCheck verifies the backing store answers PING. A reply slower than
// half the timeout is reported as degraded.
func RedisCheck(ctx context.Context, client redis.UniversalClient) Status {
	if client == nil {
		return Unhealthy("redis: client not configured", nil)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return Unhealthy("redis: ping failed", map[string]any{"error": err.Error()})
	}
	latency := time.Since(start)

	if deadline, ok := ctx.Deadline(); ok {
		if budget := time.Until(deadline) + latency; latency > budget/2 {
			return Degraded("redis: slow ping", map[string]any{"latency_ms": latency.Milliseconds()})
		}
	}
	return Healthy("redis: ok")
}

// EmbedderCheck embeds a probe text and verifies the vector length. When
// want is zero the provider's own Dimensions is used.
func EmbedderCheck(ctx context.Context, provider embedding.Provider, want int) Status {
	if provider == nil {
		return Unhealthy("embedding: provider not configured", nil)
	}
	if want <= 0 {
		want = provider.Dimensions()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	vec, err := provider.Embed(ctx, probeText)
	if err != nil {
		return Unhealthy("embedding: probe failed", map[string]any{"error": err.Error()})
	}
	if len(vec) != want {
		return Unhealthy(
			fmt.Sprintf("embedding: expected %d dimensions, got %d", want, len(vec)),
			map[string]any{"expected": want, "actual": len(vec)},
		)
	}
	return Healthy(fmt.Sprintf("embedding: ok (%d dimensions)", want))
}

// StoreCheck verifies a store can be read by counting its entries.
func StoreCheck(ctx context.Context, name string, store Counter) Status {
	if store == nil {
		return Unhealthy(name+": not configured", nil)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	n, err := store.Count(ctx)
	if err != nil {
		return Unhealthy(name+": read failed", map[string]any{"error": err.Error()})
	}
	return Status{Status: StatusHealthy, Message: name + ": ok", Details: map[string]any{"count": n}}
}

// Combine reports the worst of the named checks. Details carries every
// component's own status under its name.
func Combine(checks map[string]Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks")
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	worst := Healthy("")
	var failing []string
	details := make(map[string]any, len(checks))
	for _, name := range names {
		c := checks[name]
		details[name] = c
		if c.severity() > 0 {
			failing = append(failing, name)
		}
		if c.severity() > worst.severity() {
			worst = c
		}
	}

	out := Status{Status: worst.Status, Details: details}
	if len(failing) == 0 {
		out.Message = fmt.Sprintf("all %d checks passed", len(checks))
	} else {
		out.Message = fmt.Sprintf("%s: %s", worst.Status, strings.Join(failing, ", "))
	}
	return out
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
