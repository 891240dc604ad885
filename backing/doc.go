// Package backing holds the Redis plumbing shared by the memory tiers:
// connection setup, key namespacing and bounded retry for store writes.
//
// Every tier receives a redis.UniversalClient and a Keyspace so several
// engines can share one Redis without their keys colliding:
//
//	client, err := backing.NewRedisClient(ctx, backing.RedisOptions{
//	    URL: "redis://localhost:6379/0",
//	})
//	keys := backing.NewKeyspace("assistant-42")
//	keys.Key("working", "interactions") // "assistant-42:working:interactions"
package backing
