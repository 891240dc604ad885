// Package tiermem is a tiered memory engine for conversational agents.
//
// An Engine keeps three tiers over one Redis deployment:
//
//   - Working memory: the last 20 interactions, each visible for one hour.
//   - Episodic memory: interactions whose importance score reaches 0.5 (or
//     that were explicitly forced), stored with an embedding and tags and
//     recalled by cosine similarity.
//   - Core memory: a tree of curated facts addressed by dot-separated key
//     paths such as "profile.location.city".
//
// Every mutation publishes a JSON event to an event.Sink after it succeeds.
// Sink failures are logged and never fail the mutation.
//
// # Getting Started
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	engine := tiermem.New(client, embedding.NewHashing(0))
//	defer engine.Close()
//
//	in, err := engine.StoreInteraction(ctx,
//		"I live in Melbourne and work as a photographer",
//		"Got it, noted!",
//		false,
//	)
//
//	results, err := engine.SearchMemories(ctx, "photographer location",
//		tiermem.WithMinSimilarity(0.3),
//	)
//
//	err = engine.SetCoreFact(ctx, "profile.location.city", "Melbourne")
//	city, found, err := engine.GetCoreFact(ctx, "profile.location.city")
//
// # Configuration
//
// Open builds an engine from a tiermem.yaml file loaded with config.Load,
// including the embedding provider, the core fact backend (Redis or etcd),
// the event sinks (log, Redis pub/sub, Kafka) and custom CEL tag rules.
//
// # Errors
//
// Failures are *memory.Error values. Use errors.Is with memory.ErrValidation,
// memory.ErrStoreUnavailable, memory.ErrEmbedding or
// memory.ErrDimensionMismatch to classify them. Absence is never an error:
// a missing fact is reported through the found result, and an interaction
// below the promotion threshold simply yields no memory.
//
// # Observability
//
// Each operation runs in a span named tiermem.<operation> and is counted by
// the tiermem.operations and tiermem.operation.duration metrics.
package tiermem
