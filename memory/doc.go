// Package memory defines the data model, tier interfaces and error taxonomy
// shared by every part of the tiermem engine.
//
// The memory system is organized into three tiers, each with a different
// lifecycle:
//
//   - Working Memory: a bounded recency buffer of raw interactions. Entries
//     are evicted by count on write and by TTL on read.
//
//   - Episodic Memory: interactions whose importance clears the promotion
//     threshold are tagged, embedded and stored durably. Episodic memory is
//     searched by cosine similarity, optionally narrowed by tags and time.
//
//   - Core Memory: a small, manually curated tree of facts addressed by
//     dot-separated key paths.
//
// # Timestamps
//
// All records use [Timestamp], UNIX epoch seconds as a float64, so payloads
// serialize identically regardless of which tier produced them.
//
// # Errors
//
// Failures are reported as [*Error] values whose Kind maps to one of the
// sentinel errors:
//
//	if errors.Is(err, memory.ErrValidation) {
//	    // caller input was malformed
//	}
//	if errors.Is(err, memory.ErrStoreUnavailable) {
//	    // backing store unreachable after bounded retry
//	}
//
// "Not found" is never an error: lookups return found=false or a nil result.
package memory
