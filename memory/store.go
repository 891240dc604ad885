package memory

import (
	"context"
)

// Store provides access to the three-tier memory system.
// Each tier has different characteristics and use cases:
//
//   - Working: a bounded, time-limited recency buffer of raw interactions
//   - Episodic: durable, semantically searchable memories promoted from
//     important interactions
//   - Core: a permanently curated key/value tree of facts
//
// Store implementations are responsible for wiring the tiers to their
// backing stores. No lock is held across tiers.
type Store interface {
	// Working returns the working memory tier.
	Working() WorkingMemory

	// Episodic returns the episodic memory tier.
	Episodic() EpisodicMemory

	// Core returns the core fact tier.
	Core() CoreMemory
}

// WorkingMemory is a bounded recency buffer. It never holds more than its
// configured maximum and never returns an entry older than its TTL.
//
// Example:
//
//	working := store.Working()
//	err := working.Push(ctx, interaction)
//	recent, err := working.Recent(ctx, 10)
type WorkingMemory interface {
	// Push adds an interaction to the buffer, dropping the oldest entries by
	// creation time beyond the configured maximum.
	Push(ctx context.Context, interaction Interaction) error

	// Recent returns up to limit live entries, newest first.
	Recent(ctx context.Context, limit int) ([]Interaction, error)

	// Clear empties the buffer.
	Clear(ctx context.Context) error

	// Count returns the number of live entries.
	Count(ctx context.Context) (int, error)
}

// SearchQuery describes a semantic search over episodic memory.
type SearchQuery struct {
	// Text is embedded with the configured provider and compared against
	// every candidate memory.
	Text string

	// Limit caps the number of results.
	Limit int

	// MinSimilarity discards results scoring below it.
	MinSimilarity float64

	// Tags, when non-empty, restricts candidates to memories carrying at
	// least one of the tags.
	Tags []string

	// Range, when non-nil, restricts candidates by creation time.
	Range *TimeRange
}

// EpisodicMemory is durable, semantically searchable long-term memory.
//
// Example:
//
//	mem, err := store.Episodic().Promote(ctx, interaction, false)
//	if mem == nil && err == nil {
//	    // importance below the promotion threshold
//	}
//
//	results, err := store.Episodic().Search(ctx, memory.SearchQuery{
//	    Text:          "where does the user live",
//	    Limit:         5,
//	    MinSimilarity: 0.5,
//	})
type EpisodicMemory interface {
	// Promote writes a Memory for the interaction when its importance clears
	// the promotion threshold or force is set. It returns nil, nil when the
	// gate is not met.
	Promote(ctx context.Context, interaction Interaction, force bool) (*Memory, error)

	// Search returns memories ordered by similarity descending, ties broken
	// by more recent creation time first.
	Search(ctx context.Context, query SearchQuery) ([]Result, error)

	// Export returns every memory inside the range, oldest first.
	Export(ctx context.Context, r *TimeRange) ([]Memory, error)

	// Count returns the number of stored memories.
	Count(ctx context.Context) (int, error)
}

// CoreMemory is a hierarchical key/value tree addressed by dot-separated
// key paths such as "preferences.work_time".
//
// Example:
//
//	err := store.Core().Set(ctx, "preferences.work_time", "mornings")
//	value, found, err := store.Core().Get(ctx, "preferences")
//	// value == map[string]any{"work_time": "mornings"}
type CoreMemory interface {
	// Get returns the leaf or subtree at keyPath, or the whole tree when
	// keyPath is empty. found is false when nothing exists at keyPath.
	Get(ctx context.Context, keyPath string) (value any, found bool, err error)

	// Set replaces the subtree at keyPath with value, creating intermediate
	// nodes as needed and leaving siblings untouched.
	Set(ctx context.Context, keyPath string, value any) error

	// Delete removes exactly the subtree at keyPath. It reports whether
	// anything was removed.
	Delete(ctx context.Context, keyPath string) (bool, error)

	// Facts lists the leaves under keyPath, sorted by key path.
	Facts(ctx context.Context, keyPath string) ([]CoreFact, error)

	// Count returns the number of leaves in the tree.
	Count(ctx context.Context) (int, error)
}
