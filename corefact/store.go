package corefact

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/zero-day-ai/tiermem/memory"
)

// Leaf is the stored form of one fact.
type Leaf struct {
	Value     json.RawMessage  `json:"value"`
	UpdatedAt memory.Timestamp `json:"updated_at"`
}

// Mutation computes a change from the current leaves. It returns the leaf
// keys to delete and the leaves to write.
type Mutation func(current map[string]Leaf) (del []string, put map[string]Leaf, err error)

// Backend persists flattened leaves.
type Backend interface {
	// Load returns every leaf whose key starts with prefix.
	Load(ctx context.Context, prefix string) (map[string]Leaf, error)

	// Apply runs m against a consistent snapshot and commits its result
	// atomically, re-running m when a concurrent writer interferes.
	Apply(ctx context.Context, m Mutation) error

	// Count returns the number of leaves.
	Count(ctx context.Context) (int, error)
}

// Store is a memory.CoreMemory over a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "corefact")
	return s
}

// Get returns the value at keyPath: the decoded value for a leaf, a nested
// map for an interior node, or the whole tree for the empty path. found is
// false when nothing exists at keyPath; the whole tree is always found.
func (s *Store) Get(ctx context.Context, keyPath string) (any, bool, error) {
	const op = "corefact.Get"

	if _, err := ParsePath(op, keyPath); err != nil {
		return nil, false, err
	}

	leaves, err := s.subtree(ctx, op, keyPath)
	if err != nil {
		return nil, false, err
	}

	if leaf, ok := leaves[keyPath]; ok && keyPath != "" {
		v, err := decode(leaf.Value)
		if err != nil {
			return nil, false, memory.Unavailable(op, err).WithContext("key_path", keyPath)
		}
		return v, true, nil
	}

	if len(leaves) == 0 {
		if keyPath == "" {
			return map[string]any{}, true, nil
		}
		return nil, false, nil
	}

	values := make(map[string]any, len(leaves))
	for k, leaf := range leaves {
		v, err := decode(leaf.Value)
		if err != nil {
			return nil, false, memory.Unavailable(op, err).WithContext("key_path", k)
		}
		values[k] = v
	}
	return buildTree(keyPath, values), true, nil
}

// Set replaces the subtree at keyPath with value. Map values are stored as
// one leaf per nested key. Ancestors that held a leaf become interior nodes;
// siblings are untouched.
func (s *Store) Set(ctx context.Context, keyPath string, value any) error {
	const op = "corefact.Set"

	segs, err := ParsePath(op, keyPath)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return memory.Validation(op, "key path is required")
	}

	values, err := flatten(op, keyPath, value)
	if err != nil {
		return err
	}

	ts := memory.FromTime(s.now())
	put := make(map[string]Leaf, len(values))
	for k, v := range values {
		put[k] = Leaf{Value: v, UpdatedAt: ts}
	}

	above := make(map[string]struct{}, len(segs))
	for _, a := range ancestors(segs) {
		above[a] = struct{}{}
	}

	err = s.backend.Apply(ctx, func(current map[string]Leaf) ([]string, map[string]Leaf, error) {
		var del []string
		for k := range current {
			if _, keep := put[k]; keep {
				continue
			}
			_, isAncestor := above[k]
			if isAncestor || covers(keyPath, k) {
				del = append(del, k)
			}
		}
		sort.Strings(del)
		return del, put, nil
	})
	if err != nil {
		return wrap(op, err).WithContext("key_path", keyPath)
	}

	s.logger.Debug("core fact set", "key_path", keyPath, "leaves", len(put))
	return nil
}

// Delete removes the subtree at keyPath and reports whether anything was
// removed.
func (s *Store) Delete(ctx context.Context, keyPath string) (bool, error) {
	const op = "corefact.Delete"

	segs, err := ParsePath(op, keyPath)
	if err != nil {
		return false, err
	}
	if len(segs) == 0 {
		return false, memory.Validation(op, "key path is required")
	}

	removed := 0
	err = s.backend.Apply(ctx, func(current map[string]Leaf) ([]string, map[string]Leaf, error) {
		var del []string
		for k := range current {
			if covers(keyPath, k) {
				del = append(del, k)
			}
		}
		sort.Strings(del)
		removed = len(del)
		return del, nil, nil
	})
	if err != nil {
		return false, wrap(op, err).WithContext("key_path", keyPath)
	}

	if removed > 0 {
		s.logger.Debug("core fact deleted", "key_path", keyPath, "leaves", removed)
	}
	return removed > 0, nil
}

// Facts lists the leaves at or beneath keyPath, sorted by key path.
func (s *Store) Facts(ctx context.Context, keyPath string) ([]memory.CoreFact, error) {
	const op = "corefact.Facts"

	if _, err := ParsePath(op, keyPath); err != nil {
		return nil, err
	}

	leaves, err := s.subtree(ctx, op, keyPath)
	if err != nil {
		return nil, err
	}

	facts := make([]memory.CoreFact, 0, len(leaves))
	for k, leaf := range leaves {
		v, err := decode(leaf.Value)
		if err != nil {
			return nil, memory.Unavailable(op, err).WithContext("key_path", k)
		}
		facts = append(facts, memory.CoreFact{KeyPath: k, Value: v, UpdatedAt: leaf.UpdatedAt})
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].KeyPath < facts[j].KeyPath })
	return facts, nil
}

// Count returns the number of leaves in the tree.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, wrap("corefact.Count", err)
	}
	return n, nil
}

// subtree loads the leaves at or beneath keyPath.
func (s *Store) subtree(ctx context.Context, op, keyPath string) (map[string]Leaf, error) {
	all, err := s.backend.Load(ctx, keyPath)
	if err != nil {
		return nil, wrap(op, err)
	}
	for k := range all {
		if !covers(keyPath, k) {
			delete(all, k)
		}
	}
	return all, nil
}

func decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func wrap(op string, err error) *memory.Error {
	var me *memory.Error
	if errors.As(err, &me) {
		return me
	}
	return memory.Unavailable(op, err)
}

var _ memory.CoreMemory = (*Store)(nil)
