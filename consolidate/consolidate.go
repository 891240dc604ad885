// Package consolidate aggregates recent episodic memories into per-tag
// statistics.
//
// Consolidation only reads. It works on whatever snapshot the episodic store
// returns, so it may run concurrently with promotions.
package consolidate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/memory"
)

// Defaults for a Consolidator.
const (
	DefaultWindow     = 7 * 24 * time.Hour
	DefaultMaxEntries = 500

	// Untagged groups memories that carry no tags.
	Untagged = "untagged"
)

// Source supplies the memories to consolidate, newest first.
type Source interface {
	Recent(ctx context.Context, window time.Duration, max int) ([]memory.Memory, error)
}

// Emitter receives the summary event.
type Emitter interface {
	Emit(ctx context.Context, topic string, data any)
}

// TagSummary holds the statistics for one tag.
type TagSummary struct {
	Tag            string  `json:"tag"`
	Count          int     `json:"count"`
	MeanImportance float64 `json:"mean_importance"`
}

// Summary is the result of one consolidation run.
type Summary struct {
	GeneratedAt   memory.Timestamp `json:"generated_at"`
	WindowSeconds float64          `json:"window_seconds"`
	MaxEntries    int              `json:"max_entries"`
	Considered    int              `json:"considered"`
	Tags          []TagSummary     `json:"tags"`
}

// Tag returns the summary for tag.
func (s *Summary) Tag(tag string) (TagSummary, bool) {
	for _, t := range s.Tags {
		if t.Tag == tag {
			return t, true
		}
	}
	return TagSummary{}, false
}

// Consolidator runs consolidation over a Source.
type Consolidator struct {
	source     Source
	emitter    Emitter
	window     time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithWindow bounds the age of memories considered. Zero or negative keeps
// the default.
func WithWindow(d time.Duration) Option {
	return func(c *Consolidator) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithMaxEntries bounds the number of memories considered.
func WithMaxEntries(n int) Option {
	return func(c *Consolidator) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithEmitter sets where summary events go.
func WithEmitter(e Emitter) Option {
	return func(c *Consolidator) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithClock overrides the time source used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Consolidator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consolidator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Consolidator reading from source.
func New(source Source, opts ...Option) *Consolidator {
	c := &Consolidator{
		source:     source,
		emitter:    event.NewEmitter(nil, nil),
		window:     DefaultWindow,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "consolidate")
	return c
}

// Window returns the configured window.
func (c *Consolidator) Window() time.Duration { return c.window }

// MaxEntries returns the configured entry bound.
func (c *Consolidator) MaxEntries() int { return c.maxEntries }

// Run consolidates the current snapshot and emits memory.consolidated.
func (c *Consolidator) Run(ctx context.Context) (*Summary, error) {
	memories, err := c.source.Recent(ctx, c.window, c.maxEntries)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		GeneratedAt:   memory.FromTime(c.now()),
		WindowSeconds: c.window.Seconds(),
		MaxEntries:    c.maxEntries,
		Considered:    len(memories),
		Tags:          Aggregate(memories),
	}

	c.logger.Debug("consolidation complete",
		"considered", summary.Considered,
		"tags", len(summary.Tags),
	)

	c.emitter.Emit(ctx, event.TopicConsolidated, summary)
	return summary, nil
}

// Aggregate groups memories by tag and returns per-tag statistics sorted by
// tag name. A memory contributes to every tag it carries.
func Aggregate(memories []memory.Memory) []TagSummary {
	type acc struct {
		count int
		sum   float64
	}
	groups := make(map[string]*acc)

	add := func(tag string, importance float64) {
		a, ok := groups[tag]
		if !ok {
			a = &acc{}
			groups[tag] = a
		}
		a.count++
		a.sum += importance
	}

	for _, m := range memories {
		if len(m.Tags) == 0 {
			add(Untagged, m.Importance)
			continue
		}
		for _, tag := range m.Tags {
			add(tag, m.Importance)
		}
	}

	out := make([]TagSummary, 0, len(groups))
	for tag, a := range groups {
		out = append(out, TagSummary{
			Tag:            tag,
			Count:          a.count,
			MeanImportance: a.sum / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
