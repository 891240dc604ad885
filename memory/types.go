package memory

import (
	"encoding/json"
	"math"
	"time"
)

// Timestamp is a point in time expressed as UNIX epoch seconds.
// It is the single time representation used in every stored record and
// every event payload.
type Timestamp float64

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixNano()) / float64(time.Second))
}

// Time converts the Timestamp back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	sec, frac := math.Modf(float64(ts))
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// Add returns the timestamp shifted by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return ts + Timestamp(d.Seconds())
}

// Interaction is one conversational exchange. Interactions are owned by
// working memory until they are evicted by size or TTL.
type Interaction struct {
	// ID is an opaque unique token.
	ID string `json:"id"`

	// UserText is what the user said.
	UserText string `json:"user_text"`

	// AgentText is what the agent replied.
	AgentText string `json:"agent_text"`

	// CreatedAt is when the exchange was recorded.
	CreatedAt Timestamp `json:"created_at"`

	// Importance is the salience score in [0,1] computed at store time.
	Importance float64 `json:"importance"`
}

// Memory is a promoted Interaction held by episodic memory.
// Memories are immutable once written.
type Memory struct {
	ID                  string    `json:"id"`
	SourceInteractionID string    `json:"source_interaction_id"`
	Content             string    `json:"content"`
	Embedding           []float32 `json:"embedding"`
	Importance          float64   `json:"importance"`
	Tags                []string  `json:"tags"`
	CreatedAt           Timestamp `json:"created_at"`
}

// HasAnyTag reports whether the memory carries at least one of the given tags.
func (m *Memory) HasAnyTag(tags ...string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.Embedding != nil {
		c.Embedding = make([]float32, len(m.Embedding))
		copy(c.Embedding, m.Embedding)
	}
	if m.Tags != nil {
		c.Tags = make([]string, len(m.Tags))
		copy(c.Tags, m.Tags)
	}
	return &c
}

// Result is an episodic search hit.
type Result struct {
	Memory Memory `json:"memory"`

	// Similarity is the cosine similarity between the query embedding and
	// the memory embedding.
	Similarity float64 `json:"similarity"`
}

// CoreFact is a single leaf of the core memory tree.
type CoreFact struct {
	KeyPath   string    `json:"key_path"`
	Value     any       `json:"value"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// TimeRange bounds a query by creation time. Both bounds are inclusive and
// either may be nil to leave that side open.
type TimeRange struct {
	Start *Timestamp `json:"start,omitempty"`
	End   *Timestamp `json:"end,omitempty"`
}

// Between returns a closed TimeRange from start to end.
func Between(start, end time.Time) *TimeRange {
	s, e := FromTime(start), FromTime(end)
	return &TimeRange{Start: &s, End: &e}
}

// Since returns a TimeRange open on the right.
func Since(start time.Time) *TimeRange {
	s := FromTime(start)
	return &TimeRange{Start: &s}
}

// Contains reports whether ts falls inside the range. A nil range contains
// every timestamp.
func (r *TimeRange) Contains(ts Timestamp) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && ts < *r.Start {
		return false
	}
	if r.End != nil && ts > *r.End {
		return false
	}
	return true
}

// Valid reports whether the range is well formed.
func (r *TimeRange) Valid() bool {
	if r == nil || r.Start == nil || r.End == nil {
		return true
	}
	return *r.Start <= *r.End
}

// String returns a human-readable representation of the Interaction.
func (i *Interaction) String() string {
	data, _ := json.MarshalIndent(i, "", "  ")
	return string(data)
}
