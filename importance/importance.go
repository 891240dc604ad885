// Package importance scores the salience of a conversational exchange.
//
// A Scorer evaluates an ordered list of named rules once per call. Each rule
// returns a signal in [0,1] that is multiplied by its weight; the weighted
// sum is clamped to [0,1]. Scoring is pure: identical inputs always produce
// the identical float, so promotion can be retried safely.
package importance

import (
	"math"

	"github.com/zero-day-ai/tiermem/lexical"
)

// Signal measures one property of an exchange, returning a value in [0,1].
type Signal func(d lexical.Doc) float64

// Rule is a named, weighted signal.
type Rule struct {
	Name   string
	Weight float64
	Signal Signal
}

// Scorer computes importance scores.
type Scorer struct {
	rules []Rule
}

// NewScorer creates a Scorer over rules. With no rules it uses DefaultRules.
func NewScorer(rules ...Rule) *Scorer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scorer{rules: rules}
}

// Score returns the clamped weighted sum of all rule signals.
func (s *Scorer) Score(userText, agentText string) float64 {
	return s.ScoreDoc(lexical.Analyze(userText, agentText))
}

// ScoreDoc scores an already analysed exchange.
func (s *Scorer) ScoreDoc(d lexical.Doc) float64 {
	var sum float64
	for _, r := range s.rules {
		sum += r.Weight * clamp(r.Signal(d))
	}
	return round(clamp(sum))
}

// Explain returns each rule's weighted contribution, keyed by rule name.
func (s *Scorer) Explain(userText, agentText string) map[string]float64 {
	d := lexical.Analyze(userText, agentText)
	out := make(map[string]float64, len(s.rules))
	for _, r := range s.rules {
		out[r.Name] = r.Weight * clamp(r.Signal(d))
	}
	return out
}

// Rules returns a copy of the scorer's rules.
func (s *Scorer) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// round trims float noise from the weighted sum so equal rule hits always
// compare equal.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
