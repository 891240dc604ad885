// Package tagging derives categorical labels from a conversational exchange.
//
// An Extractor holds an ordered list of rules. Every rule whose predicate
// matches contributes its tag once; the result is sorted so the same input
// always yields the same tag set in the same order.
package tagging

import (
	"sort"

	"github.com/zero-day-ai/tiermem/lexical"
)

// Predicate decides whether a rule applies to an exchange.
type Predicate func(d lexical.Doc) bool

// Rule pairs a tag with the predicate that earns it.
type Rule struct {
	Tag   string
	Match Predicate
}

// Extractor extracts tags from exchanges.
type Extractor struct {
	rules []Rule
}

// NewExtractor creates an Extractor over rules. With no rules it uses
// DefaultRules. Use WithDefaults to extend the built-in set.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// WithDefaults returns DefaultRules followed by extra.
func WithDefaults(extra ...Rule) []Rule {
	return append(DefaultRules(), extra...)
}

// Extract returns the sorted, de-duplicated tags matching an exchange.
func (e *Extractor) Extract(userText, agentText string) []string {
	return e.ExtractDoc(lexical.Analyze(userText, agentText))
}

// ExtractDoc extracts tags from an already analysed exchange.
func (e *Extractor) ExtractDoc(d lexical.Doc) []string {
	seen := make(map[string]struct{}, len(e.rules))
	tags := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		if _, dup := seen[r.Tag]; dup {
			continue
		}
		if r.Match(d) {
			seen[r.Tag] = struct{}{}
			tags = append(tags, r.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// Tags lists every tag the extractor can produce, sorted.
func (e *Extractor) Tags() []string {
	seen := make(map[string]struct{}, len(e.rules))
	var tags []string
	for _, r := range e.rules {
		if _, dup := seen[r.Tag]; !dup {
			seen[r.Tag] = struct{}{}
			tags = append(tags, r.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}
