package tagging

import (
	"strings"

	"github.com/zero-day-ai/tiermem/lexical"
)

// Built-in tags.
const (
	TagWork       = "work"
	TagPlanning   = "planning"
	TagEmotional  = "emotional"
	TagPersonal   = "personal"
	TagLocation   = "location"
	TagProfession = "profession"
	TagFamily     = "family"
	TagHealth     = "health"
	TagPreference = "preference"
	TagQuestion   = "question"
)

var (
	workTerms = []string{
		"work", "works", "working", "job", "office", "boss", "meeting", "meetings",
		"project", "deadline", "colleague", "colleagues", "coworker", "client",
		"clients", "salary", "promotion",
	}

	planningTerms = []string{
		"plan", "plans", "planning", "schedule", "tomorrow", "next week",
		"next month", "next year", "goal", "goals", "going to", "remind me",
		"trip", "appointment", "agenda", "todo",
	}

	emotionalTerms = []string{
		"feel", "feeling", "felt", "happy", "sad", "angry", "upset", "excited",
		"worried", "anxious", "nervous", "scared", "afraid", "lonely", "stressed",
		"depressed", "proud", "grateful", "frustrated", "disappointed", "thrilled",
	}

	selfTerms = []string{"i", "i'm", "i've", "my", "me", "myself", "mine"}

	personalTerms = []string{
		"live", "lives", "living", "born", "name", "birthday", "age", "married",
		"work", "job", "family", "hobby", "favorite", "favourite", "pet",
	}

	locationTerms = []string{
		"live in", "lives in", "living in", "moved to", "move to", "born in",
		"hometown", "city", "country", "neighborhood", "neighbourhood", "address",
		"travel", "visit", "visiting",
	}

	professionTerms = []string{
		"work as", "working as", "job", "profession", "occupation", "career",
		"engineer", "developer", "programmer", "teacher", "doctor", "nurse",
		"photographer", "designer", "lawyer", "writer", "artist", "manager",
		"student", "accountant", "chef",
	}

	familyTerms = []string{
		"family", "wife", "husband", "partner", "son", "daughter", "kids",
		"children", "mother", "father", "mom", "mum", "dad", "brother", "sister",
		"parents", "grandma", "grandpa", "grandmother", "grandfather",
	}

	healthTerms = []string{
		"health", "sick", "ill", "doctor", "hospital", "pain", "allergic",
		"allergy", "medication", "medicine", "exercise", "sleep", "diet",
		"headache", "therapy", "injury",
	}

	preferenceTerms = []string{
		"prefer", "favorite", "favourite", "like", "likes", "love", "hate",
		"enjoy", "dislike", "rather",
	}

	interrogatives = []string{
		"what", "what's", "why", "how", "when", "where", "who", "which", "can",
		"could", "would", "should", "do", "does", "did", "is", "are",
	}
)

// DefaultRules returns the built-in tag rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Tag: TagWork, Match: anyTerm(workTerms)},
		{Tag: TagPlanning, Match: anyTerm(planningTerms)},
		{Tag: TagEmotional, Match: userTerm(emotionalTerms)},
		{Tag: TagPersonal, Match: personal},
		{Tag: TagLocation, Match: userTerm(locationTerms)},
		{Tag: TagProfession, Match: userTerm(professionTerms)},
		{Tag: TagFamily, Match: userTerm(familyTerms)},
		{Tag: TagHealth, Match: anyTerm(healthTerms)},
		{Tag: TagPreference, Match: userTerm(preferenceTerms)},
		{Tag: TagQuestion, Match: question},
	}
}

func anyTerm(terms []string) Predicate {
	return func(d lexical.Doc) bool { return d.HasAny(terms...) }
}

func userTerm(terms []string) Predicate {
	return func(d lexical.Doc) bool { return d.UserHasAny(terms...) }
}

// personal requires the user to talk about themselves.
func personal(d lexical.Doc) bool {
	return d.UserHasAny(selfTerms...) && d.UserHasAny(personalTerms...)
}

func question(d lexical.Doc) bool {
	return strings.Contains(d.User, "?") || d.UserStartsWithAny(interrogatives...)
}
