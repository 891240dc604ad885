package importance

import (
	"strings"

	"github.com/zero-day-ai/tiermem/lexical"
)

// Rule names used by DefaultRules.
const (
	RuleLength             = "length"
	RuleSelfReference      = "self_reference"
	RulePersonalDisclosure = "personal_disclosure"
	RuleEmotion            = "emotion"
	RuleCommitment         = "commitment"
	RuleQuestion           = "question"
)

// LengthSaturation is the combined rune count at which the length signal
// reaches 1.
const LengthSaturation = 300

var (
	selfReferenceTerms = []string{
		"i", "i'm", "i've", "i'd", "i'll", "me", "my", "mine", "myself",
	}

	personalDisclosureTerms = []string{
		"live", "lives", "living", "moved", "born", "hometown", "work", "works",
		"job", "career", "name", "family", "wife", "husband", "partner", "son",
		"daughter", "kids", "children", "mother", "father", "mom", "dad",
		"brother", "sister", "birthday", "age", "married", "allergic", "favorite",
		"favourite", "prefer", "hobby", "pet", "dog", "cat",
	}

	emotionTerms = []string{
		"feel", "feeling", "felt", "happy", "sad", "angry", "upset", "excited",
		"worried", "anxious", "nervous", "scared", "afraid", "love", "hate",
		"lonely", "stressed", "depressed", "proud", "grateful", "frustrated",
		"disappointed", "thrilled", "miss",
	}

	commitmentTerms = []string{
		"decided", "decide", "will", "i'll", "promise", "commit", "committed",
		"plan to", "planning to", "going to", "gonna", "remind me", "remember",
		"from now on", "never", "always", "must", "deadline",
	}

	interrogatives = []string{
		"what", "what's", "why", "how", "when", "where", "who", "which", "can",
		"could", "would", "should", "do", "does", "did", "is", "are", "will",
	}
)

// DefaultRules returns the built-in scoring rules in evaluation order.
//
//	length               0.15  combined length, saturating at LengthSaturation runes
//	self_reference       0.20  first-person pronoun in the user text
//	personal_disclosure  0.30  personal-fact vocabulary in the user text
//	emotion              0.20  affect vocabulary in the user text
//	commitment           0.20  decision or commitment language in either text
//	question             0.10  question mark or leading interrogative
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleLength, Weight: 0.15, Signal: lengthSignal},
		{Name: RuleSelfReference, Weight: 0.20, Signal: userTerms(selfReferenceTerms)},
		{Name: RulePersonalDisclosure, Weight: 0.30, Signal: userTerms(personalDisclosureTerms)},
		{Name: RuleEmotion, Weight: 0.20, Signal: userTerms(emotionTerms)},
		{Name: RuleCommitment, Weight: 0.20, Signal: anyTerms(commitmentTerms)},
		{Name: RuleQuestion, Weight: 0.10, Signal: questionSignal},
	}
}

func lengthSignal(d lexical.Doc) float64 {
	return float64(d.Length()) / LengthSaturation
}

func userTerms(terms []string) Signal {
	return func(d lexical.Doc) float64 {
		if d.UserHasAny(terms...) {
			return 1
		}
		return 0
	}
}

func anyTerms(terms []string) Signal {
	return func(d lexical.Doc) float64 {
		if d.HasAny(terms...) {
			return 1
		}
		return 0
	}
}

func questionSignal(d lexical.Doc) float64 {
	if strings.Contains(d.User, "?") || d.UserStartsWithAny(interrogatives...) {
		return 1
	}
	return 0
}
