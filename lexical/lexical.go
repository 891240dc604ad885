// Package lexical provides the small text analysis shared by importance
// scoring, tag extraction and the local embedding provider.
//
// Text is lower-cased and split into word tokens on anything that is not a
// letter, digit or in-word apostrophe. Matching is done on whole tokens and
// token sequences, so "my" never matches inside "mystery".
package lexical

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Doc is a pre-analysed conversational exchange. Rules receive a Doc so the
// text is tokenized once per call regardless of how many rules run.
type Doc struct {
	// User is the raw user text.
	User string

	// Agent is the raw agent text.
	Agent string

	// UserWords are the user text tokens in order.
	UserWords []string

	// Words are the user tokens followed by the agent tokens.
	Words []string

	userSet map[string]struct{}
	allSet  map[string]struct{}
	userSeq string
	allSeq  string
}

// Analyze tokenizes an exchange.
func Analyze(user, agent string) Doc {
	uw := Tokenize(user)
	aw := Tokenize(agent)

	all := make([]string, 0, len(uw)+len(aw))
	all = append(all, uw...)
	all = append(all, aw...)

	return Doc{
		User:      user,
		Agent:     agent,
		UserWords: uw,
		Words:     all,
		userSet:   toSet(uw),
		allSet:    toSet(all),
		userSeq:   " " + strings.Join(uw, " ") + " ",
		allSeq:    " " + strings.Join(uw, " ") + " | " + strings.Join(aw, " ") + " ",
	}
}

// Length returns the combined rune count of both texts.
func (d Doc) Length() int {
	return utf8.RuneCountInString(d.User) + utf8.RuneCountInString(d.Agent)
}

// UserHasAny reports whether the user text contains any of the terms.
// Multi-word terms are matched as contiguous token sequences.
func (d Doc) UserHasAny(terms ...string) bool {
	return hasAny(d.userSet, d.userSeq, terms)
}

// HasAny reports whether either text contains any of the terms.
func (d Doc) HasAny(terms ...string) bool {
	return hasAny(d.allSet, d.allSeq, terms)
}

// UserStartsWithAny reports whether the first user token is one of words.
func (d Doc) UserStartsWithAny(words ...string) bool {
	if len(d.UserWords) == 0 {
		return false
	}
	first := d.UserWords[0]
	for _, w := range words {
		if first == w {
			return true
		}
	}
	return false
}

// Lower returns both texts lower-cased and joined by a newline.
func (d Doc) Lower() string {
	return strings.ToLower(d.User + "\n" + d.Agent)
}

func hasAny(set map[string]struct{}, seq string, terms []string) bool {
	for _, term := range terms {
		if strings.IndexByte(term, ' ') >= 0 {
			if strings.Contains(seq, " "+term+" ") {
				return true
			}
			continue
		}
		if _, ok := set[term]; ok {
			return true
		}
	}
	return false
}

// Tokenize lower-cases text and splits it into word tokens.
func Tokenize(text string) []string {
	var (
		tokens []string
		b      strings.Builder
	)

	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := strings.Trim(b.String(), "'")
		if tok != "" {
			tokens = append(tokens, tok)
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			if b.Len() > 0 {
				b.WriteRune('\'')
			}
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// ContentWords tokenizes text and drops stopwords and single-character tokens.
func ContentWords(text string) []string {
	toks := Tokenize(text)
	out := toks[:0]
	for _, t := range toks {
		if utf8.RuneCountInString(t) < 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

var stopwords = toSet([]string{
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by", "do", "does",
	"for", "from", "had", "has", "have", "he", "her", "his", "i", "i'm", "if",
	"in", "into", "is", "it", "it's", "its", "me", "my", "of", "on", "or", "our",
	"she", "so", "than", "that", "the", "their", "them", "then", "there", "these",
	"they", "this", "to", "too", "us", "was", "we", "were", "what", "which",
	"who", "will", "with", "you", "your",
})
