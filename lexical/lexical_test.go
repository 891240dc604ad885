package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hello, World!", []string{"hello", "world"}},
		{"apostrophes", "I'm sure it’s fine 'quoted'", []string{"i'm", "sure", "it's", "fine", "quoted"}},
		{"digits", "Meet at 9am on day 2", []string{"meet", "at", "9am", "on", "day", "2"}},
		{"empty", "  ...  ", nil},
		{"unicode", "Café déjà-vu", []string{"café", "déjà", "vu"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestContentWords(t *testing.T) {
	got := ContentWords("I live in Melbourne and work as a photographer")
	assert.Equal(t, []string{"live", "melbourne", "work", "photographer"}, got)
}

func TestDoc_Matching(t *testing.T) {
	d := Analyze("What's the mystery of my plan to travel?", "I am going to help you")

	assert.True(t, d.UserHasAny("my"))
	assert.False(t, d.UserHasAny("myst"))
	assert.True(t, d.UserHasAny("plan to"))
	assert.False(t, d.UserHasAny("going to"), "agent text must not leak into user matching")
	assert.True(t, d.HasAny("going to"))
	assert.False(t, d.HasAny("travel help"), "phrases must not span user and agent text")
	assert.True(t, d.UserStartsWithAny("what's", "how"))
	assert.False(t, d.UserStartsWithAny("how"))
}

func TestDoc_Length(t *testing.T) {
	d := Analyze("héllo", "hi")
	assert.Equal(t, 7, d.Length())
}
