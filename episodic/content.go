package episodic

import (
	"strings"

	"github.com/google/uuid"

	"github.com/zero-day-ai/tiermem/memory"
)

// idSpace is the UUID namespace memory ids are derived in.
var idSpace = uuid.MustParse("6f1c2a8e-4d3b-5e7a-9c10-2b8f4e6d1a35")

// MemoryID returns the deterministic id of the memory promoted from the
// interaction with the given id.
func MemoryID(namespace, interactionID string) string {
	return uuid.NewSHA1(idSpace, []byte(namespace+"\x00"+interactionID)).String()
}

// Content derives the recall text stored for an interaction.
func Content(in memory.Interaction) string {
	user := strings.TrimSpace(in.UserText)
	agent := strings.TrimSpace(in.AgentText)
	if agent == "" {
		return user
	}
	return user + "\n" + agent
}

// EmbeddingText is the text embedded for a memory. Tags are appended so a
// query naming a category lands near memories labelled with it.
func EmbeddingText(content string, tags []string) string {
	if len(tags) == 0 {
		return content
	}
	return content + "\n" + strings.Join(tags, " ")
}
