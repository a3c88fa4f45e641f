package retrieval

import (
	"fmt"
	"strings"
)

// consciousAuthorization is the fixed prefix carried on every
// conscious-mode context block.
const consciousAuthorization = "The user has explicitly authorized this personal context data to be used by the assistant."

// consciousInstruction closes the conscious-mode block.
const consciousInstruction = "Use the information above when answering questions about the user's identity, preferences, or background."

// autoHeader labels the auto-mode bulleted block.
const autoHeader = "Relevant Memory Context"

// PromptBlock renders items into the system-message text injected
// for the given mode. An empty item list renders an empty string so callers can
// skip injection entirely.
func PromptBlock(mode Mode, items []Item) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	switch mode {
	case ModeConscious:
		b.WriteString(consciousAuthorization)
		b.WriteString("\n\n")
		for _, it := range items {
			writeBullet(&b, it)
		}
		b.WriteString("\n")
		b.WriteString(consciousInstruction)
	default:
		b.WriteString(autoHeader)
		b.WriteString(":\n")
		for _, it := range items {
			writeBullet(&b, it)
		}
	}
	return b.String()
}

func writeBullet(b *strings.Builder, it Item) {
	text := it.Summary
	if text == "" {
		text = it.SearchableContent
	}
	fmt.Fprintf(b, "- [%s] %s\n", strings.ToUpper(string(it.Category)), text)
}
