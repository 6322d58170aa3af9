// Package convert maps OpenAI-style message lists onto the vendor's
// message schema.
package convert

import (
	"chatrelay/internal/openai"
	"chatrelay/internal/upstream"
)

// DefaultSystemPrompt is sent when the client supplies no leading system
// message; the vendor expects the field to be populated.
const DefaultSystemPrompt = "markdown"

// Messages converts an ordered OpenAI message list into vendor messages
// plus the extracted system instruction.
//
// Only a leading system message becomes the system instruction; user and
// assistant turns are forwarded, and any other role (including a system
// message that is not first) is dropped. Total: never fails.
func Messages(msgs []openai.Message) ([]upstream.Message, string) {
	system := DefaultSystemPrompt
	rest := msgs
	if len(msgs) > 0 && msgs[0].Role == openai.RoleSystem {
		system = msgs[0].Content
		rest = msgs[1:]
	}

	out := make([]upstream.Message, 0, len(rest))
	for _, m := range rest {
		switch m.Role {
		case openai.RoleUser, openai.RoleAssistant:
			out = append(out, upstream.Message{
				Author:  m.Role,
				Content: upstream.Content{Text: m.Content},
			})
		}
	}
	return out, system
}
