package openai

import (
	"time"

	"github.com/google/uuid"
)

const (
	objectChatCompletion = "chat.completion"
	objectChunk          = "chat.completion.chunk"

	// FinishStop is the finish reason reported for assembled responses.
	FinishStop = "stop"
)

// NewCompletionID mints a fresh response identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// NewCompletion builds a consolidated non-streaming response around the
// assembled assistant content. Usage is zero-valued: the vendor does not
// report token counts.
func NewCompletion(model, content string) ChatCompletion {
	return ChatCompletion{
		ID:      NewCompletionID(),
		Object:  objectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index: 0,
			Message: Message{
				Role:    RoleAssistant,
				Content: content,
			},
			FinishReason: FinishStop,
		}},
		Usage: Usage{},
	}
}

// NewChunk builds one streamed chunk. All chunks of a response share the id
// minted when the stream opened; finish is nil on every chunk but the last.
func NewChunk(id, model, delta string, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      id,
		Object:  objectChunk,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        Delta{Content: delta},
			FinishReason: finish,
		}},
	}
}
