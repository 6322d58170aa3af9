package upstream

import "encoding/json"

// Message authors accepted by the vendor chat endpoint.
const (
	AuthorUser      = "user"
	AuthorAssistant = "assistant"
)

// Content wraps a message's text the way the vendor nests it.
type Content struct {
	Text string `json:"text"`
}

// Message is one conversational turn in the vendor schema. System
// instructions travel out-of-band on ChatRequest, never as a turn.
type Message struct {
	Author  string  `json:"author"`
	Content Content `json:"content"`
}

// ChatRequest is the vendor chat-completion request body. Built once per
// inbound request and discarded after the HTTP call completes.
type ChatRequest struct {
	Model        string            `json:"model"`
	Provider     string            `json:"provider"`
	Messages     []Message         `json:"messages"`
	SystemPrompt string            `json:"system_prompt"`
	Temperature  float64           `json:"temperature"`
	Locale       string            `json:"locale"`
	Source       string            `json:"source"`
	ThreadID     string            `json:"thread_id"`
	Tools        []json.RawMessage `json:"tools"`
	Stream       bool              `json:"stream"`
}

// Model is one entry of the vendor model list.
type Model struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	ModelID    string `json:"model_id"`
	Advanced   bool   `json:"advanced"`
	Deprecated bool   `json:"deprecated"`
}

type modelListResponse struct {
	Models []Model `json:"models"`
}
