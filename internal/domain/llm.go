package domain

import "context"

// Message is a chat message sent to a structured LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports provider-side token counts when available.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FieldSchema constrains a single field of a structured response.
type FieldSchema struct {
	Type     string   `json:"type"` // "string" or "number"
	Enum     []string `json:"enum,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty"`
	Required bool     `json:"required"`
}

// ObjectSchema is the declared shape of a structured LLM response.
// Responses that fail validation surface as typed errors, never as raw
// strings parsed ad hoc by the caller.
type ObjectSchema struct {
	Name   string                 `json:"name"`
	Fields map[string]FieldSchema `json:"fields"`
}

// GeneratedObject is a schema-validated LLM response.
type GeneratedObject struct {
	Object map[string]any `json:"object"`
	Usage  *TokenUsage    `json:"usage,omitempty"`
}

// StructuredLLM is the chat-completion capability the core consumes.
// Temperature must be within [0.1, 0.3]; implementations clamp it.
type StructuredLLM interface {
	GenerateObject(ctx context.Context, schema ObjectSchema, messages []Message, temperature float64) (*GeneratedObject, error)
}
