package modelclient

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one turn of conversation history sent to a backend.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
}

// ToolSchema advertises one callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage counts tokens consumed by one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized result of one model call.
type Response struct {
	Role      Role       `json:"role_used"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	Usage     Usage      `json:"usage"`
	Latency   time.Duration
}

// Options tunes a single call. Zero values fall back to role configuration.
type Options struct {
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client is the request/response contract consumed by the orchestrator.
// Respond is the only entry point for output that will be parsed or
// validated; Stream exists solely for text headed straight to a human and
// must never feed a parser (partial streams are not parseable).
type Client interface {
	Respond(ctx context.Context, role Role, history []Message, opts Options) (*Response, error)
	Stream(ctx context.Context, role Role, history []Message, opts Options) (<-chan string, <-chan error)
}
