// Package llm wraps a chat-completion and an embeddings endpoint behind a
// stable contract. It carries no business logic.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles understood by chat providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDeclaration advertises a callable tool to the model.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// object produced by the model and is untrusted.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatRequest is the provider-neutral completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []ToolDeclaration
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Content      string
	Tokens       int64
	FinishReason string
	ToolCalls    []ToolCall
}

// Provider is the contract the engine and embedding service depend on.
type Provider interface {
	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streaming completion, calling onFragment for each
	// content delta, and returns the assembled response.
	ChatStream(ctx context.Context, req ChatRequest, onFragment func(string) error) (*ChatResponse, error)

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
