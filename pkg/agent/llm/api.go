// Package llm defines the request/response contract shared by every backend.
package llm

import (
	"context"
	"strings"

	"figflow/pkg/tools"
)

// CompletionRole is the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens caps a single response.
	DefaultMaxTokens = 8192
	// TemperatureDefault is used when an endpoint does not set one.
	TemperatureDefault = 0.7
	// TemperatureDeterministic is used for scheduling decisions.
	TemperatureDeterministic = 0.0
)

// CompletionMessage is one message of a request.
type CompletionMessage struct {
	Role    CompletionRole
	Content string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// CompletionRequest is a backend-neutral generation request.
//
//nolint:govet // fieldalignment: value semantics preferred
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
}

// CompletionResponse is a backend-neutral generation result.
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// LLMClient is implemented by every backend adapter and by the router.
type LLMClient interface { //nolint:revive // established name
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)
	GetModelName() string
}

// NewCompletionRequest creates a request with default limits.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// Collect drains a stream, calling onChunk for each non-empty piece, and returns the full text.
func Collect(ctx context.Context, stream <-chan StreamChunk, onChunk func(string)) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return b.String(), nil
			}
			if chunk.Error != nil {
				return b.String(), chunk.Error
			}
			if chunk.Content != "" {
				b.WriteString(chunk.Content)
				if onChunk != nil {
					onChunk(chunk.Content)
				}
			}
			if chunk.Done {
				return b.String(), nil
			}
		}
	}
}
