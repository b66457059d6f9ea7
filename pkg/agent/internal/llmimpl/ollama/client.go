// Package ollama adapts a local Ollama server to llm.LLMClient.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/tools"
)

// DefaultHost is used when the endpoint has no base URL.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client for model served at hostURL.
func NewClient(hostURL, model string) (llm.LLMClient, error) {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", hostURL, err)
	}
	return &Client{client: api.NewClient(parsed, http.DefaultClient), model: model}, nil
}

func (o *Client) request(in *llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	if len(in.Messages) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{Role: string(in.Messages[i].Role), Content: in.Messages[i].Content})
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}
	return req, nil
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.request(&in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if response.Message.Content == "" && len(response.Message.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	out := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}
	for i := range response.Message.ToolCalls {
		call := &response.Message.ToolCalls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: map[string]any(call.Function.Arguments),
		})
	}
	return out, nil
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.request(&in, true)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case ch <- llm.StreamChunk{Content: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err)}
			return
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

func (o *Client) GetModelName() string {
	return o.model
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]api.ToolProperty, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enum := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enum[i] = v
		}
		out.Enum = enum
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	return out
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmerrors.FromStatus(statusErr.StatusCode, err)
	}

	msg := err.Error()
	switch {
	case llmerrors.IsRateLimit(err):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limited")
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeServiceUnavailable, err, "ollama server not reachable")
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "ollama model not found")
	case strings.Contains(msg, "timeout"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "ollama API error")
	}
}
