// Package anthropic adapts the Anthropic Messages API to llm.LLMClient.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/tools"
)

// Client wraps the Anthropic SDK client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a client for model. SDK retries are disabled; the router owns them.
func NewClient(apiKey, baseURL, model string) llm.LLMClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: anthropic.NewClient(opts...), model: anthropic.Model(model)}
}

// ensureAlternation moves system messages into the system prompt and merges
// consecutive non-assistant messages so roles strictly alternate, starting and
// ending with user.
func ensureAlternation(messages []llm.CompletionMessage) (string, []llm.CompletionMessage, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var (
		systemParts []string
		merged      []llm.CompletionMessage
		pending     []string
	)
	flush := func() {
		if len(pending) > 0 {
			merged = append(merged, llm.NewUserMessage(strings.Join(pending, "\n\n")))
			pending = nil
		}
	}
	for i := range messages {
		msg := messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			flush()
			if len(merged) == 0 {
				// Leading assistant output has no user turn to answer.
				pending = append(pending, "(continuing)")
				flush()
			}
			merged = append(merged, msg)
		default:
			pending = append(pending, msg.Content)
		}
	}
	flush()

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}
	return strings.Join(systemParts, "\n\n"), merged, nil
}

func (c *Client) params(in *llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	system, msgs, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	messages := make([]anthropic.MessageParam, 0, len(msgs))
	for i := range msgs {
		block := anthropic.NewTextBlock(msgs[i].Content)
		if msgs[i].Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
	return params, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := anthropic.ToolInputSchemaParam{Properties: def.InputSchema.PropertiesSchema()}
		if len(def.InputSchema.Required) > 0 {
			schema.Required = def.InputSchema.Required
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.params(&in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic")
	}

	var out llm.CompletionResponse
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			use := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(use.Input, &args); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("failed to parse tool input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: use.ID, Name: use.Name, Parameters: args})
		}
	}
	out.StopReason = string(resp.StopReason)
	return out, nil
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.params(&in)
	if err != nil {
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				ch <- llm.StreamChunk{Content: text.Text}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err)}
			return
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

func (c *Client) GetModelName() string {
	return string(c.model)
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(apiErr.StatusCode, err)
	}
	if status := extractStatusCode(err.Error()); status != 0 {
		return llmerrors.FromStatus(status, err)
	}
	if llmerrors.IsRateLimit(err) || strings.Contains(strings.ToLower(err.Error()), "overloaded") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limited")
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "messages request failed")
}

// extractStatusCode finds an HTTP status embedded in an error message.
func extractStatusCode(msg string) int {
	lower := strings.ToLower(msg)
	for _, pattern := range []string{"status code: ", "status: ", "http "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		rest := lower[idx+len(pattern):]
		if len(rest) < 3 {
			continue
		}
		var code int
		if _, err := fmt.Sscanf(rest[:3], "%d", &code); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}
