// Package google adapts the Gemini API to llm.LLMClient.
package google

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/genai"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/tools"
)

// Client wraps the GenAI client. The underlying client needs a context to
// construct, so it is created on first use.
type Client struct {
	client  *genai.Client
	apiKey  string
	baseURL string
	model   string
	mu      sync.Mutex
}

// NewClient creates a Gemini client for model.
func NewClient(apiKey, baseURL, model string) llm.LLMClient {
	return &Client{apiKey: apiKey, baseURL: baseURL, model: model}
}

func (g *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

// convertMessages maps roles onto Gemini's user/model pair, lifting system
// messages into the system instruction and merging consecutive same-role turns.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}
	var (
		system   []string
		contents []*genai.Content
	)
	for i := range messages {
		msg := &messages[i]
		role := "user"
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
			continue
		case llm.RoleAssistant:
			role = "model"
		}
		part := &genai.Part{Text: msg.Content}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, strings.Join(system, "\n\n"), nil
}

func convertTools(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			for name, nested := range prop.Properties {
				schema.Properties[name] = convertProperty(nested)
			}
		}
	default:
		schema.Type = genai.TypeString
	}
	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

func (g *Client) prepare(ctx context.Context, in *llm.CompletionRequest) (*genai.Client, []*genai.Content, *genai.GenerateContentConfig, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return nil, nil, nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(maxTokens), //nolint:gosec // bounded by config validation
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(in.Tools)}}
	}
	return client, contents, config, nil
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (g *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, contents, config, err := g.prepare(ctx, &in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini")
	}

	out := llm.CompletionResponse{Content: result.Text(), StopReason: stopReason(result)}
	for i, call := range result.FunctionCalls() {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", call.Name, i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: call.Name, Parameters: call.Args})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini")
	}
	return out, nil
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (g *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	client, contents, config, err := g.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		for resp, err := range client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				ch <- llm.StreamChunk{Error: classifyError(err)}
				return
			}
			if text := resp.Text(); text != "" {
				ch <- llm.StreamChunk{Content: text}
			}
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

func (g *Client) GetModelName() string {
	return g.model
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return "unknown"
	}
	switch reason := result.Candidates[0].FinishReason; reason {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return strings.ToLower(string(reason))
	}
}

var apiErrorCode = regexp.MustCompile(`Error (\d{3})`)

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if m := apiErrorCode.FindStringSubmatch(msg); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return llmerrors.FromStatus(code, err)
		}
	}
	if llmerrors.IsRateLimit(err) || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limited")
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Gemini request failed")
}
