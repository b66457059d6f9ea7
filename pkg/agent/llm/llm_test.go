package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(
				func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
					calls = append(calls, name)
					return next.Complete(ctx, req)
				},
				next.Stream,
				next.GetModelName,
			)
		}
	}
	base := WrapClient(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			calls = append(calls, "base")
			return CompletionResponse{Content: "ok"}, nil
		},
		nil,
		func() string { return "base-model" },
	)

	client := Chain(base, tag("outer"), tag("inner"))
	resp, err := client.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, []string{"outer", "inner", "base"}, calls)
	assert.Equal(t, "base-model", client.GetModelName())
}

func TestNewCompletionRequestDefaults(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewSystemMessage("s"), NewUserMessage("u"), NewAssistantMessage("a")})
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, TemperatureDefault, req.Temperature, 1e-6)
	assert.Equal(t, RoleAssistant, req.Messages[2].Role)
}

func TestCollect(t *testing.T) {
	ch := make(chan StreamChunk, 4)
	ch <- StreamChunk{Content: "Hel"}
	ch <- StreamChunk{Content: "lo"}
	ch <- StreamChunk{Done: true}
	close(ch)

	var pieces []string
	text, err := Collect(context.Background(), ch, func(s string) { pieces = append(pieces, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, pieces)
}

func TestCollectError(t *testing.T) {
	boom := errors.New("boom")
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Content: "partial"}
	ch <- StreamChunk{Error: boom}

	text, err := Collect(context.Background(), ch, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
}
