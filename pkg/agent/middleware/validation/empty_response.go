// Package validation retries responses that carry nothing usable.
package validation

import (
	"context"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/logx"
)

// Guidance is appended to the request when the first response was empty.
const Guidance = "Your previous response was empty. Respond with text or call one of the available tools."

// EmptyResponseMiddleware retries once, with guidance, when a response has
// neither text nor tool calls. A second empty response is returned as an
// ErrorTypeEmptyResponse error.
func EmptyResponseMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("empty-response")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				const maxAttempts = 2
				for attempt := 1; attempt <= maxAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // passed through unchanged
					}
					if err == nil && !isEmpty(&resp) {
						return resp, nil
					}
					logger.Warn("empty response from %s (attempt %d/%d)", next.GetModelName(), attempt, maxAttempts)
					if attempt < maxAttempts {
						retry := req
						retry.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...), llm.NewUserMessage(Guidance))
						req = retry
					}
				}
				return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
					"model returned empty responses after guidance")
			},
			next.Stream,
			next.GetModelName,
		)
	}
}

func isEmpty(resp *llm.CompletionResponse) bool {
	if len(resp.ToolCalls) > 0 {
		return false
	}
	for _, r := range resp.Content {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
