// Package timeout bounds how long a single LLM request may run.
package timeout

import (
	"context"
	"time"

	"figflow/pkg/agent/llm"
)

// Middleware gives each request its own deadline. A zero duration disables it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()
				return next.Complete(timeoutCtx, req)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				in, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}
				// The deadline must outlive this call, so it is released once the stream drains.
				out := make(chan llm.StreamChunk, cap(in))
				go func() {
					defer cancel()
					defer close(out)
					for chunk := range in {
						out <- chunk
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
