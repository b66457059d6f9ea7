package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/logx"
	"figflow/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor computes token usage for a finished request.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor estimates usage with tiktoken.
//
//nolint:gocritic // signature matches UsageExtractor
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var prompt strings.Builder
	for i := range req.Messages {
		prompt.WriteString(req.Messages[i].Content)
		prompt.WriteByte('\n')
	}
	return utils.CountTokensSimple(prompt.String()), utils.CountTokensSimple(resp.Content)
}

// Middleware records latency, token usage and outcome for every request sent
// through the endpoint named endpoint.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, endpoint string, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}
				labels := LabelsFrom(ctx)
				recorder.ObserveRequest(next.GetModelName(), endpoint, labels,
					promptTokens, completionTokens, err == nil, errorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Debug("LLM request: endpoint=%s model=%s worker=%s tokens=%d+%d status=%s duration=%dms",
						endpoint, next.GetModelName(), labels.Worker, promptTokens, completionTokens, status, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // passed through unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)
				// Only stream setup is measured; tokens are not counted.
				recorder.ObserveRequest(next.GetModelName(), endpoint, LabelsFrom(ctx),
					0, 0, err == nil, errorType(err), time.Since(start))
				return ch, err //nolint:wrapcheck // passed through unchanged
			},
			next.GetModelName,
		)
	}
}

// errorType produces the error_type label.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case llmerrors.IsRateLimit(err):
		return "rate_limit"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
