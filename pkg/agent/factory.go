package agent

import (
	"context"
	"fmt"

	"figflow/pkg/agent/internal/llmimpl/anthropic"
	"figflow/pkg/agent/internal/llmimpl/google"
	"figflow/pkg/agent/internal/llmimpl/ollama"
	"figflow/pkg/agent/internal/llmimpl/openaiofficial"
	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/middleware/metrics"
	"figflow/pkg/agent/middleware/timeout"
	"figflow/pkg/config"
	"figflow/pkg/logx"
	"figflow/pkg/router"
)

// RawClientFunc builds the unwrapped backend client for an endpoint. Tests
// replace it to avoid network clients.
type RawClientFunc func(ep *config.Endpoint, apiKey string) (llm.LLMClient, error)

// EndpointFactory turns configured endpoints into router endpoints with the
// per-endpoint middleware chain applied.
type EndpointFactory struct {
	recorder metrics.Recorder
	raw      RawClientFunc
	logger   *logx.Logger
}

// NewEndpointFactory creates a factory. A nil recorder disables metrics.
func NewEndpointFactory(recorder metrics.Recorder) *EndpointFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &EndpointFactory{recorder: recorder, raw: NewRawClient, logger: logx.NewLogger("factory")}
}

// WithRawClient overrides backend construction.
func (f *EndpointFactory) WithRawClient(fn RawClientFunc) *EndpointFactory {
	f.raw = fn
	return f
}

// NewRawClient creates the SDK-backed client for ep's provider.
func NewRawClient(ep *config.Endpoint, apiKey string) (llm.LLMClient, error) {
	switch ep.Provider {
	case config.ProviderOpenAI:
		return openaiofficial.NewClient(apiKey, ep.BaseURL, ep.Model), nil
	case config.ProviderAnthropic:
		return anthropic.NewClient(apiKey, ep.BaseURL, ep.Model), nil
	case config.ProviderGoogle:
		return google.NewClient(apiKey, ep.BaseURL, ep.Model), nil
	case config.ProviderOllama:
		return ollama.NewClient(ep.BaseURL, ep.Model)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", config.ErrInvalidConfig, ep.Provider)
	}
}

// Endpoints builds one router endpoint per configured endpoint, in order.
// A missing credential is a configuration error.
func (f *EndpointFactory) Endpoints(cfg *config.Config) ([]router.Endpoint, error) {
	out := make([]router.Endpoint, 0, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		apiKey, err := ep.ResolveAPIKey()
		if err != nil {
			return nil, err
		}
		raw, err := f.raw(ep, apiKey)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}

		// Metrics -> Defaults -> Timeout -> raw client
		client := llm.Chain(raw,
			metrics.Middleware(f.recorder, nil, ep.Name, f.logger),
			endpointDefaults(ep),
			timeout.Middleware(ep.Timeout()),
		)
		out = append(out, router.Endpoint{
			Client: client,
			Name:   ep.Name,
			Capabilities: router.Capabilities{
				ToolCalls:        ep.SupportsTools(),
				StructuredOutput: ep.StructuredOutput,
				Vision:           ep.Vision,
			},
		})
	}
	return out, nil
}

// NewRouter builds the endpoints of cfg and a router over them.
func (f *EndpointFactory) NewRouter(cfg *config.Config) (*router.Router, error) {
	endpoints, err := f.Endpoints(cfg)
	if err != nil {
		return nil, err
	}
	return router.New(endpoints, router.Options{
		Recorder:  f.recorder,
		Cooldown:  cfg.Router.Cooldown(),
		RetryWait: cfg.Router.RetryWait(),
	})
}

// endpointDefaults applies the endpoint's sampling settings. Requests pinned
// to deterministic temperature keep it.
func endpointDefaults(ep *config.Endpoint) llm.Middleware {
	apply := func(req llm.CompletionRequest) llm.CompletionRequest {
		if ep.Temperature > 0 && req.Temperature != llm.TemperatureDeterministic {
			req.Temperature = float32(ep.Temperature)
		}
		if ep.MaxTokens > 0 && (req.MaxTokens == 0 || req.MaxTokens > ep.MaxTokens) {
			req.MaxTokens = ep.MaxTokens
		}
		return req
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return next.Complete(ctx, apply(req))
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return next.Stream(ctx, apply(req))
			},
			next.GetModelName,
		)
	}
}
