package agent

import (
	"context"
	"fmt"
	"strings"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/agent/middleware/metrics"
	"figflow/pkg/agent/middleware/validation"
	"figflow/pkg/agent/toolloop"
	"figflow/pkg/logx"
	"figflow/pkg/tools"
	"figflow/pkg/transcript"
)

// continuePrompt keeps the request ending on a user message when the worker
// itself spoke last.
const continuePrompt = "Continue."

// LLMWorkerConfig configures an LLMWorker.
//
//nolint:govet // fieldalignment: grouped for readability
type LLMWorkerConfig struct {
	Client       llm.LLMClient
	Tools        toolloop.ToolProvider
	Name         string
	Description  string
	SystemPrompt string
	ToolDefs     []tools.ToolDefinition
	MaxToolIter  int
	MaxTokens    int
	Stream       bool
}

// LLMWorker answers through a model, running a tool loop when it has tools.
type LLMWorker struct {
	cfg    LLMWorkerConfig
	loop   *toolloop.ToolLoop
	logger *logx.Logger
}

// NewLLMWorker creates an LLM-backed worker. An empty completion is asked
// for again once, with guidance, as a new routed request.
func NewLLMWorker(cfg LLMWorkerConfig) (*LLMWorker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("worker %s: client is required", cfg.Name)
	}
	if len(cfg.ToolDefs) > 0 && cfg.Tools == nil {
		return nil, fmt.Errorf("worker %s: tool definitions given without a tool provider", cfg.Name)
	}
	logger := logx.NewLogger(cfg.Name)
	cfg.Client = llm.Chain(cfg.Client, validation.EmptyResponseMiddleware(logger))
	return &LLMWorker{cfg: cfg, loop: toolloop.New(cfg.Client, logger), logger: logger}, nil
}

func (w *LLMWorker) Name() string        { return w.cfg.Name }
func (w *LLMWorker) Description() string { return w.cfg.Description }

// Invoke builds the conversation from the task and history and returns the
// model's final reply.
func (w *LLMWorker) Invoke(ctx context.Context, call Call) (transcript.Turn, error) {
	sink := call.Sink
	if sink == nil {
		sink = NopSink()
	}
	ctx = metrics.WithLabels(ctx, call.RunID, w.cfg.Name)
	messages := w.messages(call)

	var (
		content string
		err     error
	)
	switch {
	case len(w.cfg.ToolDefs) > 0:
		content, err = w.runTools(ctx, messages, sink)
	case w.cfg.Stream:
		content, err = w.stream(ctx, messages, sink)
	default:
		content, err = w.complete(ctx, messages)
	}
	if err != nil {
		return transcript.Turn{}, fmt.Errorf("%s: %w", w.cfg.Name, err)
	}
	if strings.TrimSpace(content) == "" {
		return transcript.Turn{}, fmt.Errorf("%s: %w", w.cfg.Name, ErrNoReply)
	}
	return transcript.NewTurn(w.cfg.Name, transcript.TypeAgent, transcript.Text(content)), nil
}

func (w *LLMWorker) runTools(ctx context.Context, messages []llm.CompletionMessage, sink Sink) (string, error) {
	res, err := w.loop.Run(ctx, &toolloop.Config{
		ToolProvider:  w.cfg.Tools,
		Tools:         w.cfg.ToolDefs,
		Messages:      messages,
		MaxIterations: w.cfg.MaxToolIter,
		MaxTokens:     w.cfg.MaxTokens,
		AgentID:       w.cfg.Name,
		OnToolCall: func(tc transcript.ToolCall) {
			sink.Record(transcript.NewTurn(w.cfg.Name, transcript.TypeTool, transcript.Call(tc)))
		},
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (w *LLMWorker) request(messages []llm.CompletionMessage) llm.CompletionRequest {
	req := llm.NewCompletionRequest(messages)
	if w.cfg.MaxTokens > 0 {
		req.MaxTokens = w.cfg.MaxTokens
	}
	return req
}

func (w *LLMWorker) complete(ctx context.Context, messages []llm.CompletionMessage) (string, error) {
	resp, err := w.cfg.Client.Complete(ctx, w.request(messages))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// stream forwards chunks as they arrive. A stream that cannot start because
// its endpoint is rate limited falls back to a routed completion.
func (w *LLMWorker) stream(ctx context.Context, messages []llm.CompletionMessage, sink Sink) (string, error) {
	ch, err := w.cfg.Client.Stream(ctx, w.request(messages))
	if err != nil {
		if llmerrors.IsRateLimit(err) {
			w.logger.Warn("stream rate limited, falling back to completion: %v", err)
			return w.complete(ctx, messages)
		}
		return "", err
	}
	return llm.Collect(ctx, ch, func(text string) { sink.Chunk(w.cfg.Name, text) })
}

// messages renders the history from this worker's point of view: its own
// turns are assistant messages, everything else is labelled user content.
func (w *LLMWorker) messages(call Call) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(call.History)+3)
	if w.cfg.SystemPrompt != "" {
		out = append(out, llm.NewSystemMessage(w.cfg.SystemPrompt))
	}
	if call.Task != "" {
		out = append(out, llm.NewUserMessage(call.Task))
	}
	for i := range call.History {
		t := &call.History[i]
		switch {
		case t.Type == transcript.TypeComplete:
			continue
		case t.Source == w.cfg.Name && t.Type == transcript.TypeAgent:
			out = append(out, llm.NewAssistantMessage(t.Content.String()))
		default:
			out = append(out, llm.NewUserMessage(fmt.Sprintf("[%s] %s", t.Source, t.Content.String())))
		}
	}
	if len(out) == 0 || out[len(out)-1].Role != llm.RoleUser {
		out = append(out, llm.NewUserMessage(continuePrompt))
	}
	return out
}
