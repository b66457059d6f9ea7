// Package toolloop runs an LLM conversation in which the model may call tools
// before producing its final reply.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"figflow/pkg/agent/llm"
	"figflow/pkg/logx"
	"figflow/pkg/tools"
	"figflow/pkg/transcript"
)

// DefaultMaxIterations bounds the number of model calls in one Run.
const DefaultMaxIterations = 8

// ErrIterationLimit is returned when the model keeps calling tools past MaxIterations.
var ErrIterationLimit = errors.New("tool iteration limit reached")

// ToolProvider resolves the tools a worker may call.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
}

// Config defines one Run.
//
//nolint:govet // fieldalignment: grouped for readability
type Config struct {
	ToolProvider ToolProvider

	// OnToolCall is called once per executed tool with the recorded call,
	// result included.
	OnToolCall func(call transcript.ToolCall)

	Messages      []llm.CompletionMessage
	Tools         []tools.ToolDefinition
	MaxIterations int
	MaxTokens     int
	Temperature   float32

	// AgentID tags log lines.
	AgentID string
}

// Result is the model's final reply.
type Result struct {
	Content    string
	Iterations int
	ToolCalls  int
}

// ToolLoop drives the model/tool exchange.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a ToolLoop.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{llmClient: llmClient, logger: logger}
}

// Run calls the model until it answers without tool calls. Tool results are
// fed back as user messages, since not every backend accepts tool-role messages.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) (Result, error) {
	if cfg.ToolProvider == nil && len(cfg.Tools) > 0 {
		return Result{}, fmt.Errorf("ToolProvider is required when tools are offered")
	}
	if len(cfg.Messages) == 0 {
		return Result{}, fmt.Errorf("at least one message is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}

	messages := append([]llm.CompletionMessage(nil), cfg.Messages...)
	var res Result

	for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
		req := llm.NewCompletionRequest(messages)
		req.Tools = cfg.Tools
		req.MaxTokens = cfg.MaxTokens
		if cfg.Temperature > 0 {
			req.Temperature = cfg.Temperature
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		if err != nil {
			tl.logger.Error("%s: LLM call failed after %.3gs: %v", cfg.AgentID, time.Since(start).Seconds(), err)
			return res, fmt.Errorf("LLM completion failed: %w", err)
		}
		res.Iterations = iteration + 1
		logx.Debug(ctx, "toolloop", "%s: iteration %d, %d chars, %d tool calls",
			cfg.AgentID, res.Iterations, len(resp.Content), len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			res.Content = resp.Content
			return res, nil
		}

		if resp.Content != "" {
			messages = append(messages, llm.NewAssistantMessage(resp.Content))
		}
		for i := range resp.ToolCalls {
			call := tl.execute(ctx, cfg, &resp.ToolCalls[i])
			res.ToolCalls++
			if cfg.OnToolCall != nil {
				cfg.OnToolCall(call)
			}
			messages = append(messages,
				llm.NewAssistantMessage(transcript.Call(transcript.ToolCall{Name: call.Name, Arguments: call.Arguments}).String()),
				llm.NewUserMessage(formatToolResult(&call)))
		}
	}

	tl.logger.Warn("%s: maximum tool iterations (%d) reached", cfg.AgentID, cfg.MaxIterations)
	return res, fmt.Errorf("%w (%d)", ErrIterationLimit, cfg.MaxIterations)
}

func (tl *ToolLoop) execute(ctx context.Context, cfg *Config, tc *llm.ToolCall) transcript.ToolCall {
	call := transcript.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Parameters}

	tool, err := cfg.ToolProvider.Get(tc.Name)
	if err != nil {
		tl.logger.Warn("%s: unknown tool %s", cfg.AgentID, tc.Name)
		call.Result, call.IsError = errorJSON(err), true
		return call
	}

	start := time.Now()
	result, err := tool.Exec(ctx, tc.Parameters)
	switch {
	case err != nil:
		tl.logger.Error("%s: tool %s failed after %.3fs: %v", cfg.AgentID, tc.Name, time.Since(start).Seconds(), err)
		call.Result, call.IsError = errorJSON(err), true
	case result == nil:
		call.Result = "{}"
	default:
		call.Result, call.IsError = result.Content, result.IsError
	}
	return call
}

func errorJSON(err error) string {
	b, mErr := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	if mErr != nil {
		return err.Error()
	}
	return string(b)
}

func formatToolResult(call *transcript.ToolCall) string {
	status := "result"
	if call.IsError {
		status = "error"
	}
	return fmt.Sprintf("Tool %s %s:\n%s", call.Name, status, call.Result)
}
