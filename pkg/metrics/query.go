// Package metrics queries Prometheus for the LLM usage of finished runs.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunUsage is the token usage of one run, or of one worker within it.
type RunUsage struct {
	RunID            string `json:"run_id"`
	Worker           string `json:"worker,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
	FailedRequests   int64  `json:"failed_requests"`
}

// QueryService reads the llm_* series exported by the metrics middleware.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a query service for the Prometheus server at prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client), now: time.Now}, nil
}

// GetRunUsage sums token and request counters across every worker of a run.
func (q *QueryService) GetRunUsage(ctx context.Context, runID string) (*RunUsage, error) {
	byWorker, err := q.GetRunUsageByWorker(ctx, runID)
	if err != nil {
		return nil, err
	}
	total := &RunUsage{RunID: runID}
	for _, u := range byWorker {
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.Requests += u.Requests
		total.FailedRequests += u.FailedRequests
	}
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
	return total, nil
}

// GetRunUsageByWorker breaks a run's usage down by worker.
func (q *QueryService) GetRunUsageByWorker(ctx context.Context, runID string) (map[string]*RunUsage, error) {
	out := make(map[string]*RunUsage)
	entry := func(worker string) *RunUsage {
		u, ok := out[worker]
		if !ok {
			u = &RunUsage{RunID: runID, Worker: worker}
			out[worker] = u
		}
		return u
	}

	tokens, err := q.vector(ctx, fmt.Sprintf(`sum by (worker, type) (llm_tokens_total{run_id=%q})`, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	for _, s := range tokens {
		u := entry(string(s.Metric["worker"]))
		switch s.Metric["type"] {
		case "prompt":
			u.PromptTokens += int64(s.Value)
		case "completion":
			u.CompletionTokens += int64(s.Value)
		}
	}

	requests, err := q.vector(ctx, fmt.Sprintf(`sum by (worker, status) (llm_requests_total{run_id=%q})`, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	for _, s := range requests {
		u := entry(string(s.Metric["worker"]))
		u.Requests += int64(s.Value)
		if s.Metric["status"] != "success" {
			u.FailedRequests += int64(s.Value)
		}
	}

	for _, u := range out {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return out, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, err
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", result.Type())
	}
	return vector, nil
}
