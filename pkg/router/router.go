// Package router sends generation requests across an ordered pool of backend
// endpoints, sidelining rate-limited endpoints for a cooldown period.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/agent/middleware/metrics"
	"figflow/pkg/logx"
	"figflow/pkg/utils"
)

var (
	// ErrNoEndpoints is returned when the router has nothing to route to.
	ErrNoEndpoints = errors.New("no endpoints available")
	// ErrAllRateLimited is returned when the post-wait retry is rate limited too.
	ErrAllRateLimited = errors.New("all endpoints rate limited")
	// ErrNoCapableEndpoint is returned when no endpoint supports what the request needs.
	ErrNoCapableEndpoint = errors.New("no endpoint supports the request")

	errExhausted = errors.New("every endpoint rate limited or cooling down")
)

// Default durations.
const (
	DefaultCooldown  = 60 * time.Second
	DefaultRetryWait = 10 * time.Second
)

// Capabilities describe what an endpoint's model supports.
type Capabilities struct {
	ToolCalls        bool
	StructuredOutput bool
	Vision           bool
}

// Endpoint is one backend. It is immutable once handed to the router.
type Endpoint struct {
	Client       llm.LLMClient
	Name         string
	Capabilities Capabilities
}

// Options configures a Router. Zero values select defaults.
type Options struct {
	Clock     Clock
	Recorder  metrics.Recorder
	Logger    *logx.Logger
	Cooldown  time.Duration
	RetryWait time.Duration
}

// Usage is aggregate token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	Requests         int `json:"requests"`
}

// Router implements llm.LLMClient over a pool of endpoints.
//
// Requests are serialized: only one is in flight at a time, so the cooldown
// map and preferred index only change under callMu.
type Router struct {
	clock     Clock
	recorder  metrics.Recorder
	logger    *logx.Logger
	cooldowns map[int]time.Time
	endpoints []Endpoint
	usage     []Usage
	cooldown  time.Duration
	retryWait time.Duration
	preferred int
	callMu    sync.Mutex
	mu        sync.Mutex
}

// New creates a router over endpoints, tried in order.
func New(endpoints []Endpoint, opts Options) (*Router, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for i := range endpoints {
		if endpoints[i].Client == nil {
			return nil, fmt.Errorf("endpoint %d (%s) has no client", i, endpoints[i].Name)
		}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("router")
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = DefaultRetryWait
	}
	return &Router{
		endpoints: append([]Endpoint(nil), endpoints...),
		usage:     make([]Usage, len(endpoints)),
		cooldowns: make(map[int]time.Time),
		clock:     opts.Clock,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		cooldown:  opts.Cooldown,
		retryWait: opts.RetryWait,
	}, nil
}

// capable reports whether endpoint i can serve req.
func (r *Router) capable(i int, req *llm.CompletionRequest) bool {
	return len(req.Tools) == 0 || r.endpoints[i].Capabilities.ToolCalls
}

// coolingLocked reports whether endpoint i is excluded at now; expired entries are pruned.
func (r *Router) coolingLocked(i int, now time.Time) bool {
	until, ok := r.cooldowns[i]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(r.cooldowns, i)
	return false
}

// Complete sends req to the preferred endpoint, falling through the pool on
// rate limits. Only a non-rate-limit failure or an exhausted post-wait retry
// is returned as an error.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (r *Router) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	resp, err := r.scan(ctx, &req)
	if !errors.Is(err, errExhausted) {
		return resp, err
	}

	first := r.firstCapable(&req)
	if first < 0 {
		return llm.CompletionResponse{}, fmt.Errorf("%w: tool calls required", ErrNoCapableEndpoint)
	}

	r.logger.Warn("all %d endpoints are rate limited or cooling down, waiting %s", len(r.endpoints), r.retryWait)
	waitStart := r.clock.Now()
	if err := sleep(ctx, r.clock, r.retryWait); err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("waiting for endpoints: %w", err)
	}
	r.recorder.ObserveQueueWait(r.endpoints[first].Name, r.clock.Now().Sub(waitStart))

	r.mu.Lock()
	clear(r.cooldowns)
	r.preferred = 0
	r.mu.Unlock()

	resp, err = r.try(ctx, first, &req)
	switch {
	case err == nil:
		return resp, nil
	case llmerrors.IsRateLimit(err):
		r.markCooling(first, err)
		return llm.CompletionResponse{}, fmt.Errorf("%w: %w", ErrAllRateLimited, err)
	default:
		return llm.CompletionResponse{}, err
	}
}

// scan tries each eligible endpoint once, starting from the preferred one. It
// returns errExhausted when every endpoint was rate limited or cooling down.
func (r *Router) scan(ctx context.Context, req *llm.CompletionRequest) (llm.CompletionResponse, error) {
	r.mu.Lock()
	start := r.preferred
	r.mu.Unlock()

	n := len(r.endpoints)
	for k := 0; k < n; k++ {
		idx := (start + k) % n
		if !r.capable(idx, req) {
			continue
		}
		r.mu.Lock()
		cooling := r.coolingLocked(idx, r.clock.Now())
		r.mu.Unlock()
		if cooling {
			logx.Debug(ctx, "router", "skipping %s: cooling down", r.endpoints[idx].Name)
			continue
		}

		resp, err := r.try(ctx, idx, req)
		if err == nil {
			return resp, nil
		}
		if !llmerrors.IsRateLimit(err) {
			r.logger.Error("endpoint %s failed: %v", r.endpoints[idx].Name, err)
			return llm.CompletionResponse{}, err
		}
		r.markCooling(idx, err)
	}
	return llm.CompletionResponse{}, errExhausted
}

// try calls endpoint idx and records success.
func (r *Router) try(ctx context.Context, idx int, req *llm.CompletionRequest) (llm.CompletionResponse, error) {
	resp, err := r.endpoints[idx].Client.Complete(ctx, *req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	prompt := 0
	for i := range req.Messages {
		prompt += utils.CountTokensSimple(req.Messages[i].Content)
	}
	r.mu.Lock()
	if r.preferred != idx {
		r.logger.Info("switching preferred endpoint to %s", r.endpoints[idx].Name)
	}
	r.preferred = idx
	u := &r.usage[idx]
	u.Requests++
	u.PromptTokens += prompt
	u.CompletionTokens += utils.CountTokensSimple(resp.Content)
	r.mu.Unlock()
	return resp, nil
}

func (r *Router) markCooling(idx int, cause error) {
	name := r.endpoints[idx].Name
	r.logger.Warn("endpoint %s rate limited, cooling down for %s: %v", name, r.cooldown, cause)
	r.recorder.IncThrottle(name, "rate_limit")
	r.mu.Lock()
	r.cooldowns[idx] = r.clock.Now().Add(r.cooldown)
	r.mu.Unlock()
}

func (r *Router) firstCapable(req *llm.CompletionRequest) int {
	for i := range r.endpoints {
		if r.capable(i, req) {
			return i
		}
	}
	return -1
}

// Stream targets only the preferred endpoint; a stream is never moved to
// another endpoint once started. A rate-limited stream setup still puts the
// endpoint on cooldown so the next Complete skips it.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (r *Router) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	r.mu.Lock()
	idx := r.preferred
	r.mu.Unlock()

	ch, err := r.endpoints[idx].Client.Stream(ctx, req)
	if err != nil && llmerrors.IsRateLimit(err) {
		r.markCooling(idx, err)
	}
	return ch, err
}

// GetModelName returns the preferred endpoint's model.
func (r *Router) GetModelName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[r.preferred].Client.GetModelName()
}

// Preferred returns the index of the endpoint that last succeeded.
func (r *Router) Preferred() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preferred
}

// Cooling reports whether endpoint idx is currently excluded.
func (r *Router) Cooling(idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coolingLocked(idx, r.clock.Now())
}

// EndpointState is the reported state of one endpoint.
type EndpointState string

const (
	StateActive  EndpointState = "active"
	StateStandby EndpointState = "standby"
	StateCooling EndpointState = "cooling"
)

// EndpointStatus describes one endpoint for observers.
type EndpointStatus struct {
	Name             string        `json:"name"`
	Model            string        `json:"model"`
	State            EndpointState `json:"state"`
	Capabilities     Capabilities  `json:"capabilities"`
	Usage            Usage         `json:"usage"`
	Index            int           `json:"index"`
	RemainingSeconds int           `json:"remaining_seconds,omitempty"`
}

// Status reports every endpoint as active, standby, or cooling.
func (r *Router) Status() []EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]EndpointStatus, len(r.endpoints))
	for i := range r.endpoints {
		st := EndpointStatus{
			Index:        i,
			Name:         r.endpoints[i].Name,
			Model:        r.endpoints[i].Client.GetModelName(),
			Capabilities: r.endpoints[i].Capabilities,
			Usage:        r.usage[i],
			State:        StateStandby,
		}
		if i == r.preferred {
			st.State = StateActive
		}
		if until, ok := r.cooldowns[i]; ok && now.Before(until) {
			st.State = StateCooling
			st.RemainingSeconds = int(until.Sub(now).Seconds())
		}
		out[i] = st
	}
	return out
}

// Usage aggregates token usage across all endpoints.
func (r *Router) Usage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Usage
	for _, u := range r.usage {
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.Requests += u.Requests
	}
	return total
}
