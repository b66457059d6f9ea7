// Package metrics records LLM request metrics.
package metrics

import (
	"context"
	"time"
)

type labelsKey struct{}

// Labels identifies who issued a request.
type Labels struct {
	RunID  string
	Worker string
}

// WithLabels attaches request labels to ctx.
func WithLabels(ctx context.Context, runID, worker string) context.Context {
	return context.WithValue(ctx, labelsKey{}, Labels{RunID: runID, Worker: worker})
}

// LabelsFrom returns the labels attached to ctx, if any.
func LabelsFrom(ctx context.Context) Labels {
	if l, ok := ctx.Value(labelsKey{}).(Labels); ok {
		return l
	}
	return Labels{}
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, endpoint string,
		labels Labels,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle counts a rate-limit event on an endpoint.
	IncThrottle(endpoint, reason string)

	// ObserveQueueWait records time spent waiting for an endpoint to cool down.
	ObserveQueueWait(endpoint string, duration time.Duration)
}

type nopRecorder struct{}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return nopRecorder{}
}

func (nopRecorder) ObserveRequest(_, _ string, _ Labels, _, _ int, _ bool, _ string, _ time.Duration) {
}

func (nopRecorder) IncThrottle(_, _ string) {}

func (nopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}
