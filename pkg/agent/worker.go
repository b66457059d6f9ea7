// Package agent provides the pipeline's workers: LLM-backed workers that may
// call tools, and a human proxy that asks the observer for input.
package agent

import (
	"context"
	"errors"

	"figflow/pkg/transcript"
)

// ErrNoReply is returned when a worker produced nothing usable.
var ErrNoReply = errors.New("worker produced no reply")

// Sink receives what a worker produces while it runs.
type Sink interface {
	// Record appends a side-effect turn to the run's transcript and returns it sequenced.
	Record(turn transcript.Turn) transcript.Turn
	// Chunk forwards a piece of streamed output. Delivery is best effort.
	Chunk(source, text string)
}

// Call is one invocation of a worker.
type Call struct {
	Sink    Sink
	RunID   string
	Task    string
	History []transcript.Turn
}

// Worker takes one turn of the pipeline.
type Worker interface {
	Name() string
	Description() string
	// Invoke returns the worker's reply. Tool turns are recorded through
	// call.Sink before Invoke returns.
	Invoke(ctx context.Context, call Call) (transcript.Turn, error)
}

type nopSink struct{}

func (nopSink) Record(turn transcript.Turn) transcript.Turn { return turn }
func (nopSink) Chunk(string, string)                        {}

// NopSink discards everything.
func NopSink() Sink { return nopSink{} }
