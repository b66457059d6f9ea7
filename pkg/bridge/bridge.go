// Package bridge connects a running pipeline to its observers: turns fan out
// to every subscriber, and observers send human input and cancellation back.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"figflow/pkg/logx"
	"figflow/pkg/transcript"
)

var (
	// ErrCancelled is returned by RequestInput when the run is cancelled.
	ErrCancelled = errors.New("run cancelled")
	// ErrInputTimeout is returned when no input arrives in time. It is a cancellation.
	ErrInputTimeout = fmt.Errorf("%w: timed out waiting for input", ErrCancelled)
	// ErrInputPending is returned when an input request is already outstanding.
	ErrInputPending = errors.New("an input request is already pending")
	// ErrBusy is returned by Begin while another run is active.
	ErrBusy = errors.New("a run is already in progress")
)

// DefaultInputTimeout bounds RequestInput.
const DefaultInputTimeout = 10 * time.Minute

// pendingInput is the single-slot rendezvous for one RequestInput call.
type pendingInput struct {
	ch     chan string
	prompt string
}

// Bridge is the publish side and the reverse control channel of a run.
type Bridge struct {
	logger       *logx.Logger
	subs         map[uint64]*Subscription
	pending      *pendingInput
	cancelCh     chan struct{}
	cancelFn     context.CancelFunc
	history      []Event
	queued       []string
	inputTimeout time.Duration
	nextSubID    atomic.Uint64
	cancelled    atomic.Bool
	mu           sync.Mutex // history and subs
	inputMu      sync.Mutex // pending, queued, run state
	running      bool
}

// New creates a bridge. A zero inputTimeout selects DefaultInputTimeout.
func New(inputTimeout time.Duration) *Bridge {
	if inputTimeout <= 0 {
		inputTimeout = DefaultInputTimeout
	}
	return &Bridge{
		logger:       logx.NewLogger("bridge"),
		subs:         make(map[uint64]*Subscription),
		cancelCh:     make(chan struct{}),
		inputTimeout: inputTimeout,
	}
}

// Publish records turn in the durable history and queues it for every
// subscriber. It never blocks on subscribers.
func (b *Bridge) Publish(turn transcript.Turn) transcript.Turn {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := Event{Kind: KindTurn, ID: len(b.history) + 1, Turn: &turn}
	b.history = append(b.history, ev)
	for _, s := range b.subs {
		s.enqueue(ev)
	}
	return turn
}

// PublishChunk forwards a streamed fragment. Late subscribers never see it.
func (b *Bridge) PublishChunk(source, text string) {
	b.broadcast(Event{Kind: KindChunk, Chunk: &Chunk{Source: source, Text: text}})
}

func (b *Bridge) publishStatus() {
	st := b.Status()
	b.broadcast(Event{Kind: KindStatus, Status: &st})
}

func (b *Bridge) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.enqueue(ev)
	}
}

// Subscribe registers an observer. Its queue starts with the full durable
// history followed by the current status, so there is no gap before live events.
func (b *Bridge) Subscribe() *Subscription {
	st := b.Status()
	b.mu.Lock()
	defer b.mu.Unlock()
	backlog := make([]Event, 0, len(b.history)+1)
	backlog = append(backlog, b.history...)
	backlog = append(backlog, Event{Kind: KindStatus, Status: &st})
	s := newSubscription(b, b.nextSubID.Add(1), backlog)
	b.subs[s.id] = s
	logx.Debug(context.Background(), "bridge", "subscriber %d joined with %d durable events", s.id, len(b.history))
	return s
}

// Unsubscribe removes s and closes its channel.
func (b *Bridge) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.shutdown()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bridge) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// History returns every durable turn published so far.
func (b *Bridge) History() []transcript.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transcript.Turn, len(b.history))
	for i := range b.history {
		out[i] = *b.history[i].Turn
	}
	return out
}

// Begin marks a run as started. cancel, if non-nil, is invoked by RequestCancel.
func (b *Bridge) Begin(cancel context.CancelFunc) error {
	b.inputMu.Lock()
	if b.running {
		b.inputMu.Unlock()
		return ErrBusy
	}
	b.running = true
	b.cancelFn = cancel
	b.cancelCh = make(chan struct{})
	b.cancelled.Store(false)
	b.queued = nil
	b.inputMu.Unlock()
	b.publishStatus()
	return nil
}

// End marks the run as finished.
func (b *Bridge) End() {
	b.inputMu.Lock()
	b.running = false
	b.cancelFn = nil
	b.inputMu.Unlock()
	b.publishStatus()
}

// Running reports whether a run is active.
func (b *Bridge) Running() bool {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	return b.running
}

// Status returns the current run status.
func (b *Bridge) Status() Status {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	st := Status{Running: b.running, Cancelled: b.cancelled.Load()}
	if b.pending != nil {
		st.WaitingForInput = true
		st.Prompt = b.pending.prompt
	}
	return st
}

// RequestCancel flags the run as cancelled, cancels its context if one was
// registered, and wakes a pending RequestInput.
func (b *Bridge) RequestCancel() {
	b.inputMu.Lock()
	first := b.cancelled.CompareAndSwap(false, true)
	if first {
		close(b.cancelCh)
	}
	cancel := b.cancelFn
	b.inputMu.Unlock()

	if !first {
		return
	}
	b.logger.Info("cancellation requested")
	if cancel != nil {
		cancel()
	}
	b.publishStatus()
}

// Cancelled reports whether cancellation was requested for the current run.
func (b *Bridge) Cancelled() bool {
	return b.cancelled.Load()
}

// ProvideInput delivers text to the pending input request, or queues it for
// the next one. It reports whether a pending request consumed it.
func (b *Bridge) ProvideInput(text string) bool {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	if b.pending != nil {
		b.pending.ch <- text
		b.pending = nil
		return true
	}
	b.queued = append(b.queued, text)
	return false
}

// release clears p. When the wait failed, an answer that ProvideInput
// delivered concurrently goes back to the front of the queue.
func (b *Bridge) release(p *pendingInput, err error) {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	if b.pending == p {
		b.pending = nil
	}
	if err == nil {
		return
	}
	select {
	case text := <-p.ch:
		b.queued = append([]string{text}, b.queued...)
	default:
	}
}

// RequestInput is Ask followed by publishing the answer as a user turn.
func (b *Bridge) RequestInput(ctx context.Context, prompt string) (string, error) {
	text, err := b.Ask(ctx, prompt)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Ask publishes prompt as an input_request turn and waits for ProvideInput.
// The caller publishes the answer. It fails with ErrCancelled on
// cancellation and ErrInputTimeout after the input timeout.
func (b *Bridge) Ask(ctx context.Context, prompt string) (string, error) {
	b.inputMu.Lock()
	if b.pending != nil {
		b.inputMu.Unlock()
		return "", ErrInputPending
	}
	if b.cancelled.Load() {
		b.inputMu.Unlock()
		return "", ErrCancelled
	}
	if len(b.queued) > 0 {
		text := b.queued[0]
		b.queued = b.queued[1:]
		b.inputMu.Unlock()
		return text, nil
	}
	p := &pendingInput{ch: make(chan string, 1), prompt: prompt}
	b.pending = p
	cancelCh := b.cancelCh
	b.inputMu.Unlock()

	b.Publish(transcript.NewTurn(transcript.SourceSystem, transcript.TypeInputRequest, transcript.Text(prompt)))
	b.publishStatus()

	timer := time.NewTimer(b.inputTimeout)
	defer timer.Stop()

	var (
		text string
		err  error
	)
	select {
	case text = <-p.ch:
	case <-cancelCh:
		err = ErrCancelled
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case <-timer.C:
		err = ErrInputTimeout
		b.logger.Warn("no input received within %s", b.inputTimeout)
	}

	b.release(p, err)
	b.publishStatus()

	if err != nil {
		return "", err
	}
	b.Publish(transcript.NewTurn(transcript.SourceUser, transcript.TypeUser, transcript.Text(text)))
	return text, nil
}
