package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"figflow/pkg/bridge"
	"figflow/pkg/eventlog"
	"figflow/pkg/logx"
	"figflow/pkg/persistence"
	"figflow/pkg/transcript"
)

// drainTimeout bounds how long a finished run waits for its recorder.
const drainTimeout = 5 * time.Second

// RunStore persists runs and their turns. *persistence.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, id, task string) error
	FinishRun(ctx context.Context, id, status string, iterations int, runErr error) error
	InsertTurn(ctx context.Context, rec *persistence.TurnRecord) error
}

// EventWriter appends event log records. *eventlog.Writer satisfies it.
type EventWriter interface {
	Write(rec *eventlog.Record) error
}

// recorder is a bridge subscriber that writes one run's durable turns to the
// event log and the run store. Turns published before it started are skipped.
type recorder struct {
	sub       *bridge.Subscription
	bridge    *bridge.Bridge
	events    EventWriter
	runs      RunStore
	logger    *logx.Logger
	progress  chan int
	done      chan struct{}
	runID     string
	baseline  int
	iteration int
}

func startRecorder(b *bridge.Bridge, runID string, events EventWriter, runs RunStore, logger *logx.Logger) *recorder {
	r := &recorder{
		bridge:    b,
		events:    events,
		runs:      runs,
		logger:    logger,
		runID:     runID,
		baseline:  len(b.History()),
		iteration: 1,
		progress:  make(chan int, 1),
		done:      make(chan struct{}),
	}
	r.sub = b.Subscribe()
	go r.loop()
	return r
}

func (r *recorder) loop() {
	defer close(r.done)
	for ev := range r.sub.C() {
		if !ev.Durable() || ev.ID <= r.baseline {
			continue
		}
		r.record(ev.ID, ev.Turn)
		select {
		case <-r.progress:
		default:
		}
		r.progress <- ev.ID
	}
}

func (r *recorder) record(id int, turn *transcript.Turn) {
	if n, ok := iterationStart(turn); ok {
		r.iteration = n
	}
	seq := id - r.baseline

	if r.events != nil {
		if err := r.events.Write(&eventlog.Record{RunID: r.runID, ID: seq, Turn: *turn}); err != nil {
			r.logger.Warn("event log write failed: %v", err)
		}
	}
	if r.runs != nil {
		content, err := json.Marshal(turn.Content)
		if err != nil {
			r.logger.Warn("failed to encode turn %d: %v", seq, err)
			return
		}
		err = r.runs.InsertTurn(context.Background(), &persistence.TurnRecord{
			RunID:     r.runID,
			Seq:       seq,
			Iteration: r.iteration,
			Source:    turn.Source,
			Type:      string(turn.Type),
			Content:   string(content),
			CreatedAt: turn.Timestamp,
		})
		if err != nil {
			r.logger.Warn("failed to persist turn %d: %v", seq, err)
		}
	}
}

// stop waits until every turn published so far is recorded, then unsubscribes.
func (r *recorder) stop() {
	target := len(r.bridge.History())
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	for seen := r.baseline; seen < target; {
		select {
		case seen = <-r.progress:
		case <-r.done:
			seen = target
		case <-timer.C:
			r.logger.Warn("recorder for run %s did not drain: recorded %d of %d turns", r.runID, seen-r.baseline, target-r.baseline)
			seen = target
		}
	}
	r.bridge.Unsubscribe(r.sub)
	<-r.done
}

func iterationStart(turn *transcript.Turn) (int, bool) {
	if turn.Source != transcript.SourceSystem || turn.Type != transcript.TypeSystem {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(turn.Content.Text, iterationStartFormat, &n); err != nil {
		return 0, false
	}
	return n, true
}
