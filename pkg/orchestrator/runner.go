package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"figflow/pkg/bridge"
	"figflow/pkg/logx"
	"figflow/pkg/persistence"
	"figflow/pkg/transcript"
)

// WorkflowComplete is the text of the final turn of every run.
const WorkflowComplete = "workflow_complete"

// Outcome is a finished run as reported by Runner.
type Outcome struct {
	Err    error
	Result Result
	Status string
}

// Runner owns the run lifecycle: one run at a time, recorded durably.
type Runner struct {
	bridge *bridge.Bridge
	orch   *Orchestrator
	runs   RunStore
	events EventWriter
	logger *logx.Logger
	done   chan struct{}
	last   *Outcome
	mu     sync.Mutex
}

// NewRunner creates a runner. runs and events may be nil.
func NewRunner(b *bridge.Bridge, orch *Orchestrator, runs RunStore, events EventWriter) *Runner {
	return &Runner{bridge: b, orch: orch, runs: runs, events: events, logger: logx.NewLogger("runner")}
}

// Run executes a run in the calling goroutine.
func (rn *Runner) Run(ctx context.Context, in DesignInput) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := rn.bridge.Begin(cancel); err != nil {
		return Outcome{Err: err, Status: persistence.RunStatusFailed}
	}
	return rn.execute(ctx, uuid.NewString(), in)
}

// Start launches a run in the background and returns its id. It fails with
// bridge.ErrBusy while another run is active.
func (rn *Runner) Start(ctx context.Context, in DesignInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := rn.bridge.Begin(cancel); err != nil {
		cancel()
		return "", err
	}
	runID := uuid.NewString()
	done := make(chan struct{})
	rn.mu.Lock()
	rn.done = done
	rn.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		out := rn.execute(ctx, runID, in)
		rn.mu.Lock()
		rn.last = &out
		rn.mu.Unlock()
	}()
	return runID, nil
}

// Stop requests cooperative cancellation of the active run.
func (rn *Runner) Stop() {
	rn.bridge.RequestCancel()
}

// Wait blocks until the background run started last has finished and
// returns its outcome. It returns nil when nothing was started.
func (rn *Runner) Wait() *Outcome {
	rn.mu.Lock()
	done := rn.done
	rn.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.last
}

func (rn *Runner) execute(ctx context.Context, runID string, in DesignInput) Outcome {
	defer rn.bridge.End()
	ctx = logx.WithComponent(ctx, "run-"+runID)
	bg := context.WithoutCancel(ctx)

	if rn.runs != nil {
		if err := rn.runs.CreateRun(bg, runID, in.PCLink); err != nil {
			rn.logger.Warn("failed to record run %s: %v", runID, err)
		}
	}
	rec := startRecorder(rn.bridge, runID, rn.events, rn.runs, rn.logger)
	rn.logger.Info("run %s started for %s", runID, in.PCLink)

	res, err := rn.orch.Run(ctx, runID, in)
	out := Outcome{Result: res, Err: err, Status: persistence.RunStatusCompleted}
	switch {
	case errors.Is(err, ErrStopped):
		out.Status = persistence.RunStatusStopped
	case err != nil:
		out.Status = persistence.RunStatusFailed
	}
	rn.bridge.Publish(transcript.NewTurn(transcript.SourceSystem, transcript.TypeComplete, transcript.Text(WorkflowComplete)))
	rec.stop()

	if rn.runs != nil {
		var runErr error
		if out.Status == persistence.RunStatusFailed {
			runErr = err
		}
		if err := rn.runs.FinishRun(bg, runID, out.Status, res.Iterations, runErr); err != nil {
			rn.logger.Warn("failed to finish run %s: %v", runID, err)
		}
	}
	rn.logger.Info("run %s %s after %d iteration(s)", runID, out.Status, res.Iterations)
	return out
}
