// Package orchestrator drives the fixed pipeline: analysis, production, the
// code-review gate and the fidelity gate, followed by the user's
// accept-or-correct gate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"figflow/pkg/agent"
	"figflow/pkg/bridge"
	"figflow/pkg/config"
	"figflow/pkg/logx"
	"figflow/pkg/reflection"
	"figflow/pkg/scheduler"
	"figflow/pkg/templates"
	"figflow/pkg/transcript"
)

var (
	// ErrStopped is returned when the user cancels a run.
	ErrStopped = errors.New("run stopped by user")
	// ErrUnknownWorker is returned when a scheduled worker is not in the team.
	ErrUnknownWorker = errors.New("unknown worker")

	errMessageCap   = errors.New("message cap reached")
	errTaskComplete = errors.New("task complete")
)

const (
	outerGatePrompt      = `Enter "ok" to finish, or describe what should be corrected:`
	iterationStartFormat = "=== Iteration %d started ==="
	acceptAnswer         = "ok"
)

// TeamFunc builds the workers of one iteration.
type TeamFunc func(ctx context.Context, iteration int) (agent.Team, error)

// CorrectionStore persists outer-gate corrections. *knowledge.Store satisfies it.
type CorrectionStore interface {
	AddCorrection(ctx context.Context, runID, text string) error
}

// Options configures an Orchestrator.
//
//nolint:govet // fieldalignment: grouped for readability
type Options struct {
	Bridge      *bridge.Bridge
	Team        TeamFunc
	Renderer    *templates.Renderer
	Chooser     scheduler.Chooser
	Corrections CorrectionStore
	Logger      *logx.Logger
	Pipeline    config.PipelineConfig
}

// Result summarizes a finished run.
type Result struct {
	RunID       string       `json:"run_id"`
	States      []StageState `json:"states"`
	Corrections []string     `json:"corrections,omitempty"`
	Iterations  int          `json:"iterations"`
}

// Orchestrator runs the pipeline. One Run at a time.
type Orchestrator struct {
	bridge      *bridge.Bridge
	team        TeamFunc
	renderer    *templates.Renderer
	chooser     scheduler.Chooser
	corrections CorrectionStore
	logger      *logx.Logger
	pipeline    config.PipelineConfig
}

// New validates opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Bridge == nil {
		return nil, errors.New("orchestrator needs a bridge")
	}
	if opts.Team == nil {
		return nil, errors.New("orchestrator needs a team builder")
	}
	if opts.Renderer == nil {
		opts.Renderer = templates.MustRenderer()
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("orchestrator")
	}
	p := opts.Pipeline
	if p.MaxMessages <= 0 || p.MaxReflectionRounds <= 0 || p.MaxAnalysisTurns <= 0 {
		return nil, fmt.Errorf("%w: pipeline budgets must be positive", config.ErrInvalidConfig)
	}
	return &Orchestrator{
		bridge:      opts.Bridge,
		team:        opts.Team,
		renderer:    opts.Renderer,
		chooser:     opts.Chooser,
		corrections: opts.Corrections,
		logger:      opts.Logger,
		pipeline:    p,
	}, nil
}

// Run executes iterations until the user accepts the result. Cancellation
// through the bridge returns ErrStopped; a backend failure is published as an
// error turn and returned.
func (o *Orchestrator) Run(ctx context.Context, runID string, in DesignInput) (Result, error) {
	res := Result{RunID: runID}
	if err := in.Validate(); err != nil {
		return res, err
	}

	correction := ""
	for iteration := 1; ; iteration++ {
		if err := o.checkpoint(ctx); err != nil {
			return res, o.fail(err)
		}
		o.notify(fmt.Sprintf(iterationStartFormat, iteration))

		state, err := o.iterate(ctx, runID, iteration, in, correction)
		res.Iterations = iteration
		res.States = append(res.States, state)
		if err != nil {
			return res, o.fail(err)
		}
		o.notify(fmt.Sprintf("Iteration %d finished after %d turns. Generated files are in the output directory.", iteration, state.Turns))

		answer, err := o.bridge.RequestInput(ctx, outerGatePrompt)
		if err != nil {
			return res, o.fail(err)
		}
		answer = strings.TrimSpace(answer)
		if answer == "" || strings.EqualFold(answer, acceptAnswer) {
			o.notify("Task complete.")
			return res, nil
		}

		correction = answer
		res.Corrections = append(res.Corrections, answer)
		if o.corrections != nil {
			if err := o.corrections.AddCorrection(context.WithoutCancel(ctx), runID, answer); err != nil {
				o.logger.Warn("failed to persist correction: %v", err)
			}
		}
		o.notify(fmt.Sprintf("Correction added to the rules: %q. Running again.", answer))
	}
}

// iterate runs every stage once against a fresh transcript.
func (o *Orchestrator) iterate(ctx context.Context, runID string, iteration int, in DesignInput, correction string) (StageState, error) {
	state := StageState{Iteration: iteration, Stage: StageAnalysis}

	team, err := o.team(ctx, iteration)
	if err != nil {
		return state, fmt.Errorf("build team: %w", err)
	}
	roles := o.pipeline.Roles
	for _, name := range []string{roles.Analyst, roles.InfoGatherer, roles.CodeWriter, roles.CodeReviewer, roles.FidelityReviewer} {
		if _, ok := team[name]; !ok {
			return state, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
		}
	}
	task, err := buildTask(o.renderer, in, roles, correction)
	if err != nil {
		return state, err
	}

	r := &run{o: o, runID: runID, task: task, team: team, transcript: transcript.New(), state: &state}
	stages := []struct {
		fn    func(context.Context, *run) error
		stage Stage
	}{
		{o.analysis, StageAnalysis},
		{o.production, StageProduction},
		{o.codeGate, StageCodeGate},
		{o.fidelityGate, StageFidelityGate},
	}
	for _, s := range stages {
		state.Stage = s.stage
		err := s.fn(ctx, r)
		state.Turns = r.transcript.Len()
		if errors.Is(err, errMessageCap) {
			state.CapReached = true
			o.logger.Info("iteration %d reached the message cap of %d during %s", iteration, o.pipeline.MaxMessages, s.stage)
			o.notify(fmt.Sprintf("Message limit of %d reached.", o.pipeline.MaxMessages))
			break
		}
		if errors.Is(err, errTaskComplete) {
			o.logger.Info("iteration %d completed by %s during %s", iteration, state.CompletedBy, s.stage)
			break
		}
		if err != nil {
			return state, err
		}
	}
	state.Stage = StageFeedback
	return state, nil
}

func (o *Orchestrator) participant(r *run, name string) scheduler.Participant {
	return scheduler.Participant{Name: name, Description: r.team[name].Description()}
}

// analysis alternates the analyst and the human proxy until the analyst
// reports completion or the turn budget runs out.
func (o *Orchestrator) analysis(ctx context.Context, r *run) error {
	roles, markers := o.pipeline.Roles, o.pipeline.Markers
	opts := []scheduler.Option{scheduler.WithDefault(roles.Analyst), scheduler.WithFallbackCompletion()}
	if o.chooser != nil {
		opts = append(opts, scheduler.WithChooser(o.chooser))
	}
	sched, err := scheduler.New(
		[]scheduler.Participant{o.participant(r, roles.Analyst), o.participant(r, roles.InfoGatherer)},
		[]scheduler.Rule{
			{After: roles.Analyst, Marker: markers.AnalysisComplete, Complete: true},
			{After: roles.Analyst, Marker: markers.NeedsUserInput, Next: roles.InfoGatherer},
			{After: roles.InfoGatherer, Next: roles.Analyst},
		},
		opts...,
	)
	if err != nil {
		return err
	}

	for r.state.AnalysisTurns < o.pipeline.MaxAnalysisTurns {
		d, err := sched.Next(ctx, r.transcript.Turns())
		if err != nil {
			return err
		}
		if d.Complete {
			r.state.AnalysisDone = true
			return nil
		}
		if _, err := r.step(ctx, d.Next); err != nil {
			return err
		}
		r.state.AnalysisTurns++
	}
	r.state.forcedPass(StageAnalysis)
	o.logger.Warn("analysis forced pass: budget exhausted after %d turns", r.state.AnalysisTurns)
	o.notify(fmt.Sprintf("Analysis accepted under the limit of %d turns.", o.pipeline.MaxAnalysisTurns))
	return nil
}

func (o *Orchestrator) production(ctx context.Context, r *run) error {
	_, err := r.step(ctx, o.pipeline.Roles.CodeWriter)
	return err
}

func (o *Orchestrator) codeGate(ctx context.Context, r *run) error {
	roles, markers := o.pipeline.Roles, o.pipeline.Markers
	loop, err := reflection.New(reflection.Config{
		Name:           "code review",
		Producer:       o.participant(r, roles.CodeWriter),
		Critic:         o.participant(r, roles.CodeReviewer),
		ApproveMarker:  markers.ReviewApproved,
		RejectMarker:   markers.ReviewRejected,
		MaxRounds:      o.pipeline.MaxReflectionRounds,
		ReviewExisting: true,
	})
	if err != nil {
		return err
	}
	out, err := loop.Run(ctx, reflection.StepFunc(r.step))
	r.state.ReviewRounds = out.Rounds
	if err != nil {
		return err
	}
	r.state.CodeAccepted = true
	if out.ForcedPass {
		r.state.forcedPass(StageCodeGate)
		o.notify(fmt.Sprintf("Code review accepted under the round limit (%s).", out.Reason))
	}
	return nil
}

func (o *Orchestrator) fidelityGate(ctx context.Context, r *run) error {
	roles, markers := o.pipeline.Roles, o.pipeline.Markers
	similar := reflection.SimilarityGate(o.pipeline.SimilarityThreshold, markers.ResultApproved, markers.ResultRejected)
	loop, err := reflection.New(reflection.Config{
		Name:           "fidelity",
		Producer:       o.participant(r, roles.CodeWriter),
		Critic:         o.participant(r, roles.FidelityReviewer),
		Accept:         similar,
		MaxRounds:      o.pipeline.MaxReflectionRounds,
		ReviewExisting: true,
	})
	if err != nil {
		return err
	}
	out, err := loop.Run(ctx, reflection.StepFunc(r.step))
	r.state.ValidationRounds = out.Rounds
	if last, ok := r.transcript.LastFrom(roles.FidelityReviewer); ok {
		r.state.Similarity, _ = reflection.ParseSimilarity(last.Content.Text)
	}
	if errors.Is(err, errTaskComplete) && r.state.CompletedBy == roles.FidelityReviewer {
		r.state.FidelityAccepted = true
	}
	if err != nil {
		return err
	}
	r.state.FidelityAccepted = true
	if out.ForcedPass {
		r.state.forcedPass(StageFidelityGate)
		o.notify(fmt.Sprintf("Fidelity review accepted under the round limit (%s).", out.Reason))
	}
	return nil
}

// checkpoint is where cancellation takes effect.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if o.bridge.Cancelled() {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	return nil
}

func (o *Orchestrator) stopped(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, bridge.ErrCancelled) ||
		errors.Is(err, context.Canceled) || o.bridge.Cancelled()
}

// fail classifies err, publishes the matching notification and returns the
// error the caller sees.
func (o *Orchestrator) fail(err error) error {
	if o.stopped(err) {
		o.logger.Info("run stopped: %v", err)
		o.notify("Workflow stopped by user.")
		return ErrStopped
	}
	o.logger.Error("run failed: %v", err)
	o.bridge.Publish(transcript.NewTurn(transcript.SourceSystem, transcript.TypeError, transcript.Err(err)))
	return err
}

func (o *Orchestrator) notify(text string) {
	o.bridge.Publish(transcript.NewTurn(transcript.SourceSystem, transcript.TypeSystem, transcript.Text(text)))
}

// run is the per-iteration state shared by the stages. It is the Sink
// handed to workers.
type run struct {
	o          *Orchestrator
	team       agent.Team
	transcript *transcript.Transcript
	state      *StageState
	runID      string
	task       string
}

// step invokes one worker and records its reply. A reply carrying the task
// complete marker ends the iteration with errTaskComplete. Worker calls are
// detached from cancellation so an in-flight request completes; the stop
// takes effect at the checkpoint that follows.
func (r *run) step(ctx context.Context, name string) (transcript.Turn, error) {
	if err := r.o.checkpoint(ctx); err != nil {
		return transcript.Turn{}, err
	}
	if r.transcript.Len() >= r.o.pipeline.MaxMessages {
		return transcript.Turn{}, errMessageCap
	}
	w, ok := r.team[name]
	if !ok {
		return transcript.Turn{}, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}

	logx.Debug(ctx, "orchestrator", "%s: invoking %s", r.state.Stage, name)
	turn, err := w.Invoke(context.WithoutCancel(ctx), agent.Call{
		Sink:    r,
		RunID:   r.runID,
		Task:    r.task,
		History: r.transcript.Turns(),
	})
	if err != nil {
		return transcript.Turn{}, err
	}
	if turn.Source == "" {
		turn.Source = name
	}
	turn = r.transcript.Append(turn)
	r.o.bridge.Publish(turn)
	r.state.Turns = r.transcript.Len()
	if err := r.o.checkpoint(ctx); err != nil {
		return turn, err
	}
	if turn.Content.Contains(r.o.pipeline.Markers.TaskComplete) {
		r.state.CompletedBy = turn.Source
		return turn, errTaskComplete
	}
	return turn, nil
}

func (r *run) Record(turn transcript.Turn) transcript.Turn {
	turn = r.transcript.Append(turn)
	r.o.bridge.Publish(turn)
	return turn
}

func (r *run) Chunk(source, text string) {
	r.o.bridge.PublishChunk(source, text)
}
