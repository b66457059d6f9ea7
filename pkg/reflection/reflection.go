// Package reflection runs bounded producer/critic exchanges. The same loop
// backs the code-review gate and the design-fidelity gate.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"figflow/pkg/logx"
	"figflow/pkg/scheduler"
	"figflow/pkg/transcript"
)

// DefaultMaxRounds applies when Config.MaxRounds is zero.
const DefaultMaxRounds = 3

// Stepper runs one worker and returns the turn it contributed.
type Stepper interface {
	Step(ctx context.Context, worker string) (transcript.Turn, error)
}

// StepFunc adapts a function to Stepper.
type StepFunc func(ctx context.Context, worker string) (transcript.Turn, error)

// Step calls f.
func (f StepFunc) Step(ctx context.Context, worker string) (transcript.Turn, error) {
	return f(ctx, worker)
}

// Config parameterizes one gate.
type Config struct {
	// Accept decides whether a critic turn approves. Nil means the turn
	// carries ApproveMarker and not RejectMarker.
	Accept         func(transcript.Turn) bool
	Name           string
	ApproveMarker  string
	RejectMarker   string
	Producer       scheduler.Participant
	Critic         scheduler.Participant
	MaxRounds      int
	ReviewExisting bool
}

// Outcome reports how a loop ended. Exactly one of Approved and ForcedPass is set.
type Outcome struct {
	Reason     string
	Rounds     int
	Turns      int
	Approved   bool
	ForcedPass bool
}

// Loop is a configured gate.
type Loop struct {
	sched  *scheduler.Scheduler
	logger *logx.Logger
	cfg    Config
}

// New validates cfg and builds the loop's schedule. With ReviewExisting the
// critic opens the first round, reviewing whatever the producer already made.
func New(cfg Config) (*Loop, error) {
	if cfg.Producer.Name == "" || cfg.Critic.Name == "" {
		return nil, errors.New("reflection loop needs a producer and a critic")
	}
	if cfg.Producer.Name == cfg.Critic.Name {
		return nil, fmt.Errorf("producer and critic are both %q", cfg.Producer.Name)
	}
	if cfg.Accept == nil && cfg.ApproveMarker == "" {
		return nil, errors.New("reflection loop needs an approval marker or an Accept func")
	}
	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("max rounds must not be negative, got %d", cfg.MaxRounds)
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Critic.Name
	}

	participants := []scheduler.Participant{cfg.Producer, cfg.Critic}
	if cfg.ReviewExisting {
		participants = []scheduler.Participant{cfg.Critic, cfg.Producer}
	}
	rules := []scheduler.Rule{
		{After: cfg.Producer.Name, Next: cfg.Critic.Name},
		{After: cfg.Critic.Name, Next: cfg.Producer.Name},
	}
	sched, err := scheduler.New(participants, rules)
	if err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg, sched: sched, logger: logx.NewLogger("reflection")}, nil
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// Run alternates producer and critic until the critic approves or MaxRounds
// critic turns have been taken. Exhausting the budget is a forced pass, not
// an error; errors come only from the stepper or the context.
func (l *Loop) Run(ctx context.Context, step Stepper) (Outcome, error) {
	var (
		history []transcript.Turn
		out     Outcome
	)
	for out.Rounds < l.cfg.MaxRounds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, err := l.sched.Next(ctx, history)
		if err != nil {
			return out, err
		}

		turn, err := step.Step(ctx, d.Next)
		if err != nil {
			return out, fmt.Errorf("%s gate: %s: %w", l.cfg.Name, d.Next, err)
		}
		turn.Source = d.Next
		history = append(history, turn)
		out.Turns++

		if d.Next != l.cfg.Critic.Name {
			continue
		}
		out.Rounds++
		if l.accepted(turn) {
			out.Approved = true
			out.Reason = "approved"
			l.logger.Info("%s gate approved after %d round(s)", l.cfg.Name, out.Rounds)
			return out, nil
		}
		logx.Debug(ctx, "reflection", "%s gate round %d rejected", l.cfg.Name, out.Rounds)
	}

	out.ForcedPass = true
	out.Reason = fmt.Sprintf("round budget of %d exhausted", l.cfg.MaxRounds)
	l.logger.Warn("%s gate forced pass: budget exhausted after %d round(s) without approval", l.cfg.Name, out.Rounds)
	return out, nil
}

func (l *Loop) accepted(turn transcript.Turn) bool {
	if l.cfg.Accept != nil {
		return l.cfg.Accept(turn)
	}
	if !turn.Content.Contains(l.cfg.ApproveMarker) {
		return false
	}
	return l.cfg.RejectMarker == "" || !turn.Content.Contains(l.cfg.RejectMarker)
}

var similarityPattern = regexp.MustCompile(`(?i)similarity[^0-9\n]{0,20}?(\d+(?:\.\d+)?)\s*(%?)`)

// ParseSimilarity extracts a reported similarity score in [0, 1]. Percentages
// and bare values above 1 are scaled down.
func ParseSimilarity(text string) (float64, bool) {
	m := similarityPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "%" || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// SimilarityGate accepts a critic turn that carries approveMarker, or that
// reports a similarity of at least threshold and does not carry rejectMarker.
func SimilarityGate(threshold float64, approveMarker, rejectMarker string) func(transcript.Turn) bool {
	return func(turn transcript.Turn) bool {
		if turn.Content.Kind != transcript.KindText {
			return false
		}
		if rejectMarker != "" && turn.Content.Contains(rejectMarker) {
			return false
		}
		if approveMarker != "" && turn.Content.Contains(approveMarker) {
			return true
		}
		score, ok := ParseSimilarity(turn.Content.Text)
		return ok && score >= threshold
	}
}
