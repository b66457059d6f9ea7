// Package scheduler decides which worker acts next in a stage, or that the
// stage is complete. Literal marker rules are tried first; a Chooser is only
// consulted when none match.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"figflow/pkg/logx"
	"figflow/pkg/transcript"
)

// DecisionSource records which tier produced a decision.
type DecisionSource string

const (
	SourceRule     DecisionSource = "rule"
	SourceFallback DecisionSource = "fallback"
	SourceDefault  DecisionSource = "default"
)

// Participant is a worker that may be scheduled.
type Participant struct {
	Name        string
	Description string
}

// Rule maps the last turn to a decision. Empty After matches any speaker and
// empty Marker matches any content.
type Rule struct {
	After    string
	Marker   string
	Next     string
	Complete bool
}

func (r Rule) matches(last *transcript.Turn) bool {
	if r.After != "" && r.After != last.Source {
		return false
	}
	return r.Marker == "" || last.Content.Contains(r.Marker)
}

// Describe renders the rule for the fallback prompt.
func (r Rule) Describe() string {
	var cond string
	switch {
	case r.After != "" && r.Marker != "":
		cond = fmt.Sprintf("%s says %q", r.After, r.Marker)
	case r.After != "":
		cond = fmt.Sprintf("%s has spoken", r.After)
	case r.Marker != "":
		cond = fmt.Sprintf("anyone says %q", r.Marker)
	default:
		cond = "otherwise"
	}
	if r.Complete {
		return cond + " -> the stage is complete"
	}
	return fmt.Sprintf("%s -> choose %s", cond, r.Next)
}

// Decision is the scheduler's answer.
type Decision struct {
	Next     string
	Source   DecisionSource
	Complete bool
}

// ChoiceRequest is what a Chooser decides on.
type ChoiceRequest struct {
	CompletionToken string
	Participants    []Participant
	Rules           []string
	History         []transcript.Turn
}

// Chooser picks one option by name. Answers may be free text; the scheduler
// parses them.
type Chooser interface {
	Choose(ctx context.Context, req ChoiceRequest) (string, error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, req ChoiceRequest) (string, error)

// Choose calls f.
func (f ChooserFunc) Choose(ctx context.Context, req ChoiceRequest) (string, error) {
	return f(ctx, req)
}

// CompletionToken is the fallback answer that completes a stage.
const CompletionToken = "STAGE_COMPLETE"

// Scheduler makes per-turn scheduling decisions for one stage.
type Scheduler struct {
	chooser      Chooser
	logger       *logx.Logger
	defaultActor string
	participants []Participant
	rules        []Rule
	allowDone    bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithChooser sets the fallback chooser. Without one, unmatched turns go to
// the default actor.
func WithChooser(c Chooser) Option {
	return func(s *Scheduler) { s.chooser = c }
}

// WithDefault overrides the default actor, which is otherwise the first participant.
func WithDefault(name string) Option {
	return func(s *Scheduler) { s.defaultActor = name }
}

// WithFallbackCompletion lets the chooser answer CompletionToken.
func WithFallbackCompletion() Option {
	return func(s *Scheduler) { s.allowDone = true }
}

// New creates a scheduler. Rules are evaluated in order.
func New(participants []Participant, rules []Rule, opts ...Option) (*Scheduler, error) {
	if len(participants) == 0 {
		return nil, errors.New("scheduler needs at least one participant")
	}
	s := &Scheduler{
		participants: append([]Participant(nil), participants...),
		rules:        append([]Rule(nil), rules...),
		defaultActor: participants[0].Name,
		logger:       logx.NewLogger("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	known := func(name string) bool { return s.lookup(name) != "" }
	if !known(s.defaultActor) {
		return nil, fmt.Errorf("default actor %q is not a participant", s.defaultActor)
	}
	for i, r := range s.rules {
		if !r.Complete && !known(r.Next) {
			return nil, fmt.Errorf("rule %d targets unknown participant %q", i+1, r.Next)
		}
	}
	return s, nil
}

// Participants returns the roster.
func (s *Scheduler) Participants() []Participant {
	return append([]Participant(nil), s.participants...)
}

// Next decides from history. Only turns from participants count: a history
// with none selects the default actor.
func (s *Scheduler) Next(ctx context.Context, history []transcript.Turn) (Decision, error) {
	last, ok := s.lastParticipantTurn(history)
	if !ok {
		return Decision{Next: s.defaultActor, Source: SourceRule}, nil
	}

	for _, r := range s.rules {
		if r.matches(&last) {
			logx.Debug(ctx, "scheduler", "rule matched after %s: %s", last.Source, r.Describe())
			return Decision{Next: r.Next, Complete: r.Complete, Source: SourceRule}, nil
		}
	}

	if s.chooser == nil {
		return Decision{Next: s.defaultActor, Source: SourceDefault}, nil
	}

	answer, err := s.chooser.Choose(ctx, s.choiceRequest(history))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, fmt.Errorf("fallback scheduling: %w", ctxErr)
		}
		s.logger.Warn("fallback chooser failed, selecting %s: %v", s.defaultActor, err)
		return Decision{Next: s.defaultActor, Source: SourceDefault}, nil
	}

	if s.allowDone && strings.Contains(strings.ToUpper(answer), CompletionToken) {
		return Decision{Complete: true, Source: SourceFallback}, nil
	}
	if name := s.parse(answer); name != "" {
		return Decision{Next: name, Source: SourceFallback}, nil
	}
	s.logger.Info("unusable scheduling answer %q, selecting %s", truncate(answer, 80), s.defaultActor)
	return Decision{Next: s.defaultActor, Source: SourceDefault}, nil
}

func (s *Scheduler) lastParticipantTurn(history []transcript.Turn) (transcript.Turn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if s.lookup(history[i].Source) != "" {
			return history[i], true
		}
	}
	return transcript.Turn{}, false
}

func (s *Scheduler) choiceRequest(history []transcript.Turn) ChoiceRequest {
	req := ChoiceRequest{
		Participants: s.Participants(),
		History:      history,
		Rules:        make([]string, 0, len(s.rules)),
	}
	for _, r := range s.rules {
		req.Rules = append(req.Rules, r.Describe())
	}
	if s.allowDone {
		req.CompletionToken = CompletionToken
	}
	return req
}

// lookup returns the canonical name matching name case-insensitively.
func (s *Scheduler) lookup(name string) string {
	for _, p := range s.participants {
		if strings.EqualFold(p.Name, name) {
			return p.Name
		}
	}
	return ""
}

// parse accepts an exact name (ignoring case, quotes and markdown emphasis),
// or an answer that mentions exactly one participant.
func (s *Scheduler) parse(answer string) string {
	cleaned := strings.Trim(strings.TrimSpace(answer), "*`'\".:, \n\t")
	if name := s.lookup(cleaned); name != "" {
		return name
	}

	lower := strings.ToLower(answer)
	var found string
	for _, p := range s.participants {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			if found != "" {
				return ""
			}
			found = p.Name
		}
	}
	return found
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
