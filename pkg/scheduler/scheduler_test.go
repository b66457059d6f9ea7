package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/agent/llm"
	"figflow/pkg/templates"
	"figflow/pkg/transcript"
)

type countingChooser struct {
	err    error
	answer string
	last   ChoiceRequest
	calls  int
}

func (c *countingChooser) Choose(_ context.Context, req ChoiceRequest) (string, error) {
	c.calls++
	c.last = req
	return c.answer, c.err
}

func reviewPipeline(t *testing.T, chooser Chooser) *Scheduler {
	t.Helper()
	s, err := New(
		[]Participant{
			{Name: "figma_analyzer", Description: "analyzes the design"},
			{Name: "code_writer", Description: "writes code"},
			{Name: "code_reviewer", Description: "reviews code"},
			{Name: "result_reviewer", Description: "checks fidelity"},
		},
		[]Rule{
			{After: "code_reviewer", Marker: "REVIEW_APPROVED", Next: "result_reviewer"},
			{After: "code_reviewer", Marker: "REVIEW_REJECTED", Next: "code_writer"},
			{After: "result_reviewer", Marker: "RESULT_REJECTED", Next: "code_writer"},
			{After: "code_writer", Next: "code_reviewer"},
		},
		WithChooser(chooser),
	)
	require.NoError(t, err)
	return s
}

func say(source, text string) transcript.Turn {
	return transcript.NewTurn(source, transcript.TypeAgent, transcript.Text(text))
}

func TestNextEmptyHistorySelectsFirstActor(t *testing.T) {
	chooser := &countingChooser{}
	s := reviewPipeline(t, chooser)

	d, err := s.Next(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "figma_analyzer", d.Next)
	assert.Equal(t, SourceRule, d.Source)

	// Non-participant turns do not count.
	d, err = s.Next(context.Background(), []transcript.Turn{say(transcript.SourceUser, "build it")})
	require.NoError(t, err)
	assert.Equal(t, "figma_analyzer", d.Next)
	assert.Zero(t, chooser.calls)
}

func TestRulesResolveWithoutFallback(t *testing.T) {
	cases := []struct {
		name string
		last transcript.Turn
		want string
	}{
		{"rejection returns to producer", say("code_reviewer", "Missing padding. REVIEW_REJECTED"), "code_writer"},
		{"approval moves to fidelity", say("code_reviewer", "REVIEW_APPROVED"), "result_reviewer"},
		{"fidelity rejection returns to producer", say("result_reviewer", "RESULT_REJECTED: colors off"), "code_writer"},
		{"producer goes to review", say("code_writer", "done"), "code_reviewer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chooser := &countingChooser{answer: "figma_analyzer"}
			s := reviewPipeline(t, chooser)

			history := []transcript.Turn{say("figma_analyzer", "analysis"), tc.last}
			d, err := s.Next(context.Background(), history)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Next)
			assert.Equal(t, SourceRule, d.Source)
			assert.Zero(t, chooser.calls, "fallback must not be consulted")
		})
	}
}

func TestRuleIgnoresTrailingSystemTurns(t *testing.T) {
	chooser := &countingChooser{}
	s := reviewPipeline(t, chooser)

	history := []transcript.Turn{
		say("code_reviewer", "REVIEW_REJECTED"),
		transcript.NewTurn(transcript.SourceSystem, transcript.TypeSystem, transcript.Text("round 1")),
	}
	d, err := s.Next(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "code_writer", d.Next)
	assert.Zero(t, chooser.calls)
}

func TestFallbackParsesAnswer(t *testing.T) {
	cases := []struct {
		answer string
		want   string
		source DecisionSource
	}{
		{"code_writer", "code_writer", SourceFallback},
		{"  **Code_Writer**  ", "code_writer", SourceFallback},
		{"I think result_reviewer should go next.", "result_reviewer", SourceFallback},
		{"either code_writer or figma_analyzer", "figma_analyzer", SourceDefault},
		{"banana", "figma_analyzer", SourceDefault},
		{"", "figma_analyzer", SourceDefault},
	}
	for _, tc := range cases {
		t.Run(tc.answer, func(t *testing.T) {
			chooser := &countingChooser{answer: tc.answer}
			s := reviewPipeline(t, chooser)

			d, err := s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "hmm")})
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Next)
			assert.Equal(t, tc.source, d.Source)
			assert.Equal(t, 1, chooser.calls)
		})
	}
}

func TestFallbackRequestCarriesRulesAndRoster(t *testing.T) {
	chooser := &countingChooser{answer: "code_writer"}
	s := reviewPipeline(t, chooser)

	_, err := s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "hmm")})
	require.NoError(t, err)
	assert.Len(t, chooser.last.Participants, 4)
	assert.Len(t, chooser.last.Rules, 4)
	assert.Contains(t, chooser.last.Rules[1], "REVIEW_REJECTED")
	assert.Empty(t, chooser.last.CompletionToken)
}

func TestFallbackErrorSelectsDefault(t *testing.T) {
	chooser := &countingChooser{err: errors.New("boom")}
	s := reviewPipeline(t, chooser)

	d, err := s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "hmm")})
	require.NoError(t, err)
	assert.Equal(t, "figma_analyzer", d.Next)
	assert.Equal(t, SourceDefault, d.Source)
}

func TestFallbackErrorAfterCancelPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chooser := ChooserFunc(func(ctx context.Context, _ ChoiceRequest) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	s := reviewPipeline(t, chooser)

	_, err := s.Next(ctx, []transcript.Turn{say("figma_analyzer", "hmm")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompletionRuleAndToken(t *testing.T) {
	s, err := New(
		[]Participant{{Name: "figma_analyzer"}, {Name: "info_gatherer"}},
		[]Rule{
			{Marker: "TASK_COMPLETE", Complete: true},
			{After: "figma_analyzer", Marker: "NEEDS_USER_INPUT", Next: "info_gatherer"},
			{After: "info_gatherer", Next: "figma_analyzer"},
		},
		WithChooser(ChooserFunc(func(context.Context, ChoiceRequest) (string, error) {
			return "stage_complete", nil
		})),
		WithFallbackCompletion(),
	)
	require.NoError(t, err)

	d, err := s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "TASK_COMPLETE")})
	require.NoError(t, err)
	assert.True(t, d.Complete)
	assert.Equal(t, SourceRule, d.Source)

	d, err = s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "NEEDS_USER_INPUT: which font?")})
	require.NoError(t, err)
	assert.Equal(t, "info_gatherer", d.Next)

	d, err = s.Next(context.Background(), []transcript.Turn{say("figma_analyzer", "still looking")})
	require.NoError(t, err)
	assert.True(t, d.Complete)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestNoChooserSelectsDefault(t *testing.T) {
	s, err := New([]Participant{{Name: "a"}, {Name: "b"}}, nil, WithDefault("b"))
	require.NoError(t, err)

	d, err := s.Next(context.Background(), []transcript.Turn{say("a", "x")})
	require.NoError(t, err)
	assert.Equal(t, "b", d.Next)
	assert.Equal(t, SourceDefault, d.Source)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	_, err = New([]Participant{{Name: "a"}}, []Rule{{Next: "ghost"}})
	require.ErrorContains(t, err, "ghost")

	_, err = New([]Participant{{Name: "a"}}, nil, WithDefault("ghost"))
	require.Error(t, err)
}

type fixedClient struct {
	requests []llm.CompletionRequest
	content  string
}

func (f *fixedClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	return llm.CompletionResponse{Content: f.content}, nil
}

func (f *fixedClient) Stream(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not supported")
}

func (f *fixedClient) GetModelName() string { return "fixed" }

func TestLLMChooserRendersSelectorPrompt(t *testing.T) {
	client := &fixedClient{content: "code_reviewer"}
	chooser := NewLLMChooser(client, templates.MustRenderer())

	answer, err := chooser.Choose(context.Background(), ChoiceRequest{
		Participants: []Participant{{Name: "code_writer", Description: "writes"}, {Name: "code_reviewer", Description: "reviews"}},
		Rules:        []string{"code_writer has spoken -> choose code_reviewer"},
		History:      []transcript.Turn{say("code_writer", "here is the code")},
	})
	require.NoError(t, err)
	assert.Equal(t, "code_reviewer", answer)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "code_reviewer")
	assert.Contains(t, req.Messages[1].Content, "[code_writer] here is the code")
	assert.Equal(t, float32(llm.TemperatureDeterministic), req.Temperature)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	got := truncate("abéé", 3)
	assert.Equal(t, "ab...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate(strings.Repeat("日", 40), 80)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("日", 26)+"...", got)
}
