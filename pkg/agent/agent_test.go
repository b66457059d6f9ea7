package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/agent/llm"
	"figflow/pkg/agent/llmerrors"
	"figflow/pkg/agent/middleware/validation"
	"figflow/pkg/config"
	"figflow/pkg/knowledge"
	"figflow/pkg/templates"
	"figflow/pkg/tools"
	"figflow/pkg/transcript"
)

type scriptedClient struct {
	streamErr error
	responses []llm.CompletionResponse
	chunks    []string
	requests  []llm.CompletionRequest
	streams   int
}

func (c *scriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if len(c.requests) > len(c.responses) {
		return llm.CompletionResponse{}, errors.New("unexpected request")
	}
	return c.responses[len(c.requests)-1], nil
}

func (c *scriptedClient) Stream(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	c.streams++
	c.requests = append(c.requests, req)
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	ch := make(chan llm.StreamChunk, len(c.chunks)+1)
	for _, s := range c.chunks {
		ch <- llm.StreamChunk{Content: s}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

type recordingSink struct {
	mu     sync.Mutex
	turns  []transcript.Turn
	chunks []string
}

func (s *recordingSink) Record(turn transcript.Turn) transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return turn
}

func (s *recordingSink) Chunk(_, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, text)
}

func say(source, text string) transcript.Turn {
	return transcript.NewTurn(source, transcript.TypeAgent, transcript.Text(text))
}

func TestLLMWorkerMessagesFromHistory(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{{Content: "REVIEW_APPROVED"}}}
	w, err := NewLLMWorker(LLMWorkerConfig{Client: client, Name: "code_reviewer", SystemPrompt: "You review."})
	require.NoError(t, err)

	turn, err := w.Invoke(context.Background(), Call{
		Task: "Build the page",
		History: []transcript.Turn{
			say("code_writer", "files written"),
			say("code_reviewer", "REVIEW_REJECTED: bad margin"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "code_reviewer", turn.Source)
	assert.Equal(t, transcript.TypeAgent, turn.Type)
	assert.True(t, turn.Content.Contains("REVIEW_APPROVED"))

	msgs := client.requests[0].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "Build the page", msgs[1].Content)
	assert.Equal(t, "[code_writer] files written", msgs[2].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[3].Role)
	assert.Equal(t, continuePrompt, msgs[4].Content)
}

func TestLLMWorkerRecordsToolTurns(t *testing.T) {
	dir := t.TempDir()
	registry, err := tools.NewRegistry(tools.NewWriteFileTool(dir))
	require.NoError(t, err)
	client := &scriptedClient{responses: []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: tools.ToolWriteFile, Parameters: map[string]any{"path": "a.html", "content": "x"}}}},
		{Content: "done"},
	}}
	w, err := NewLLMWorker(LLMWorkerConfig{
		Client:   client,
		Tools:    registry,
		ToolDefs: []tools.ToolDefinition{tools.NewWriteFileTool(dir).Definition()},
		Name:     "code_writer",
	})
	require.NoError(t, err)
	sink := &recordingSink{}

	turn, err := w.Invoke(context.Background(), Call{Task: "go", Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, "done", turn.Content.Text)
	require.Len(t, sink.turns, 1)
	assert.Equal(t, transcript.TypeTool, sink.turns[0].Type)
	assert.Equal(t, tools.ToolWriteFile, sink.turns[0].Content.ToolCall.Name)
}

func TestLLMWorkerStreamsChunks(t *testing.T) {
	client := &scriptedClient{chunks: []string{"The header ", "is blue. ", "ANALYSIS_COMPLETE"}}
	w, err := NewLLMWorker(LLMWorkerConfig{Client: client, Name: "figma_analyzer", Stream: true})
	require.NoError(t, err)
	sink := &recordingSink{}

	turn, err := w.Invoke(context.Background(), Call{Task: "analyze", Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, "The header is blue. ANALYSIS_COMPLETE", turn.Content.Text)
	assert.Equal(t, []string{"The header ", "is blue. ", "ANALYSIS_COMPLETE"}, sink.chunks)
}

func TestLLMWorkerStreamRateLimitFallsBack(t *testing.T) {
	client := &scriptedClient{
		streamErr: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429"),
		responses: []llm.CompletionResponse{{}, {Content: "fallback"}},
	}
	w, err := NewLLMWorker(LLMWorkerConfig{Client: client, Name: "figma_analyzer", Stream: true})
	require.NoError(t, err)

	turn, err := w.Invoke(context.Background(), Call{Task: "analyze"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", turn.Content.Text)
	assert.Equal(t, 1, client.streams)
}

func TestLLMWorkerEmptyReply(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{{Content: "  "}, {Content: "\n"}}}
	w, err := NewLLMWorker(LLMWorkerConfig{Client: client, Name: "code_writer"})
	require.NoError(t, err)

	_, err = w.Invoke(context.Background(), Call{Task: "go"})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
	assert.Len(t, client.requests, 2)

	streamed := &scriptedClient{}
	w, err = NewLLMWorker(LLMWorkerConfig{Client: streamed, Name: "figma_analyzer", Stream: true})
	require.NoError(t, err)
	_, err = w.Invoke(context.Background(), Call{Task: "go"})
	require.ErrorIs(t, err, ErrNoReply)
}

func TestLLMWorkerAsksAgainAfterEmptyReply(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{{}, {Content: "Wrote index.html"}}}
	w, err := NewLLMWorker(LLMWorkerConfig{Client: client, Name: "code_writer"})
	require.NoError(t, err)

	turn, err := w.Invoke(context.Background(), Call{Task: "go"})
	require.NoError(t, err)
	assert.Equal(t, "Wrote index.html", turn.Content.Text)
	require.Len(t, client.requests, 2)
	retry := client.requests[1].Messages
	assert.Len(t, retry, len(client.requests[0].Messages)+1)
	assert.Equal(t, validation.Guidance, retry[len(retry)-1].Content)
}

type fakeRequester struct {
	err     error
	answer  string
	prompts []string
}

func (f *fakeRequester) Ask(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func TestHumanWorkerRelaysQuestion(t *testing.T) {
	req := &fakeRequester{answer: " Use Inter, 16px \n"}
	h := NewHumanWorker("info_gatherer", "asks the user", req)

	turn, err := h.Invoke(context.Background(), Call{History: []transcript.Turn{
		say("figma_analyzer", "NEEDS_USER_INPUT: which font?"),
		transcript.NewTurn(transcript.SourceSystem, transcript.TypeSystem, transcript.Text("note")),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"NEEDS_USER_INPUT: which font?"}, req.prompts)
	assert.Equal(t, "info_gatherer", turn.Source)
	assert.Equal(t, "Use Inter, 16px", turn.Content.Text)
	assert.Equal(t, transcript.TypeUser, turn.Type)
}

func TestHumanWorkerPropagatesCancellation(t *testing.T) {
	cancelled := errors.New("cancelled")
	h := NewHumanWorker("info_gatherer", "", &fakeRequester{err: cancelled})

	_, err := h.Invoke(context.Background(), Call{})
	require.ErrorIs(t, err, cancelled)
}

func TestDefaultRosterCoversRoles(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	spec, ok := r.Spec(RoleInfoGatherer)
	require.True(t, ok)
	assert.Equal(t, KindHuman, spec.Kind)

	spec, ok = r.Spec(RoleAnalyst)
	require.True(t, ok)
	assert.True(t, spec.Stream)
}

func TestParseRosterRejectsIncompleteRoster(t *testing.T) {
	_, err := ParseRoster([]byte("workers:\n  - role: analyst\n"))
	require.ErrorContains(t, err, "missing role")

	_, err = ParseRoster([]byte("workers:\n  - role: janitor\n"))
	require.ErrorContains(t, err, "unknown role")
}

func TestBuildTeam(t *testing.T) {
	roster, err := DefaultRoster()
	require.NoError(t, err)
	registry, err := tools.NewRegistry(
		tools.NewWriteFileTool(t.TempDir()),
		tools.NewReadFileTool(t.TempDir()),
		tools.NewListFilesTool(t.TempDir()),
	)
	require.NoError(t, err)
	store := knowledge.NewStore(knowledge.NewMemoryBackend(), []string{"Use flexbox"}, nil)
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, registry.Register(tools.NewSearchKnowledgeTool(snap)))
	require.NoError(t, registry.Register(tools.NewKnowledgeSummaryTool(snap)))
	require.NoError(t, registry.Register(tools.NewAddKnowledgeTool(store)))

	team, err := BuildTeam(roster, &TeamDeps{
		Client:    &scriptedClient{},
		Renderer:  templates.MustRenderer(),
		Registry:  registry,
		Knowledge: snap,
		Requester: &fakeRequester{},
		Pipeline:  config.Default().Pipeline,
	})
	require.NoError(t, err)
	require.Len(t, team, 5)

	reviewer, ok := team["code_reviewer"].(*LLMWorker)
	require.True(t, ok)
	assert.Contains(t, reviewer.cfg.SystemPrompt, "REVIEW_APPROVED")
	assert.Contains(t, reviewer.cfg.SystemPrompt, "Use flexbox")

	fidelity, ok := team["result_reviewer"].(*LLMWorker)
	require.True(t, ok)
	for _, def := range fidelity.cfg.ToolDefs {
		assert.NotEqual(t, tools.ToolCompareScreenshots, def.Name)
	}
	_, ok = team["info_gatherer"].(*HumanWorker)
	assert.True(t, ok)
}

func TestEndpointFactory(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoints = []config.Endpoint{
		{Name: "primary", Provider: config.ProviderOpenAI, Model: "qwen", APIKey: "k"},
		{Name: "local", Provider: config.ProviderOllama, Model: "llama3"},
	}
	var built []string
	f := NewEndpointFactory(nil).WithRawClient(func(ep *config.Endpoint, _ string) (llm.LLMClient, error) {
		built = append(built, ep.Name)
		return &scriptedClient{}, nil
	})

	eps, err := f.Endpoints(cfg)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, []string{"primary", "local"}, built)
	assert.True(t, eps[0].Capabilities.ToolCalls)
	assert.False(t, eps[1].Capabilities.ToolCalls)

	r, err := f.NewRouter(cfg)
	require.NoError(t, err)
	assert.Len(t, r.Status(), 2)
}

func TestEndpointPassesEmptyResponseThrough(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoints = []config.Endpoint{{Name: "local", Provider: config.ProviderOllama, Model: "llama3"}}
	raw := &scriptedClient{responses: []llm.CompletionResponse{{}, {Content: "late"}}}
	f := NewEndpointFactory(nil).WithRawClient(func(*config.Endpoint, string) (llm.LLMClient, error) {
		return raw, nil
	})

	eps, err := f.Endpoints(cfg)
	require.NoError(t, err)
	resp, err := eps[0].Client.Complete(context.Background(),
		llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
	assert.Len(t, raw.requests, 1)
}

func TestEndpointFactoryMissingKey(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoints = []config.Endpoint{{Name: "x", Provider: config.ProviderOpenAI, Model: "m", APIKeyEnv: "FIGFLOW_TEST_UNSET_KEY"}}

	_, err := NewEndpointFactory(nil).Endpoints(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEndpointDefaults(t *testing.T) {
	inner := &scriptedClient{responses: []llm.CompletionResponse{{Content: "a"}, {Content: "b"}}}
	client := endpointDefaults(&config.Endpoint{Temperature: 0.3, MaxTokens: 1000})(inner)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.NoError(t, err)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")})
	req.Temperature = llm.TemperatureDeterministic
	_, err = client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, inner.requests[0].Temperature, 1e-6)
	assert.Equal(t, 1000, inner.requests[0].MaxTokens)
	assert.Zero(t, inner.requests[1].Temperature)
}
