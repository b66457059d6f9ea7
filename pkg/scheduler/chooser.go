package scheduler

import (
	"context"
	"fmt"
	"strings"

	"figflow/pkg/agent/llm"
	"figflow/pkg/templates"
	"figflow/pkg/utils"
)

const (
	// historyWindow bounds how many recent turns the fallback prompt includes.
	historyWindow = 20
	// historyTokens bounds the size of those turns.
	historyTokens = 4000
)

// LLMChooser asks a model to pick the next participant.
type LLMChooser struct {
	client   llm.LLMClient
	renderer *templates.Renderer
}

// NewLLMChooser creates a chooser that sends requests through client.
func NewLLMChooser(client llm.LLMClient, renderer *templates.Renderer) *LLMChooser {
	return &LLMChooser{client: client, renderer: renderer}
}

// Choose renders the selector prompt and returns the model's raw answer.
func (c *LLMChooser) Choose(ctx context.Context, req ChoiceRequest) (string, error) {
	data := templates.SelectorData{CompletionToken: req.CompletionToken, Rules: req.Rules}
	for _, p := range req.Participants {
		data.Participants = append(data.Participants, templates.Participant{Name: p.Name, Description: p.Description})
	}
	system, err := c.renderer.Render(templates.SelectorTemplate, data)
	if err != nil {
		return "", err
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var b strings.Builder
	for i := range history {
		b.WriteString(history[i].String())
		b.WriteByte('\n')
	}
	prompt := "Conversation so far:\n" + utils.TruncateTokensSimple(b.String(), historyTokens) + "\nWho acts next?"

	request := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(prompt),
	})
	request.Temperature = llm.TemperatureDeterministic
	request.MaxTokens = 32

	resp, err := c.client.Complete(ctx, request)
	if err != nil {
		return "", fmt.Errorf("selector request failed: %w", err)
	}
	return resp.Content, nil
}

var _ Chooser = (*LLMChooser)(nil)
