package agent

import (
	"context"
	"fmt"
	"strings"

	"figflow/pkg/transcript"
)

// defaultQuestion is asked when no earlier turn says what is needed.
const defaultQuestion = "Please provide the missing information."

// InputRequester suspends until the observer answers. *bridge.Bridge satisfies it.
type InputRequester interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// HumanWorker relays the latest question to the observer and returns the answer.
type HumanWorker struct {
	requester   InputRequester
	name        string
	description string
}

// NewHumanWorker creates a human proxy.
func NewHumanWorker(name, description string, requester InputRequester) *HumanWorker {
	return &HumanWorker{name: name, description: description, requester: requester}
}

func (h *HumanWorker) Name() string        { return h.name }
func (h *HumanWorker) Description() string { return h.description }

// Invoke asks the question carried by the most recent text turn of another
// worker. The answer is a user turn under the worker's own name.
func (h *HumanWorker) Invoke(ctx context.Context, call Call) (transcript.Turn, error) {
	answer, err := h.requester.Ask(ctx, question(call.History, h.name))
	if err != nil {
		return transcript.Turn{}, fmt.Errorf("%s: %w", h.name, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "(no answer)"
	}
	return transcript.NewTurn(h.name, transcript.TypeUser, transcript.Text(answer)), nil
}

func question(history []transcript.Turn, self string) string {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Source == self || t.Type != transcript.TypeAgent || t.Content.Kind != transcript.KindText {
			continue
		}
		if q := strings.TrimSpace(t.Content.Text); q != "" {
			return q
		}
	}
	return defaultQuestion
}
