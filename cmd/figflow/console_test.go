package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/bridge"
	"figflow/pkg/orchestrator"
	"figflow/pkg/transcript"
)

func turnEvent(source string, typ transcript.Type, content transcript.Content) bridge.Event {
	turn := transcript.NewTurn(source, typ, content)
	return bridge.Event{Kind: bridge.KindTurn, Turn: &turn}
}

func TestConsoleRender(t *testing.T) {
	c := newConsole(&bytes.Buffer{}, bridge.New(time.Minute))

	out := c.render(turnEvent("figma_analyzer", transcript.TypeAgent, transcript.Text("Which font?")))
	assert.Contains(t, out, "figma_analyzer")
	assert.Contains(t, out, "Which font?")

	out = c.render(turnEvent(transcript.SourceSystem, transcript.TypeInputRequest, transcript.Text("Which font?")))
	assert.Contains(t, out, "? Which font?")
	assert.True(t, strings.HasSuffix(out, "> "))

	out = c.render(turnEvent("code_writer", transcript.TypeTool,
		transcript.Call(transcript.ToolCall{Name: "write_file", Result: "ok"})))
	assert.Contains(t, out, "[tool] write_file({}) -> ok")

	out = c.render(turnEvent(transcript.SourceSystem, transcript.TypeError, transcript.Err(errors.New("boom"))))
	assert.Contains(t, out, "error: boom")

	out = c.render(turnEvent(transcript.SourceSystem, transcript.TypeComplete, transcript.Text(orchestrator.WorkflowComplete)))
	assert.Contains(t, out, "run finished")

	assert.Empty(t, c.render(bridge.Event{Kind: bridge.KindStatus, Status: &bridge.Status{Running: true}}))
}

func TestConsoleStreamedReply(t *testing.T) {
	c := newConsole(&bytes.Buffer{}, bridge.New(time.Minute))

	var b strings.Builder
	b.WriteString(c.render(bridge.Event{Kind: bridge.KindChunk, Chunk: &bridge.Chunk{Source: "code_writer", Text: "hel"}}))
	b.WriteString(c.render(bridge.Event{Kind: bridge.KindChunk, Chunk: &bridge.Chunk{Source: "code_writer", Text: "lo"}}))
	final := c.render(turnEvent("code_writer", transcript.TypeAgent, transcript.Text("hello")))

	assert.Contains(t, b.String(), "code_writer")
	assert.Contains(t, b.String(), "hello")
	assert.Equal(t, "\n", final, "streamed reply is not printed twice")

	out := c.render(turnEvent("code_reviewer", transcript.TypeAgent, transcript.Text("REVIEW_APPROVED")))
	assert.Contains(t, out, "REVIEW_APPROVED")
}

func TestConsoleReadInput(t *testing.T) {
	b := bridge.New(time.Minute)
	var out bytes.Buffer
	c := newConsole(&out, b)

	c.readInput(strings.NewReader("too early\n"))
	assert.Contains(t, out.String(), "no question pending")

	answer := make(chan string, 1)
	go func() {
		text, err := b.RequestInput(context.Background(), "Which font?")
		if err == nil {
			answer <- text
		}
		close(answer)
	}()
	require.Eventually(t, func() bool { return b.Status().WaitingForInput }, time.Second, 5*time.Millisecond)

	c.readInput(strings.NewReader("Roboto\n"))
	assert.Equal(t, "Roboto", <-answer)
}

func TestConsoleObservesBridge(t *testing.T) {
	b := bridge.New(time.Minute)
	var out syncBuffer
	c := newConsole(&out, b)
	c.start()

	b.Publish(transcript.NewTurn("figma_analyzer", transcript.TypeAgent, transcript.Text("ANALYSIS_COMPLETE")))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ANALYSIS_COMPLETE") },
		time.Second, 5*time.Millisecond)

	c.stop()
	assert.Equal(t, 0, b.SubscriberCount())
}

// syncBuffer is written by the console goroutine and read by the test.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
