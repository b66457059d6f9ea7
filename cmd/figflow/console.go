package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"figflow/pkg/bridge"
	"figflow/pkg/orchestrator"
	"figflow/pkg/transcript"
)

type consoleStyles struct {
	source  lipgloss.Style
	user    lipgloss.Style
	system  lipgloss.Style
	tool    lipgloss.Style
	failure lipgloss.Style
	prompt  lipgloss.Style
	done    lipgloss.Style
}

func newConsoleStyles() consoleStyles {
	return consoleStyles{
		source:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		user:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		system:  lipgloss.NewStyle().Faint(true),
		tool:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		failure: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		prompt:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		done:    lipgloss.NewStyle().Bold(true),
	}
}

// console is the terminal observer of a run: it prints bridge events and
// answers input requests from stdin.
type console struct {
	out       io.Writer
	bridge    *bridge.Bridge
	sub       *bridge.Subscription
	done      chan struct{}
	styles    consoleStyles
	streaming string
	mu        sync.Mutex
}

func newConsole(out io.Writer, b *bridge.Bridge) *console {
	return &console{out: out, bridge: b, styles: newConsoleStyles()}
}

// start subscribes and prints events until stop.
func (c *console) start() {
	c.sub = c.bridge.Subscribe()
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for ev := range c.sub.C() {
			c.print(c.render(ev))
		}
	}()
}

func (c *console) stop() {
	if c.sub == nil {
		return
	}
	c.bridge.Unsubscribe(c.sub)
	<-c.done
}

func (c *console) print(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, s)
}

// readInput forwards stdin lines to the pending input request. Lines typed
// while nothing is asked are dropped.
func (c *console) readInput(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if !c.bridge.Status().WaitingForInput {
			c.print(c.styles.system.Render("(no question pending)") + "\n")
			continue
		}
		c.bridge.ProvideInput(line)
	}
}

// render formats one event. Only the event loop calls it.
func (c *console) render(ev bridge.Event) string {
	switch ev.Kind {
	case bridge.KindChunk:
		return c.renderChunk(ev.Chunk)
	case bridge.KindTurn:
		if ev.Turn != nil {
			return c.renderTurn(ev.Turn)
		}
	}
	return ""
}

func (c *console) renderChunk(ch *bridge.Chunk) string {
	if ch == nil || ch.Text == "" {
		return ""
	}
	var b strings.Builder
	if c.streaming != ch.Source {
		if c.streaming != "" {
			b.WriteString("\n")
		}
		b.WriteString(c.styles.source.Render(ch.Source) + ": ")
		c.streaming = ch.Source
	}
	b.WriteString(ch.Text)
	return b.String()
}

func (c *console) renderTurn(t *transcript.Turn) string {
	var prefix string
	if c.streaming != "" {
		streamed := c.streaming == t.Source && t.Type == transcript.TypeAgent
		c.streaming = ""
		if streamed {
			return "\n"
		}
		prefix = "\n"
	}

	text := strings.TrimSpace(t.Content.String())
	var line string
	switch t.Type {
	case transcript.TypeAgent:
		line = c.styles.source.Render(t.Source) + ": " + text
	case transcript.TypeUser:
		line = c.styles.user.Render("you") + ": " + text
	case transcript.TypeTool:
		line = c.styles.tool.Render("  " + text)
	case transcript.TypeError:
		line = c.styles.failure.Render("error: " + t.Content.Error)
	case transcript.TypeInputRequest:
		line = c.styles.prompt.Render("? "+text) + "\n> "
		return prefix + line
	case transcript.TypeComplete:
		if text == orchestrator.WorkflowComplete {
			line = c.styles.done.Render("run finished")
		} else {
			line = c.styles.done.Render(text)
		}
	default:
		line = c.styles.system.Render("* " + text)
	}
	return prefix + line + "\n"
}
