// Package transcript holds the append-only record of a pipeline run.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type tags what produced a turn.
type Type string

const (
	TypeAgent        Type = "agent"
	TypeTool         Type = "tool"
	TypeSystem       Type = "system"
	TypeUser         Type = "user"
	TypeError        Type = "error"
	TypeInputRequest Type = "input_request"
	TypeComplete     Type = "complete"
)

// Well-known sources that are not workers.
const (
	SourceSystem = "system"
	SourceUser   = "user"
)

// Kind discriminates Content.
type Kind string

const (
	KindText     Kind = "text"
	KindToolCall Kind = "tool_call"
	KindError    Kind = "error"
)

// maxArgPreview bounds how much of a tool call's arguments String renders.
const maxArgPreview = 200

// ToolCall describes one side-effect invocation and its outcome.
type ToolCall struct {
	Arguments map[string]any `json:"arguments,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Result    string         `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Content is a tagged variant: exactly one of Text, ToolCall or Error is meaningful, per Kind.
type Content struct {
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Kind     Kind      `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Text builds text content.
func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// Call builds tool-invocation content.
func Call(tc ToolCall) Content {
	return Content{Kind: KindToolCall, ToolCall: &tc}
}

// Err builds error content.
func Err(err error) Content {
	if err == nil {
		return Content{Kind: KindError}
	}
	return Content{Kind: KindError, Error: err.Error()}
}

// String renders the content for prompts and observers.
func (c Content) String() string {
	switch c.Kind {
	case KindToolCall:
		if c.ToolCall == nil {
			return "[tool]"
		}
		args := "{}"
		if len(c.ToolCall.Arguments) > 0 {
			if b, err := json.Marshal(c.ToolCall.Arguments); err == nil {
				args = string(b)
			}
		}
		if len(args) > maxArgPreview {
			args = args[:maxArgPreview] + "..."
		}
		s := fmt.Sprintf("[tool] %s(%s)", c.ToolCall.Name, args)
		if c.ToolCall.Result != "" {
			s += " -> " + c.ToolCall.Result
		}
		return s
	case KindError:
		return "[error] " + c.Error
	default:
		return c.Text
	}
}

// Contains reports whether the content's text carries marker. Tool calls never carry markers.
func (c Content) Contains(marker string) bool {
	switch c.Kind {
	case KindText:
		return strings.Contains(c.Text, marker)
	case KindError:
		return strings.Contains(c.Error, marker)
	default:
		return false
	}
}

// Turn is one immutable transcript entry.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Type      Type      `json:"type"`
	Content   Content   `json:"content"`
	Seq       int       `json:"seq"`
}

// NewTurn builds an unsequenced turn stamped now.
func NewTurn(source string, typ Type, content Content) Turn {
	return Turn{Source: source, Type: typ, Content: content, Timestamp: time.Now().UTC()}
}

func (t Turn) String() string {
	return fmt.Sprintf("[%s] %s", t.Source, t.Content.String())
}
