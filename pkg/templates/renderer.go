// Package templates renders the prompts figflow sends to models.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PromptTemplate names an embedded template.
type PromptTemplate string

const (
	// SelectorTemplate asks a model to pick the next participant.
	SelectorTemplate PromptTemplate = "selector.tpl.md"
	// TaskTemplate is the task handed to every worker of a run.
	TaskTemplate PromptTemplate = "task.tpl.md"
	// WorkerSystemTemplate is an LLM worker's system prompt.
	WorkerSystemTemplate PromptTemplate = "worker_system.tpl.md"
)

// Participant is one named option offered to the selector.
type Participant struct {
	Name        string
	Description string
}

// SelectorData feeds SelectorTemplate.
type SelectorData struct {
	CompletionToken string
	Participants    []Participant
	Rules           []string
}

// Design holds the design links a task refers to.
type Design struct {
	PCLink        string
	PCFileKey     string
	PCNodeID      string
	MobileLink    string
	MobileFileKey string
	MobileNodeID  string
}

// TaskData feeds TaskTemplate.
type TaskData struct {
	Design     Design
	Correction string
	Steps      []Participant
}

// WorkerData feeds WorkerSystemTemplate.
type WorkerData struct {
	Name         string
	Description  string
	Instructions string
	Rules        string
	CodingRules  string
	Knowledge    string
	Tools        []string
	Markers      []string
}

// Renderer holds the parsed templates.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PromptTemplate]*template.Template)}
	funcs := template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"join": strings.Join,
	}
	for _, name := range []PromptTemplate{SelectorTemplate, TaskTemplate, WorkerSystemTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(funcs).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// MustRenderer is NewRenderer for package-level initialization; embedded
// templates that fail to parse are a build defect.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes name with data.
func (r *Renderer) Render(name PromptTemplate, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
