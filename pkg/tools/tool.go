// Package tools implements the side-effect operations workers may invoke:
// artifact files, the knowledge store and screenshot comparison.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool names.
const (
	ToolWriteFile          = "write_file"
	ToolReadFile           = "read_file"
	ToolListFiles          = "list_output_files"
	ToolSearchKnowledge    = "search_knowledge"
	ToolAddKnowledge       = "add_knowledge"
	ToolKnowledgeSummary   = "get_knowledge_summary"
	ToolCompareScreenshots = "compare_screenshots"
)

// Property describes one JSON-schema property.
type Property struct {
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
}

// InputSchema is the object schema of a tool's arguments.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Type       string              `json:"type"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what backends are told about a tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecResult is the textual outcome fed back to the worker.
type ExecResult struct {
	Content string
	IsError bool
}

// Tool is one invocable side effect.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

func jsonResult(v map[string]any) (*ExecResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(b)}, nil
}

func errorResult(msg string) (*ExecResult, error) {
	b, err := json.Marshal(map[string]any{"success": false, "error": msg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error response: %w", err)
	}
	return &ExecResult{Content: string(b), IsError: true}, nil
}

// Schema renders the property as a JSON-schema map.
func (p *Property) Schema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Type == "array" && p.Items != nil {
		out["items"] = p.Items.Schema()
	}
	if p.Type == "object" && p.Properties != nil {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			if child != nil {
				props[name] = child.Schema()
			}
		}
		out["properties"] = props
	}
	return out
}

// PropertiesSchema renders every property as JSON-schema maps.
func (s *InputSchema) PropertiesSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name := range s.Properties {
		p := s.Properties[name]
		props[name] = p.Schema()
	}
	return props
}

// Schema renders the object schema.
func (s *InputSchema) Schema() map[string]any {
	out := map[string]any{"type": "object", "properties": s.PropertiesSchema()}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}
