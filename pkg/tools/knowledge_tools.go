package tools

import (
	"context"
	"fmt"

	"figflow/pkg/knowledge"
	"figflow/pkg/utils"
)

// KnowledgeWriter appends entries. *knowledge.Store satisfies it.
type KnowledgeWriter interface {
	Append(ctx context.Context, e knowledge.Entry) (knowledge.Entry, error)
}

// SearchKnowledgeTool searches the run's knowledge snapshot.
type SearchKnowledgeTool struct {
	snapshot *knowledge.Snapshot
}

// NewSearchKnowledgeTool creates a search_knowledge tool over snap.
func NewSearchKnowledgeTool(snap *knowledge.Snapshot) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{snapshot: snap}
}

func (t *SearchKnowledgeTool) Name() string { return ToolSearchKnowledge }

func (t *SearchKnowledgeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchKnowledge,
		Description: "Search the shared knowledge base for reusable CSS classes, layout patterns and coding tips.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"keyword":  {Type: "string", Description: "Keywords such as flex, grid, center, responsive"},
				"category": {Type: "string", Description: "Optional category filter", Enum: knowledge.Categories},
			},
			Required: []string{"keyword"},
		},
	}
}

func (t *SearchKnowledgeTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	keyword, err := utils.GetMapField[string](args, "keyword")
	if err != nil {
		return errorResult("keyword is required and must be a string")
	}
	category := utils.GetMapFieldOr(args, "category", "")
	results := t.snapshot.Search(keyword, category, 10)
	return jsonResult(map[string]any{"success": true, "count": len(results), "results": results})
}

// AddKnowledgeTool appends a new entry. The entry is visible to later runs only.
type AddKnowledgeTool struct {
	writer KnowledgeWriter
}

// NewAddKnowledgeTool creates an add_knowledge tool.
func NewAddKnowledgeTool(w KnowledgeWriter) *AddKnowledgeTool {
	return &AddKnowledgeTool{writer: w}
}

func (t *AddKnowledgeTool) Name() string { return ToolAddKnowledge }

func (t *AddKnowledgeTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolAddKnowledge,
		Description: "Add a reusable CSS class, layout pattern or coding tip to the shared knowledge base.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"category":    {Type: "string", Description: "Entry category", Enum: knowledge.Categories},
				"name":        {Type: "string", Description: "Short entry name"},
				"description": {Type: "string", Description: "What the entry is for"},
				"code":        {Type: "string", Description: "Example code"},
			},
			Required: []string{"category", "name", "description"},
		},
	}
}

func (t *AddKnowledgeTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	entry := knowledge.Entry{
		Category:    utils.GetMapFieldOr(args, "category", ""),
		Name:        utils.GetMapFieldOr(args, "name", ""),
		Description: utils.GetMapFieldOr(args, "description", ""),
		Code:        utils.GetMapFieldOr(args, "code", ""),
	}
	stored, err := t.writer.Append(ctx, entry)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "id": stored.ID, "message": fmt.Sprintf("added to [%s]: %s", stored.Category, stored.Name)})
}

// KnowledgeSummaryTool renders the whole snapshot.
type KnowledgeSummaryTool struct {
	snapshot *knowledge.Snapshot
}

// NewKnowledgeSummaryTool creates a get_knowledge_summary tool.
func NewKnowledgeSummaryTool(snap *knowledge.Snapshot) *KnowledgeSummaryTool {
	return &KnowledgeSummaryTool{snapshot: snap}
}

func (t *KnowledgeSummaryTool) Name() string { return ToolKnowledgeSummary }

func (t *KnowledgeSummaryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolKnowledgeSummary,
		Description: "Get the complete knowledge base grouped by category.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *KnowledgeSummaryTool) Exec(_ context.Context, _ map[string]any) (*ExecResult, error) {
	return &ExecResult{Content: t.snapshot.Summary()}, nil
}
