package tools

import (
	"context"

	"figflow/pkg/utils"
)

// ImageComparer scores how closely a rendered page matches a design image.
// Acquisition and comparison of images live outside figflow.
type ImageComparer interface {
	Compare(ctx context.Context, reference, candidate string) (similarity float64, detail string, err error)
}

// CompareScreenshotsTool exposes an ImageComparer to the fidelity reviewer.
type CompareScreenshotsTool struct {
	comparer ImageComparer
}

// NewCompareScreenshotsTool creates a compare_screenshots tool.
func NewCompareScreenshotsTool(c ImageComparer) *CompareScreenshotsTool {
	return &CompareScreenshotsTool{comparer: c}
}

func (t *CompareScreenshotsTool) Name() string { return ToolCompareScreenshots }

func (t *CompareScreenshotsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCompareScreenshots,
		Description: "Compare a design reference image with a screenshot of the generated page and report a similarity score between 0 and 1.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"reference": {Type: "string", Description: "Path or URL of the design image"},
				"candidate": {Type: "string", Description: "Path or URL of the rendered screenshot"},
			},
			Required: []string{"reference", "candidate"},
		},
	}
}

func (t *CompareScreenshotsTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	ref, err := utils.GetMapField[string](args, "reference")
	if err != nil {
		return errorResult("reference is required and must be a string")
	}
	cand, err := utils.GetMapField[string](args, "candidate")
	if err != nil {
		return errorResult("candidate is required and must be a string")
	}
	score, detail, err := t.comparer.Compare(ctx, ref, cand)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "similarity": score, "detail": detail})
}
