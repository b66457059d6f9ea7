package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/knowledge"
)

func decode(t *testing.T, res *ExecResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	return out
}

func TestFileToolsRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	res, err := NewWriteFileTool(root).Exec(ctx, map[string]any{"path": "src/App.jsx", "content": "export default 1"})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, err := os.ReadFile(filepath.Join(root, "src", "App.jsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default 1", string(data))

	res, err = NewReadFileTool(root).Exec(ctx, map[string]any{"path": "src/App.jsx"})
	require.NoError(t, err)
	assert.Equal(t, "export default 1", decode(t, res)["content"])

	res, err = NewListFilesTool(root).Exec(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"src/App.jsx"}, decode(t, res)["files"])
}

func TestWriteFileRejectsTraversal(t *testing.T) {
	res, err := NewWriteFileTool(t.TempDir()).Exec(context.Background(), map[string]any{"path": "../evil.js", "content": "x"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, false, decode(t, res)["success"])
}

func TestReadMissingFile(t *testing.T) {
	res, err := NewReadFileTool(t.TempDir()).Exec(context.Background(), map[string]any{"path": "nope.css"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListFilesMissingRoot(t *testing.T) {
	files, err := ListFiles(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestKnowledgeTools(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewStore(knowledge.NewMemoryBackend(), nil, nil)

	res, err := NewAddKnowledgeTool(store).Exec(ctx, map[string]any{
		"category": "layout_patterns", "name": "sticky header", "description": "position sticky top 0",
	})
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content)

	res, err = NewAddKnowledgeTool(store).Exec(ctx, map[string]any{"category": "bogus", "name": "x"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)

	res, err = NewSearchKnowledgeTool(snap).Exec(ctx, map[string]any{"keyword": "sticky"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, err = NewKnowledgeSummaryTool(snap).Exec(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "sticky header")
}

type fakeComparer struct {
	score float64
	err   error
}

func (f fakeComparer) Compare(_ context.Context, _, _ string) (float64, string, error) {
	return f.score, "pixel diff", f.err
}

func TestCompareScreenshots(t *testing.T) {
	ctx := context.Background()
	args := map[string]any{"reference": "design.png", "candidate": "shot.png"}

	res, err := NewCompareScreenshotsTool(fakeComparer{score: 0.82}).Exec(ctx, args)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, decode(t, res)["similarity"], 1e-9)

	res, err = NewCompareScreenshotsTool(fakeComparer{err: errors.New("no browser")}).Exec(ctx, args)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRegistry(t *testing.T) {
	root := t.TempDir()
	r, err := NewRegistry(NewWriteFileTool(root), NewReadFileTool(root))
	require.NoError(t, err)

	assert.Error(t, r.Register(NewWriteFileTool(root)))
	assert.Equal(t, []string{ToolReadFile, ToolWriteFile}, r.Names())

	sub, err := r.Subset([]string{ToolWriteFile})
	require.NoError(t, err)
	defs := Definitions(sub)
	require.Len(t, defs, 1)
	assert.Equal(t, ToolWriteFile, defs[0].Name)

	_, err = r.Subset([]string{"shell"})
	assert.Error(t, err)
}

func TestSchemaRendering(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"files": {Type: "array", Description: "paths", Items: &Property{Type: "string"}},
			"mode":  {Type: "string", Enum: []string{"a", "b"}},
		},
		Required: []string{"files"},
	}
	out := schema.Schema()
	assert.Equal(t, "object", out["type"])
	assert.Equal(t, []string{"files"}, out["required"])

	props := out["properties"].(map[string]any)
	files := props["files"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, files["items"])
	assert.Equal(t, []string{"a", "b"}, props["mode"].(map[string]any)["enum"])
}
