package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"figflow/pkg/utils"
)

const maxReadBytes = 256 * 1024

// WriteFileTool writes an artifact under the output directory.
type WriteFileTool struct {
	root string
}

// NewWriteFileTool creates a write_file tool rooted at root.
func NewWriteFileTool(root string) *WriteFileTool {
	return &WriteFileTool{root: root}
}

func (t *WriteFileTool) Name() string { return ToolWriteFile }

func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Write a generated source file (HTML, CSS, JS, JSX, Vue) into the output directory, replacing any existing file.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "Path relative to the output directory, e.g. src/App.jsx"},
				"content": {Type: "string", Description: "Complete file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	rel, err := utils.GetMapField[string](args, "path")
	if err != nil {
		return errorResult("path is required and must be a string")
	}
	content, err := utils.GetMapField[string](args, "content")
	if err != nil {
		return errorResult("content is required and must be a string")
	}
	full, err := utils.ResolveWithin(t.root, rel)
	if err != nil {
		return errorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errorResult(fmt.Sprintf("create directory: %v", err))
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return errorResult(fmt.Sprintf("write %s: %v", rel, err))
	}
	return jsonResult(map[string]any{"success": true, "path": rel, "bytes": len(content)})
}

// ReadFileTool reads an artifact from the output directory.
type ReadFileTool struct {
	root string
}

// NewReadFileTool creates a read_file tool rooted at root.
func NewReadFileTool(root string) *ReadFileTool {
	return &ReadFileTool{root: root}
}

func (t *ReadFileTool) Name() string { return ToolReadFile }

func (t *ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read a previously generated file from the output directory.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Path relative to the output directory"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *ReadFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	rel, err := utils.GetMapField[string](args, "path")
	if err != nil {
		return errorResult("path is required and must be a string")
	}
	full, err := utils.ResolveWithin(t.root, rel)
	if err != nil {
		return errorResult(err.Error())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return errorResult(fmt.Sprintf("file not found or not readable: %s", rel))
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	return jsonResult(map[string]any{"success": true, "path": rel, "content": string(data), "truncated": truncated})
}

// ListFilesTool lists generated artifacts.
type ListFilesTool struct {
	root string
}

// NewListFilesTool creates a list_output_files tool rooted at root.
func NewListFilesTool(root string) *ListFilesTool {
	return &ListFilesTool{root: root}
}

func (t *ListFilesTool) Name() string { return ToolListFiles }

func (t *ListFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListFiles,
		Description: "List every file generated so far in the output directory.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *ListFilesTool) Exec(_ context.Context, _ map[string]any) (*ExecResult, error) {
	files, err := ListFiles(t.root)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]any{"success": true, "files": files})
}

// ListFiles returns every regular file under root as slash-separated relative paths.
func ListFiles(root string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err //nolint:wrapcheck // surfaced below
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return files, nil
}
