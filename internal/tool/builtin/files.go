package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/pathutil"
	toolcore "github.com/jgarizk/brainpro/internal/tool"

	"github.com/natefinch/atomic"
)

func init() {
	toolcore.RegisterBuiltin("Read", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &ReadTool{MaxBytes: options.ReadMaxBytes}, nil
	})
	toolcore.RegisterBuiltin("Write", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &WriteTool{}, nil
	})
	toolcore.RegisterBuiltin("Edit", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &EditTool{}, nil
	})
}

type pathInput struct {
	Path     string `json:"path"`
	FilePath string `json:"file_path"`
}

func (p pathInput) resolve(ctx context.Context) (string, error) {
	raw := p.Path
	if raw == "" {
		raw = p.FilePath
	}
	if strings.TrimSpace(raw) == "" {
		return "", bpErrors.InvalidInput("path is required")
	}
	resolved, err := pathutil.Resolve(toolcore.WorkingDir(ctx), raw)
	if err != nil {
		return "", bpErrors.InvalidInput(err.Error())
	}
	return resolved, nil
}

func fileError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return bpErrors.NotFound(fmt.Sprintf("file not found: %s", path))
	case errors.Is(err, fs.ErrPermission):
		return bpErrors.PermissionDenied(fmt.Sprintf("cannot access %s", path))
	default:
		return bpErrors.Wrap(err, path)
	}
}

var pathProperties = map[string]interface{}{
	"path": map[string]interface{}{
		"type":        "string",
		"description": "File path, absolute or relative to the working directory",
	},
	"file_path": map[string]interface{}{
		"type":        "string",
		"description": "Alias of path",
	},
}

func withPathProperties(extra map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(pathProperties)+len(extra))
	for k, v := range pathProperties {
		props[k] = v
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// ReadTool returns a file's text, optionally a window of lines.
type ReadTool struct {
	MaxBytes int
}

type readInput struct {
	pathInput
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read a text file. offset is the first line (1-based) and limit the number of lines to return."
}

func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withPathProperties(map[string]interface{}{
			"offset": map[string]interface{}{"type": "integer"},
			"limit":  map[string]interface{}{"type": "integer"},
		}),
	}
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args readInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	path, err := args.resolve(ctx)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	if info.IsDir() {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("%s is a directory", path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("%s looks like a binary file", path))
	}

	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	total := len(lines)

	start := 0
	if args.Offset > 1 {
		start = min(args.Offset-1, total)
	}
	end := total
	if args.Limit > 0 {
		end = min(start+args.Limit, total)
	}
	content := strings.Join(lines[start:end], "")

	truncated := false
	if t.MaxBytes > 0 && len(content) > t.MaxBytes {
		content, truncated = truncateOutput(content, t.MaxBytes)
	}

	return json.Marshal(map[string]interface{}{
		"path":        path,
		"content":     content,
		"start_line":  start + 1,
		"end_line":    end,
		"total_lines": total,
		"truncated":   truncated,
	})
}

// WriteTool creates or replaces a file atomically.
type WriteTool struct{}

type writeInput struct {
	pathInput
	Content string `json:"content"`
}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Create or overwrite a file with the given content. Parent directories are created."
}

func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withPathProperties(map[string]interface{}{
			"content": map[string]interface{}{"type": "string"},
		}),
		"required": []string{"content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args writeInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	path, err := args.resolve(ctx)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fileError(path, err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(args.Content)); err != nil {
		return nil, fileError(path, err)
	}

	return json.Marshal(map[string]interface{}{
		"ok":            true,
		"path":          path,
		"bytes_written": len(args.Content),
		"created":       created,
	})
}

// EditTool replaces exact text in an existing file.
type EditTool struct{}

type editInput struct {
	pathInput
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Replace old_string with new_string in a file. old_string must match exactly once unless replace_all is set."
}

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withPathProperties(map[string]interface{}{
			"old_string":  map[string]interface{}{"type": "string"},
			"new_string":  map[string]interface{}{"type": "string"},
			"replace_all": map[string]interface{}{"type": "boolean"},
		}),
		"required": []string{"old_string", "new_string"},
	}
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args editInput
	if err := toolcore.DecodeInput(input, &args); err != nil {
		return nil, bpErrors.InvalidInput(err.Error())
	}
	path, err := args.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if args.OldString == "" {
		return nil, bpErrors.InvalidInput("old_string must not be empty")
	}
	if args.OldString == args.NewString {
		return nil, bpErrors.InvalidInput("old_string and new_string are identical")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	content := string(data)

	count := strings.Count(content, args.OldString)
	switch {
	case count == 0:
		return nil, bpErrors.NotFound(fmt.Sprintf("old_string not found in %s", path))
	case count > 1 && !args.ReplaceAll:
		return nil, bpErrors.InvalidInput(fmt.Sprintf("old_string matches %d times in %s; add context or set replace_all", count, path))
	}

	replacements := 1
	if args.ReplaceAll {
		replacements = count
		content = strings.ReplaceAll(content, args.OldString, args.NewString)
	} else {
		content = strings.Replace(content, args.OldString, args.NewString, 1)
	}

	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return nil, fileError(path, err)
	}

	return json.Marshal(map[string]interface{}{
		"ok":           true,
		"path":         path,
		"replacements": replacements,
	})
}
