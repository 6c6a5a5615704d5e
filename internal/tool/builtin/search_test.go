package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	toolcore "github.com/jgarizk/brainpro/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"**/*.go", "main.go", true},
		{"**/*.go", "internal/tool/tool.go", true},
		{"*.go", "internal/tool.go", false},
		{"internal/**", "internal/a/b.txt", true},
		{"internal/**/b.txt", "internal/b.txt", true},
		{"cmd/*/main.go", "cmd/brainpro/main.go", true},
		{"cmd/*/main.go", "cmd/a/b/main.go", false},
		{"README.md", "README.md", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchGlob(c.pattern, c.name), "%s vs %s", c.pattern, c.name)
	}
}

func TestGlobTool(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":             "package main",
		"internal/a/a.go":     "package a",
		"internal/a/a.txt":    "text",
		".git/objects/x.go":   "skip",
		"node_modules/m/i.go": "skip",
	})
	ctx := toolcore.WithWorkingDir(context.Background(), dir)

	resp := runTool(t, &GlobTool{}, ctx, `{"pattern":"**/*.go"}`)
	assert.Equal(t, []interface{}{"internal/a/a.go", "main.go"}, resp["files"])

	resp = runTool(t, &GlobTool{MaxResults: 1}, ctx, `{"pattern":"**/*.go"}`)
	assert.Equal(t, true, resp["truncated"])
	assert.Len(t, resp["files"], 1)

	resp = runTool(t, &GlobTool{}, ctx, `{"pattern":"*.txt","path":"internal/a"}`)
	assert.Equal(t, []interface{}{"a.txt"}, resp["files"])
}

func TestGrepTool(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.go":    "package a\n// TODO: fix\nfunc A() {}\n",
		"b.txt":   "todo later\n",
		"c/d.go":  "package d\n// todo: lower\n",
		"bin.dat": "TODO\x00binary",
	})
	ctx := toolcore.WithWorkingDir(context.Background(), dir)

	resp := runTool(t, &GrepTool{}, ctx, `{"pattern":"TODO"}`)
	matches := resp["matches"].([]interface{})
	require.Len(t, matches, 1)
	first := matches[0].(map[string]interface{})
	assert.Equal(t, "a.go", first["file"])
	assert.Equal(t, float64(2), first["line"])

	resp = runTool(t, &GrepTool{}, ctx, `{"pattern":"todo","case_insensitive":true,"glob":"*.go"}`)
	assert.Equal(t, float64(2), resp["count"])

	resp = runTool(t, &GrepTool{MaxResults: 1}, ctx, `{"pattern":"(?i)todo"}`)
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, true, resp["truncated"])

	_, err := (&GrepTool{}).Execute(ctx, []byte(`{"pattern":"("}`))
	assert.Error(t, err)
}
