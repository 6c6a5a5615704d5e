package builtin

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	toolcore "github.com/jgarizk/brainpro/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBash(t *testing.T, tool *BashTool, ctx context.Context, input string) map[string]interface{} {
	t.Helper()
	raw, err := tool.Execute(ctx, json.RawMessage(input))
	require.NoError(t, err)
	resp := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestBashTool_RunsInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	ctx := toolcore.WithWorkingDir(context.Background(), dir)

	resp := runBash(t, &BashTool{Shell: "/bin/sh"}, ctx, `{"command":"pwd"}`)
	assert.Equal(t, float64(0), resp["exit_code"])
	resolved, _ := filepath.EvalSymlinks(dir)
	out := filepath.Clean(strings.TrimSpace(resp["output"].(string)))
	assert.True(t, out == filepath.Clean(dir) || out == resolved, out)
	assert.NotContains(t, resp, "error")
}

func TestBashTool_NonZeroExitIsError(t *testing.T) {
	resp := runBash(t, &BashTool{Shell: "/bin/sh"}, context.Background(), `{"command":"echo oops >&2; exit 3"}`)
	assert.Equal(t, float64(3), resp["exit_code"])
	assert.Contains(t, resp["output"], "oops")
	require.Contains(t, resp, "error")
	assert.Equal(t, "exit_status", resp["error"].(map[string]interface{})["code"])
}

func TestBashTool_Timeout(t *testing.T) {
	tool := &BashTool{Shell: "/bin/sh", Timeout: 5 * time.Second}
	start := time.Now()
	resp := runBash(t, tool, context.Background(), `{"command":"sleep 5","timeout_ms":100}`)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, float64(-1), resp["exit_code"])
	assert.Equal(t, "timeout", resp["error"].(map[string]interface{})["code"])
}

func TestBashTool_TruncatesOutput(t *testing.T) {
	tool := &BashTool{Shell: "/bin/sh", MaxOutputBytes: 10}
	resp := runBash(t, tool, context.Background(), `{"command":"printf '0123456789abcdef'"}`)
	assert.Equal(t, true, resp["truncated"])
	assert.Equal(t, "0123456789\n[output truncated]", resp["output"])
}

func TestBashTool_NoShellSplitsArguments(t *testing.T) {
	tool := &BashTool{Shell: ShellNone}
	resp := runBash(t, tool, context.Background(), `{"command":"printf '%s-%s' 'a b' c"}`)
	assert.Equal(t, "a b-c", resp["output"])

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo 'unterminated"}`))
	assert.Error(t, err)
}

func TestBashTool_RequiresCommand(t *testing.T) {
	_, err := (&BashTool{}).Execute(context.Background(), json.RawMessage(`{"command":"  "}`))
	assert.Error(t, err)
}

func TestTruncateOutputKeepsRunesWhole(t *testing.T) {
	out, truncated := truncateOutput("héllo", 2)
	assert.True(t, truncated)
	assert.Equal(t, "h\n[output truncated]", out)

	out, truncated = truncateOutput("short", 10)
	assert.False(t, truncated)
	assert.Equal(t, "short", out)
}
