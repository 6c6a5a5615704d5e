package policy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerAppendsEntries(t *testing.T) {
	root := t.TempDir()

	al, err := NewAuditLogger("ws-audit-append", root, config.AuditConfig{Enabled: true})
	require.NoError(t, err)

	ctx := logger.WithSessionID(logger.WithTraceID(context.Background(), "trace-1"), "sess-1")
	require.NoError(t, al.Log(ctx, &AuditEntry{
		ToolName: "Read",
		Decision: DecisionAllow,
		Rule:     "Read",
		Level:    LevelGlobal.String(),
		Input:    json.RawMessage(`{"path":"a.txt"}`),
	}))
	require.NoError(t, al.Log(ctx, &AuditEntry{
		ToolName: "Bash",
		Decision: DecisionDeny,
		Rule:     "Bash(rm:*)",
		Input:    json.RawMessage(`{"command":"rm x"}`),
	}))

	entries, err := al.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "trace-1", entries[0].TraceID)
	assert.Equal(t, "sess-1", entries[0].SessionID)
	assert.Equal(t, "ws-audit-append", entries[0].WorkspaceID)

	denied, err := al.Query(ctx, &AuditFilter{Decision: DecisionDeny})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "Bash", denied[0].ToolName)

	none, err := al.Query(ctx, &AuditFilter{StartTime: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditLoggerRedactsByRegex(t *testing.T) {
	al, err := NewAuditLogger("ws-audit-redact", t.TempDir(), config.AuditConfig{
		Enabled:        true,
		RedactPatterns: []string{`secret-[0-9]+`, `(unclosed`},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, al.Log(ctx, &AuditEntry{
		ToolName: "Bash",
		Decision: DecisionAllow,
		Input:    json.RawMessage(`{"token":"secret-12345","note":"(unclosed"}`),
		Output:   json.RawMessage(`{"result":"ok secret-67890"}`),
	}))

	entries, err := al.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.JSONEq(t, `{"token":"[REDACTED]","note":"[REDACTED]"}`, string(entries[0].Input))
	assert.JSONEq(t, `{"result":"ok [REDACTED]"}`, string(entries[0].Output))
}

func TestAuditLoggerDisabled(t *testing.T) {
	al, err := NewAuditLogger("ws", t.TempDir(), config.AuditConfig{})
	require.NoError(t, err)
	assert.False(t, al.Enabled())
	require.NoError(t, al.Log(context.Background(), &AuditEntry{ToolName: "Read"}))

	entries, err := al.Query(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
