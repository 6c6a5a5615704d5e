package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(t *testing.T) *store.Worker {
	t.Helper()
	w, err := store.NewWorker("ws", t.TempDir(), store.RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestSessionAccessors(t *testing.T) {
	s := New(Options{ActorID: "main", Target: "gpt-4o@chatgpt", Messages: []contract.Message{{Role: contract.RoleUser, Content: "hi"}}})
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "main", s.ActorID())

	s.AppendMessages(contract.Message{Role: contract.RoleAssistant, Content: "hello"})
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", s.Messages()[0].Content, "Messages returns a copy")
	assert.Equal(t, "hello", s.LastAssistantText())

	s.SetPlanningMode(true)
	assert.True(t, s.PlanningMode())
	s.SetTarget("x@y")
	assert.Equal(t, "x@y", s.Target())
}

func TestSessionPolicySnapshotAppliesProfilesAndModel(t *testing.T) {
	base := policy.NewStack()
	base.AddGlobalPolicy(policy.AgentPolicy{Deny: []string{"Bash"}})
	src := policy.NewSource(base)

	s := New(Options{ActorID: "main", Policy: src})
	s.SetProfilePolicy("trusted", policy.AgentPolicy{Allow: []string{"Bash"}})

	snap := s.Policy("gpt-4o")
	assert.Equal(t, "gpt-4o", snap.Model())
	assert.Equal(t, policy.DecisionAllow, snap.Resolve("main", "Bash", json.RawMessage(`{"command":"ls"}`)).Decision)

	// The shared stack is untouched.
	assert.Equal(t, policy.DecisionDeny, src.Current().Resolve("main", "Bash", nil).Decision)
	assert.Empty(t, src.Current().Model())

	s.ClearProfilePolicies()
	assert.Equal(t, policy.DecisionDeny, s.Policy("").Resolve("main", "Bash", nil).Decision)
}

func TestManagerOpenRecordsSessionAndTranscript(t *testing.T) {
	w := newWorker(t)
	m := NewManager(w, nil, nil)

	ctx := logger.WithTurnID(context.Background(), "turn-1")
	s := m.Open(ctx, Options{ID: "sess-1", ActorID: "main", Target: "m@b"})
	s.Record(ctx, store.RoleUser, "hello", nil)
	s.RecordTool(ctx, store.RoleTool, "Read", "call-1", `{"content":"x"}`, map[string]any{"ok": true})

	meta, err := w.GetSession("sess-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "main", meta.ActorID)
	assert.Equal(t, "m@b", meta.Target)

	entries, err := m.History("sess-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "turn-1", entries[0].TurnID)
	assert.Equal(t, store.RoleTool, entries[1].Role)
	assert.Equal(t, "call-1", entries[1].ToolCallID)
}

func TestRecordWithoutTranscriptIsNoop(t *testing.T) {
	s := New(Options{})
	assert.NotPanics(t, func() { s.Record(context.Background(), store.RoleUser, "x", nil) })
}
