package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTurnsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listTurns(&buf, nil, skill.OutputFormatTable))
	assert.Contains(t, buf.String(), "No suspended turns.")

	buf.Reset()
	turns := []gateway.Summary{{
		Pending:   &agent.Pending{TurnID: "turn-1", Reason: turnstate.AwaitingApproval, ToolName: "Bash"},
		SessionID: "s1",
		Target:    "fake-model@fake",
		CreatedAt: "2026-01-02T03:04:05Z",
	}}
	require.NoError(t, listTurns(&buf, turns, skill.OutputFormatTable))
	out := buf.String()
	assert.Contains(t, out, "turn-1")
	assert.Contains(t, out, "awaiting_approval")
	assert.Contains(t, out, "Bash")
}

func TestListTurnsEmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listTurns(&buf, nil, skill.OutputFormatJSON))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestShowTurn(t *testing.T) {
	store := turnstate.NewMemoryStore(turnstate.Options{TTL: time.Hour})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &turnstate.TurnState{
		TurnID:      "turn-q",
		SessionID:   "s1",
		TargetModel: "fake-model@fake",
		YieldReason: turnstate.AwaitingInput,
		PendingAction: turnstate.PendingAction{
			CallID:           "q1",
			ToolName:         "AskUserQuestion",
			PendingQuestions: json.RawMessage(`[{"question":"Which db?","header":"Database","options":[{"label":"sqlite"},{"label":"postgres"}]}]`),
		},
		CreatedAt: time.Now(),
	}))

	var buf bytes.Buffer
	require.NoError(t, showTurn(ctx, &buf, store, "turn-q", skill.OutputFormatTable))
	out := buf.String()
	assert.Contains(t, out, "awaiting_input")
	assert.Contains(t, out, "[Database] Which db?")
	assert.Contains(t, out, "- postgres")

	buf.Reset()
	require.NoError(t, showTurn(ctx, &buf, store, "turn-q", skill.OutputFormatJSON))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s1", decoded["session_id"])

	_, err := store.Get(ctx, "turn-q")
	assert.NoError(t, err, "show does not consume the turn")
}

func TestShowTurnNotFound(t *testing.T) {
	store := turnstate.NewMemoryStore(turnstate.Options{TTL: time.Hour})
	err := showTurn(context.Background(), &bytes.Buffer{}, store, "nope", skill.OutputFormatTable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found or expired")
}
