package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/store"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTarget = "fake-model@fake"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 7878},
		Agent:  config.AgentConfig{DefaultTarget: testTarget, MaxIterations: 6},
		Daemon: config.DaemonConfig{WorkspacePath: t.TempDir()},
	}
}

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	mu      sync.Mutex
	replies []*contract.CompletionResponse
	calls   int
}

func (c *scriptedClient) Chat(ctx context.Context, target model.Target, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.replies) == 0 {
		return text("done"), nil
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next, nil
}

func text(content string) *contract.CompletionResponse {
	return &contract.CompletionResponse{
		Choices: []contract.Choice{{Message: contract.Message{Role: contract.RoleAssistant, Content: content}, FinishReason: contract.FinishStop}},
		Usage:   &contract.Usage{PromptTokens: 5, CompletionTokens: 3},
	}
}

func toolCall(id, name, input string) *contract.CompletionResponse {
	return &contract.CompletionResponse{
		Choices: []contract.Choice{{
			Message:      contract.Message{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{{ID: id, Name: name, Input: input}}},
			FinishReason: contract.FinishToolCalls,
		}},
		Usage: &contract.Usage{PromptTokens: 2, CompletionTokens: 1},
	}
}

func TestNewRuntimeComponentsWiresEverything(t *testing.T) {
	rc, err := NewRuntimeComponents(context.Background(), testConfig(t), "ws", nil)
	require.NoError(t, err)
	defer rc.Stop()

	assert.NotNil(t, rc.StoreWorker)
	assert.True(t, rc.StoreWorker.IsRunning())
	assert.NotNil(t, rc.TurnStore())
	assert.NotNil(t, rc.PolicySource())
	assert.NotNil(t, rc.EventBus())
	assert.NotNil(t, rc.GatewayController())
	assert.NotNil(t, rc.Engine)
	assert.NotNil(t, rc.Sessions)
	assert.NotNil(t, rc.Requests)
	assert.False(t, rc.Audit.Enabled())

	names := rc.Dispatcher.Registry().Names()
	assert.Contains(t, names, "Read")
	assert.Contains(t, names, "Bash")
}

func TestFileTurnStoreGoesThroughWorker(t *testing.T) {
	rc, err := NewRuntimeComponents(context.Background(), testConfig(t), "ws", nil)
	require.NoError(t, err)
	defer rc.Stop()

	state := &turnstate.TurnState{
		TurnID:      turnstate.NewTurnID(),
		SessionID:   "s1",
		TargetModel: testTarget,
		YieldReason: turnstate.AwaitingApproval,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, rc.TurnStore().Save(context.Background(), state))

	got, err := rc.StoreWorker.Get(context.Background(), state.TurnID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
}

func TestNewRuntimeComponentsRejectsUnknownTurnsBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Turns.Backend = "etcd"
	_, err := NewRuntimeComponents(context.Background(), cfg, "ws", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn store")
}

func TestStopLeavesSharedWorkerRunning(t *testing.T) {
	cfg := testConfig(t)
	rcfg, err := store.RuntimeConfigFrom(cfg)
	require.NoError(t, err)
	worker, err := store.NewWorker("ws", cfg.Daemon.WorkspacePath, rcfg)
	require.NoError(t, err)
	worker.Start()
	defer worker.Stop()

	rc, err := NewRuntimeBuilder().WithConfig(cfg).WithWorkspace("ws").WithWorker(worker).Build()
	require.NoError(t, err)
	assert.Same(t, worker, rc.StoreWorker)

	rc.Stop()
	rc.Stop()
	assert.True(t, worker.IsRunning())
	assert.Error(t, rc.Ctx.Err())
}

func TestStopStopsOwnedWorker(t *testing.T) {
	rc, err := NewRuntimeComponents(context.Background(), testConfig(t), "ws", nil)
	require.NoError(t, err)
	rc.Stop()
	assert.False(t, rc.StoreWorker.IsRunning())
}
