package runtime

import (
	"context"
	"testing"

	"github.com/jgarizk/brainpro/internal/daemon/components"
	"github.com/jgarizk/brainpro/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticWorker struct {
	w *store.Worker
}

func (s staticWorker) Worker() *store.Worker { return s.w }

func startedWorker(t *testing.T, root string) *store.Worker {
	t.Helper()
	w, err := store.NewWorker("ws", root, store.RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestDaemonRuntimeComponentLifecycle(t *testing.T) {
	cfg := testConfig(t)
	worker := startedWorker(t, cfg.Daemon.WorkspacePath)
	c := NewDaemonRuntimeComponent("ws", cfg, staticWorker{worker})
	ctx := context.Background()

	assert.Equal(t, components.RuntimeName, c.Name())
	assert.Equal(t, []string{"StoreWorker"}, c.Dependencies())
	assert.Nil(t, c.GatewayController(), "getters are nil before Init")
	assert.Nil(t, c.TurnStore())

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)

	require.NoError(t, c.Init(ctx))
	assert.NotNil(t, c.TurnStore())
	assert.NotNil(t, c.PolicySource())
	assert.NotNil(t, c.EventBus())
	assert.NotNil(t, c.GatewayController())
	assert.Same(t, worker, c.Runtime().StoreWorker)

	require.NoError(t, c.Start(ctx))
	health, err = c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy, "%v", health.Error)

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.True(t, worker.IsRunning(), "the store component owns the worker")

	health, err = c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.Error(t, c.Start(ctx))
}

func TestDaemonRuntimeComponentInitValidation(t *testing.T) {
	ctx := context.Background()

	assert.Error(t, NewDaemonRuntimeComponent("ws", nil, staticWorker{}).Init(ctx))
	assert.Error(t, NewDaemonRuntimeComponent("", testConfig(t), staticWorker{}).Init(ctx))
	assert.Error(t, NewDaemonRuntimeComponent("ws", testConfig(t), staticWorker{}).Init(ctx), "needs a worker")
	assert.Error(t, NewDaemonRuntimeComponent("ws", testConfig(t), nil).Init(ctx))

	c := NewDaemonRuntimeComponent("ws", testConfig(t), staticWorker{})
	assert.Error(t, c.Start(ctx), "start before init")
}
