package components

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	turns  turnstate.Store
	source *policy.Source
	bus    *events.Bus
}

func (f *fakeRuntime) TurnStore() turnstate.Store             { return f.turns }
func (f *fakeRuntime) PolicySource() *policy.Source           { return f.source }
func (f *fakeRuntime) EventBus() *events.Bus                  { return f.bus }
func (f *fakeRuntime) GatewayController() *gateway.Controller { return nil }

// eventSink records published events.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) listen(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Daemon: config.DaemonConfig{WorkspacePath: t.TempDir()},
		Store:  config.StoreConfig{LockTimeout: "200ms", LockRetry: "20ms", LockMaxRetry: 3},
		Turns:  config.TurnsConfig{TTL: "30m", PruneSchedule: "@every 5m"},
	}
}

func TestStoreWorkerComponentHoldsWorkspace(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := NewStoreWorkerComponent("ws", cfg)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.Start(ctx))
	t.Cleanup(func() { first.Stop(ctx) })

	h, err := first.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	require.NotNil(t, first.Worker())

	second := NewStoreWorkerComponent("ws", cfg)
	err = second.Init(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another instance")

	require.NoError(t, first.Stop(ctx))
	h, _ = first.Health(ctx)
	assert.False(t, h.Healthy)

	// Released on stop.
	require.NoError(t, second.Init(ctx))
	require.NoError(t, second.Stop(ctx))
}

func TestTurnPrunerPublishesPrunedCount(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	turns := turnstate.NewMemoryStore(turnstate.Options{TTL: time.Minute, Now: clock})
	bus := events.NewBus(16)
	sink := &eventSink{}
	bus.Subscribe(sink.listen)
	t.Cleanup(bus.Close)

	ctx := context.Background()
	require.NoError(t, turns.Save(ctx, &turnstate.TurnState{TurnID: "old", SessionID: "s", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, turns.Save(ctx, &turnstate.TurnState{TurnID: "fresh", SessionID: "s"}))

	p := NewTurnPrunerComponent(testConfig(t), &fakeRuntime{turns: turns, bus: bus})
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.prune(ctx))

	left, err := turns.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].TurnID)

	require.Eventually(t, func() bool {
		return len(sink.types()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []events.Type{events.TurnsPruned}, sink.types())

	jobs := p.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 5m", jobs[0].Spec)
}

func TestTurnPrunerLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewTurnPrunerComponent(testConfig(t), &fakeRuntime{turns: turnstate.NewMemoryStore(turnstate.Options{})})
	assert.Equal(t, []string{RuntimeName}, p.Dependencies())

	h, _ := p.Health(ctx)
	assert.False(t, h.Healthy)

	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Start(ctx))
	h, _ = p.Health(ctx)
	assert.True(t, h.Healthy)
	require.NoError(t, p.Stop(ctx))
}

func TestTurnPrunerRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Turns.PruneSchedule = "whenever"
	p := NewTurnPrunerComponent(cfg, &fakeRuntime{turns: turnstate.NewMemoryStore(turnstate.Options{})})
	assert.Error(t, p.Init(context.Background()))
}

func TestPolicyWatcherDisabledWithoutFile(t *testing.T) {
	ctx := context.Background()
	p := NewPolicyWatcherComponent(testConfig(t), &fakeRuntime{})
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Start(ctx))
	h, _ := p.Health(ctx)
	assert.True(t, h.Healthy)
	require.NoError(t, p.Stop(ctx))
}

func TestPolicyWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  allow: [Read]\n"), 0644))

	cfg := testConfig(t)
	cfg.Policy = config.PolicyConfig{File: path, Watch: true, WatchDebounce: "20ms"}

	initial, err := policy.BuildStack(cfg)
	require.NoError(t, err)
	source := policy.NewSource(initial)
	bus := events.NewBus(16)
	sink := &eventSink{}
	bus.Subscribe(sink.listen)
	t.Cleanup(bus.Close)

	ctx := context.Background()
	p := NewPolicyWatcherComponent(cfg, &fakeRuntime{source: source, bus: bus})
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() { p.Stop(ctx) })

	assert.Equal(t, policy.DecisionAsk, source.Current().Resolve("main", "Bash", nil).Decision)

	require.NoError(t, os.WriteFile(path, []byte("global:\n  allow: [Read, Bash]\n"), 0644))

	require.Eventually(t, func() bool {
		return source.Current().Resolve("main", "Bash", nil).Decision == policy.DecisionAllow
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, typ := range sink.types() {
			if typ == events.PolicyReloaded {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestEventLogSubscribesWhileRunning(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(4)
	t.Cleanup(bus.Close)

	e := NewEventLogComponent(&fakeRuntime{bus: bus})
	require.NoError(t, e.Init(ctx))
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 1, bus.Subscribers())
	require.NoError(t, e.Stop(ctx))
	assert.Equal(t, 0, bus.Subscribers())
}

func TestGatewayRequiresController(t *testing.T) {
	g := NewGatewayComponent(nil, &config.ServerConfig{Port: 7878}, &fakeRuntime{})
	assert.Equal(t, []string{RuntimeName}, g.Dependencies())
	assert.Error(t, g.Init(context.Background()))

	deps := []string{RuntimeName, "TurnPruner"}
	g = NewGatewayComponentWithDependencies(nil, &config.ServerConfig{}, &fakeRuntime{}, deps)
	deps[0] = "Mutated"
	assert.Equal(t, []string{RuntimeName, "TurnPruner"}, g.Dependencies())
}
