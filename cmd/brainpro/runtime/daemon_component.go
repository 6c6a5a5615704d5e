package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/daemon/components"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/store"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// WorkerProvider hands out the store worker owned by another component.
type WorkerProvider interface {
	Worker() *store.Worker
}

// DaemonRuntimeComponent builds the runtime on top of the daemon's store
// worker and exposes it to the other daemon components.
type DaemonRuntimeComponent struct {
	mu          sync.RWMutex
	cfg         *config.Config
	workspaceID string
	workers     WorkerProvider
	runtime     *RuntimeComponents
	initialized bool
	started     bool
	stopped     bool
}

var _ components.Runtime = (*DaemonRuntimeComponent)(nil)

func NewDaemonRuntimeComponent(workspaceID string, cfg *config.Config, workers WorkerProvider) *DaemonRuntimeComponent {
	return &DaemonRuntimeComponent{
		cfg:         cfg,
		workspaceID: workspaceID,
		workers:     workers,
	}
}

func (c *DaemonRuntimeComponent) Name() string {
	return components.RuntimeName
}

func (c *DaemonRuntimeComponent) Dependencies() []string {
	return []string{"StoreWorker"}
}

func (c *DaemonRuntimeComponent) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg == nil {
		return fmt.Errorf("runtime config not provided")
	}
	if c.workspaceID == "" {
		return fmt.Errorf("workspace id not provided")
	}
	if c.stopped {
		return fmt.Errorf("runtime component already stopped")
	}
	if c.workers == nil || c.workers.Worker() == nil {
		return fmt.Errorf("store worker not initialized")
	}

	if c.runtime == nil {
		rc, err := NewRuntimeBuilder().
			WithContext(ctx).
			WithConfig(c.cfg).
			WithWorkspace(c.workspaceID).
			WithWorker(c.workers.Worker()).
			Build()
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}
		c.runtime = rc
	}

	c.initialized = true
	return nil
}

func (c *DaemonRuntimeComponent) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return fmt.Errorf("runtime component not initialized")
	}
	if c.stopped {
		return fmt.Errorf("runtime component already stopped")
	}
	c.started = true
	return nil
}

func (c *DaemonRuntimeComponent) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	if c.runtime != nil {
		c.runtime.Stop()
	}
	c.stopped = true
	c.started = false
	return nil
}

func (c *DaemonRuntimeComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	c.mu.RLock()
	r := c.runtime
	initialized := c.initialized
	started := c.started
	stopped := c.stopped
	c.mu.RUnlock()

	fail := func(err error) (*daemon.ComponentHealth, error) {
		return &daemon.ComponentHealth{Name: c.Name(), Healthy: false, Error: err}, nil
	}

	switch {
	case r == nil:
		return fail(fmt.Errorf("runtime components not configured"))
	case !initialized:
		return fail(fmt.Errorf("not initialized"))
	case stopped:
		return fail(fmt.Errorf("stopped"))
	case !started:
		return fail(fmt.Errorf("not started"))
	case r.StoreWorker == nil || !r.StoreWorker.IsRunning():
		return fail(fmt.Errorf("store worker not running"))
	}

	if _, err := r.Turns.List(ctx); err != nil {
		return fail(fmt.Errorf("turn store unhealthy: %w", err))
	}
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}

// Runtime returns the assembled runtime, or nil before Init.
func (c *DaemonRuntimeComponent) Runtime() *RuntimeComponents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runtime
}

func (c *DaemonRuntimeComponent) TurnStore() turnstate.Store {
	if r := c.Runtime(); r != nil {
		return r.Turns
	}
	return nil
}

func (c *DaemonRuntimeComponent) PolicySource() *policy.Source {
	if r := c.Runtime(); r != nil {
		return r.Policy
	}
	return nil
}

func (c *DaemonRuntimeComponent) EventBus() *events.Bus {
	if r := c.Runtime(); r != nil {
		return r.Bus
	}
	return nil
}

func (c *DaemonRuntimeComponent) GatewayController() *gateway.Controller {
	if r := c.Runtime(); r != nil {
		return r.Controller
	}
	return nil
}
