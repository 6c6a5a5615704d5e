package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/policy"
)

// PolicyWatcherComponent hot-reloads the policy file into the runtime's
// policy source. It does nothing when watching is off or no file is set.
type PolicyWatcherComponent struct {
	cfg     *config.Config
	runtime Runtime
	watcher *policy.Watcher
	enabled bool
	started bool
	mu      sync.RWMutex
}

func NewPolicyWatcherComponent(cfg *config.Config, rt Runtime) *PolicyWatcherComponent {
	return &PolicyWatcherComponent{cfg: cfg, runtime: rt}
}

func (p *PolicyWatcherComponent) Name() string {
	return "PolicyWatcher"
}

func (p *PolicyWatcherComponent) Dependencies() []string {
	return []string{RuntimeName}
}

func (p *PolicyWatcherComponent) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.Policy.Watch || p.cfg.Policy.File == "" {
		slog.Info("Policy watching disabled", "component", p.Name())
		return nil
	}

	source := p.runtime.PolicySource()
	if source == nil {
		return fmt.Errorf("policy source not initialized")
	}
	debounce, err := config.DurationOrDefault(p.cfg.Policy.WatchDebounce, config.DefaultPolicyWatchDebounce)
	if err != nil {
		return fmt.Errorf("parse policy watch debounce: %w", err)
	}

	cfg := p.cfg
	w, err := policy.NewWatcher(cfg.Policy.File, source, func() (*policy.Stack, error) {
		return policy.BuildStack(cfg)
	}, debounce)
	if err != nil {
		return fmt.Errorf("watch policy file: %w", err)
	}

	bus := p.runtime.EventBus()
	path := cfg.Policy.File
	w.OnReload(func(s *policy.Stack, err error) {
		data := map[string]any{"path": path, "ok": err == nil}
		if err != nil {
			data["error"] = err.Error()
		} else {
			data["entries"] = len(s.Entries())
		}
		bus.Publish(context.Background(), events.Event{
			Subsystem: events.SubsystemPolicy,
			Type:      events.PolicyReloaded,
			Data:      data,
		})
	})

	p.watcher = w
	p.enabled = true
	slog.Info("PolicyWatcher initialized", "component", p.Name(), "path", path, "debounce", debounce)
	return nil
}

func (p *PolicyWatcherComponent) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled && !p.started {
		p.watcher.Start()
		p.started = true
	}
	return nil
}

func (p *PolicyWatcherComponent) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher == nil {
		return nil
	}
	p.started = false
	return p.watcher.Close()
}

func (p *PolicyWatcherComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.enabled && !p.started {
		return unhealthy(p.Name(), fmt.Errorf("not started")), nil
	}
	return healthy(p.Name()), nil
}
