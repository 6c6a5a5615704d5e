package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/store"
)

// Daemon runs a set of components for one workspace. Components are
// initialised in dependency order, started in registration order and
// stopped in reverse registration order.
type Daemon struct {
	cfg             *config.Config
	workspaceID     string
	components      []Component
	shutdownOrder   []string
	health          HealthStatus
	uptimeStart     time.Time
	mu              sync.RWMutex
	healthCheckDone chan struct{}
	forceCleanup    bool
}

func NewDaemon(workspaceID string, cfg *config.Config) (*Daemon, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace ID cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Daemon{
		workspaceID:     workspaceID,
		cfg:             cfg,
		components:      make([]Component, 0),
		shutdownOrder:   make([]string, 0),
		health:          StatusStarting,
		uptimeStart:     time.Now(),
		healthCheckDone: make(chan struct{}),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	d.shutdownOrder = append([]string{comp.Name()}, d.shutdownOrder...)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start blocks until ctx is cancelled or the process is signalled, then
// shuts every component down. A cancelled context is returned as its error.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("brainpro daemon starting...", "workspace", d.workspaceID)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}

	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := d.preInitChecks(ctx); err != nil {
		return fmt.Errorf("pre-init checks failed: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(context.Background())
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		d.gracefulShutdown(context.Background(), shutdownTimeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("brainpro daemon is running", "workspace", d.workspaceID, "components", len(d.components))

	go d.startHealthMonitor(ctx)

	<-ctx.Done()

	slog.Info("Context cancelled, initiating graceful shutdown", "workspace", d.workspaceID, "reason", ctx.Err())
	d.setHealth(StatusStopping)
	close(d.healthCheckDone)

	if err := d.gracefulShutdown(context.Background(), shutdownTimeout); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.uptimeStart)
}

func (d *Daemon) SetForceCleanup(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceCleanup = force
}

func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := make([]Component, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth)
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Healthy = false
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getComponentByName(name)
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) validateConfig() error {
	slog.Info("Validating configuration...")

	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}

	if _, err := config.PositiveDurationOrDefault(d.cfg.Turns.TTL, config.DefaultTurnsTTL); err != nil {
		return fmt.Errorf("turns.ttl: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(d.cfg.Turns.Backend)) {
	case "", store.TurnsBackendFile, store.TurnsBackendMemory, store.TurnsBackendSQLite:
	default:
		return fmt.Errorf("unknown turns backend %q", d.cfg.Turns.Backend)
	}
	if _, err := policy.ParsePermissionMode(d.cfg.Permissions.Mode); err != nil {
		return fmt.Errorf("permissions.mode: %w", err)
	}

	workspacePath, err := store.GetWorkspacePath(d.workspaceID, d.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	slog.Info("Configuration validated",
		"workspace", d.workspaceID,
		"port", d.cfg.Server.Port,
		"turns_backend", d.cfg.Turns.Backend,
		"permission_mode", d.cfg.Permissions.Mode,
	)
	return nil
}

// preInitChecks reports a stale workspace lock left by a crashed daemon and
// removes it when forced.
func (d *Daemon) preInitChecks(ctx context.Context) error {
	slog.Info("Running pre-init checks...", "workspace", d.workspaceID)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pre-init checks cancelled: %w", err)
	}

	lockPath, err := store.GetLockPath(d.workspaceID, d.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve lock path: %w", err)
	}
	staleLockTTL, err := config.DurationOrDefault(d.cfg.Daemon.StaleLockTTL, config.DefaultDaemonStaleLockTTL)
	if err != nil {
		return fmt.Errorf("parse daemon stale lock ttl: %w", err)
	}

	d.mu.RLock()
	force := d.forceCleanup
	d.mu.RUnlock()

	if err := store.CleanupStaleLocks(lockPath, staleLockTTL, force); err != nil {
		slog.Warn("Failed to cleanup stale locks", "workspace", d.workspaceID, "error", err)
	}

	slog.Info("Pre-init checks completed", "workspace", d.workspaceID)
	return nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	slog.Info("Initializing components...", "workspace", d.workspaceID)

	if err := d.validateDependencies(); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}

	initOrder, err := d.resolveInitOrder()
	if err != nil {
		return fmt.Errorf("failed to resolve init order: %w", err)
	}

	for _, compName := range initOrder {
		comp := d.getComponentByName(compName)
		if comp == nil {
			continue
		}
		slog.Info("Initializing component...", "component", comp.Name())
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s init failed: %w", comp.Name(), err)
		}
	}

	slog.Info("All components initialized", "count", len(d.components))
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	slog.Info("Starting components...", "workspace", d.workspaceID)

	for _, comp := range d.components {
		slog.Info("Starting component...", "component", comp.Name())
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s startup failed: %w", comp.Name(), err)
		}
	}

	slog.Info("All components started", "count", len(d.components))
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "workspace", d.workspaceID, "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "workspace", d.workspaceID, "error", err)
		} else {
			slog.Info("Graceful shutdown completed", "workspace", d.workspaceID)
		}
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "workspace", d.workspaceID, "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (d *Daemon) shutdownComponents(ctx context.Context) error {
	var errs []error
	for _, name := range d.shutdownOrder {
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}

		slog.Info("Stopping component...", "component", name)
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}

	d.setHealth(StatusStopped)
	return errors.Join(errs...)
}

func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components...", "workspace", d.workspaceID)

	for i := len(d.components) - 1; i >= 0; i-- {
		comp := d.components[i]
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Rollback failed", "component", comp.Name(), "error", err)
		}
	}

	d.setHealth(StatusStopped)
}

func (d *Daemon) getComponentByName(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) startHealthMonitor(ctx context.Context) {
	interval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Failed to parse daemon health check interval", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.healthCheckDone:
			return
		case <-ticker.C:
			d.checkComponentHealth()
		}
	}
}

func (d *Daemon) checkComponentHealth() {
	healths := d.ComponentHealth()
	unhealthy := 0
	for name, health := range healths {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}

	if unhealthy > 0 {
		slog.Warn("Daemon has unhealthy components", "count", unhealthy, "total", len(healths))
	} else {
		slog.Debug("All components healthy", "count", len(healths))
	}
}

func (d *Daemon) validateDependencies() error {
	names := make(map[string]bool, len(d.components))
	for _, comp := range d.components {
		names[comp.Name()] = true
	}

	for _, comp := range d.components {
		for _, dep := range comp.Dependencies() {
			if !names[dep] {
				return fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
		}
	}
	return nil
}

// resolveInitOrder is a depth-first topological sort over Dependencies.
func (d *Daemon) resolveInitOrder() ([]string, error) {
	visited := make(map[string]bool)
	inProgress := make(map[string]bool)
	order := []string{}

	var visit func(name string) error
	visit = func(name string) error {
		if inProgress[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		comp := d.getComponentByName(name)
		if comp == nil {
			return fmt.Errorf("component %s not found", name)
		}

		inProgress[name] = true
		for _, dep := range comp.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		inProgress[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}

	slog.Debug("Initialization order resolved", "order", order)
	return order, nil
}
