package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/concurrency"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/gateway"
)

// GatewayComponent serves the HTTP gateway. /health also reports the
// health of every daemon component.
type GatewayComponent struct {
	daemon  *daemon.Daemon
	cfg     *config.ServerConfig
	runtime Runtime
	deps    []string
	server  *gateway.HTTPServer
	started bool
	failed  error
	mu      sync.RWMutex
}

func NewGatewayComponent(d *daemon.Daemon, cfg *config.ServerConfig, rt Runtime) *GatewayComponent {
	return NewGatewayComponentWithDependencies(d, cfg, rt, []string{RuntimeName})
}

func NewGatewayComponentWithDependencies(d *daemon.Daemon, cfg *config.ServerConfig, rt Runtime, deps []string) *GatewayComponent {
	return &GatewayComponent{
		daemon:  d,
		cfg:     cfg,
		runtime: rt,
		deps:    append([]string(nil), deps...),
	}
}

func (g *GatewayComponent) Name() string {
	return "Gateway"
}

func (g *GatewayComponent) Dependencies() []string {
	return append([]string(nil), g.deps...)
}

func (g *GatewayComponent) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	controller := g.runtime.GatewayController()
	if controller == nil {
		return fmt.Errorf("gateway controller not initialized")
	}
	server, err := gateway.NewHTTPServer(*g.cfg, controller)
	if err != nil {
		return err
	}
	if g.daemon != nil {
		server.SetHealthReporter(g.componentHealth)
	}
	g.server = server
	slog.Info("Gateway initialized", "component", g.Name(), "addr", server.Addr())
	return nil
}

func (g *GatewayComponent) componentHealth() map[string]any {
	out := make(map[string]any)
	for name, h := range g.daemon.ComponentHealth() {
		entry := map[string]any{"healthy": h.Healthy}
		if h.Error != nil {
			entry["error"] = h.Error.Error()
		}
		out[name] = entry
	}
	return out
}

func (g *GatewayComponent) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server == nil {
		return fmt.Errorf("Gateway not initialized")
	}
	if g.started {
		return nil
	}

	server := g.server
	concurrency.SafeGo(func() {
		if err := server.Start(); err != nil {
			slog.Error("HTTP gateway failed", "component", g.Name(), "error", err)
			g.mu.Lock()
			g.failed = err
			g.mu.Unlock()
		}
	}, nil)

	g.started = true
	return nil
}

func (g *GatewayComponent) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil
	}
	g.started = false
	return g.server.Shutdown(ctx)
}

func (g *GatewayComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch {
	case g.server == nil:
		return unhealthy(g.Name(), fmt.Errorf("not initialized")), nil
	case g.failed != nil:
		return unhealthy(g.Name(), g.failed), nil
	case !g.started:
		return unhealthy(g.Name(), fmt.Errorf("not started")), nil
	}
	return healthy(g.Name()), nil
}
