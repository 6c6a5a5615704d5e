package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/scheduler"
)

const pruneJobName = "prune-expired-turns"

// TurnPrunerComponent deletes expired suspended turns on the
// turns.prune_schedule cron schedule.
type TurnPrunerComponent struct {
	cfg     *config.Config
	runtime Runtime
	sched   *scheduler.Scheduler
	mu      sync.RWMutex
}

func NewTurnPrunerComponent(cfg *config.Config, rt Runtime) *TurnPrunerComponent {
	return &TurnPrunerComponent{cfg: cfg, runtime: rt}
}

func (p *TurnPrunerComponent) Name() string {
	return "TurnPruner"
}

func (p *TurnPrunerComponent) Dependencies() []string {
	return []string{RuntimeName}
}

func (p *TurnPrunerComponent) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runtime.TurnStore() == nil {
		return fmt.Errorf("turn store not initialized")
	}

	spec := p.cfg.Turns.PruneSchedule
	if spec == "" {
		spec = config.DefaultTurnsPruneSchedule
	}
	sched := scheduler.New(scheduler.Options{})
	if err := sched.AddJob(pruneJobName, spec, p.prune); err != nil {
		return err
	}
	p.sched = sched
	slog.Info("TurnPruner initialized", "component", p.Name(), "schedule", spec)
	return nil
}

func (p *TurnPrunerComponent) prune(ctx context.Context) error {
	n, err := p.runtime.TurnStore().Prune(ctx)
	if err != nil {
		return fmt.Errorf("prune turns: %w", err)
	}
	if n > 0 {
		slog.Info("Pruned expired turns", "count", n)
		p.runtime.EventBus().Publish(ctx, events.Event{
			Subsystem: events.SubsystemDaemon,
			Type:      events.TurnsPruned,
			Data:      map[string]any{"count": n},
		})
	}
	return nil
}

func (p *TurnPrunerComponent) Start(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sched == nil {
		return fmt.Errorf("TurnPruner not initialized")
	}
	return p.sched.Start(context.Background())
}

func (p *TurnPrunerComponent) Stop(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sched == nil {
		return nil
	}
	return p.sched.Stop(ctx)
}

func (p *TurnPrunerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sched == nil {
		return unhealthy(p.Name(), fmt.Errorf("not initialized")), nil
	}
	if err := p.sched.Health(ctx); err != nil {
		return unhealthy(p.Name(), err), nil
	}
	return healthy(p.Name()), nil
}

// Jobs reports the pruning schedule and its last outcome.
func (p *TurnPrunerComponent) Jobs() []scheduler.JobStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sched == nil {
		return nil
	}
	return p.sched.Jobs()
}
