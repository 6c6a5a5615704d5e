package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/cost"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/idempotency"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/store"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"

	_ "github.com/jgarizk/brainpro/internal/tool/builtin"
)

// RuntimeComponents is everything a turn needs, wired from one config. The
// CLI builds one per command; the daemon builds one inside its Runtime
// component.
type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config      *config.Config
	WorkspaceID string

	StoreWorker *store.Worker
	Turns       turnstate.Store
	Policy      *policy.Source
	Skills      *skill.Index
	Client      model.Client
	Dispatcher  *tool.Dispatcher
	Ledger      *cost.Ledger
	Bus         *events.Bus
	Audit       *policy.DefaultAuditLogger
	Engine      *agent.Engine
	Sessions    *session.Manager
	Controller  *gateway.Controller
	Requests    *idempotency.Store

	ownsWorker bool
	stopOnce   sync.Once
}

// NewRuntimeComponents wires a runtime. A nil worker means the runtime opens
// and later stops its own.
func NewRuntimeComponents(ctx context.Context, cfg *config.Config, workspaceID string, worker *store.Worker) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	r := &RuntimeComponents{
		Ctx:         ctx,
		Cancel:      cancel,
		Config:      cfg,
		WorkspaceID: workspaceID,
		StoreWorker: worker,
	}

	if r.StoreWorker == nil {
		rc, err := store.RuntimeConfigFrom(cfg)
		if err != nil {
			r.cleanup()
			return nil, fmt.Errorf("init store worker: %w", err)
		}
		w, err := store.NewWorker(workspaceID, cfg.Daemon.WorkspacePath, rc)
		if err != nil {
			r.cleanup()
			return nil, fmt.Errorf("init store worker: %w", err)
		}
		w.Start()
		r.StoreWorker = w
		r.ownsWorker = true
	}

	turns, err := store.OpenTurnStore(cfg, r.StoreWorker)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init turn store: %w", err)
	}
	r.Turns = turns

	stack, err := policy.BuildStack(cfg)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init policy: %w", err)
	}
	r.Policy = policy.NewSource(stack)

	audit, err := policy.NewAuditLogger(workspaceID, cfg.Daemon.WorkspacePath, cfg.Policy.Audit)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init audit log: %w", err)
	}
	r.Audit = audit

	r.Skills = LoadSkills(cfg, workspaceID)

	builtinOpts, err := tool.BuiltinOptionsFrom(cfg.Bash)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init tools: %w", err)
	}
	registry, err := tool.NewBuiltinRegistry(builtinOpts)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init tools: %w", err)
	}
	r.Dispatcher = tool.NewDispatcher(registry)

	r.Client = model.NewModelRouter(cfg.Backends)
	r.Ledger = cost.NewLedger(cfg.Pricing)
	r.Bus = events.NewBus(cfg.Events.BufferSize)

	r.Engine = agent.New(agent.Options{
		Client:     r.Client,
		Dispatcher: r.Dispatcher,
		Turns:      r.Turns,
		Ledger:     r.Ledger,
		Bus:        r.Bus,
		Audit:      r.Audit,
		Config:     cfg,
	})
	requests, err := openRequestStore(cfg, workspaceID)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init request store: %w", err)
	}
	r.Requests = requests

	r.Sessions = session.NewManager(r.StoreWorker, r.Policy, r.Skills)
	r.Controller = gateway.NewController(gateway.ControllerOptions{
		Engine:   r.Engine,
		Sessions: r.Sessions,
		Config:   cfg,
		Requests: r.Requests,
	})

	slog.Info("Runtime components initialized",
		"workspace", workspaceID,
		"turns_backend", cfg.Turns.Backend,
		"tools", len(registry.Definitions()),
		"skills", r.Skills.Count(),
		"policy_entries", len(stack.Entries()),
	)
	return r, nil
}

func openRequestStore(cfg *config.Config, workspaceID string) (*idempotency.Store, error) {
	window, err := config.DurationOrDefault(cfg.Server.RequestWindow, config.DefaultServerRequestWindow)
	if err != nil {
		return nil, fmt.Errorf("server.request_window: %w", err)
	}
	path, err := store.GetRequestsPath(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, err
	}
	return idempotency.NewStore(path, idempotency.Options{TTL: window})
}

// LoadSkills scans the global, workspace and configured skill directories.
// Later directories override earlier ones by name.
func LoadSkills(cfg *config.Config, workspaceID string) *skill.Index {
	var dirs []string
	if dir, err := store.GetSkillsDir(); err == nil {
		dirs = append(dirs, dir)
	}
	if dir, err := store.GetWorkspaceSkillsDir(workspaceID, cfg.Daemon.WorkspacePath); err == nil {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, cfg.Skills.Dirs...)

	idx := skill.LoadIndex(dirs...)
	for _, loadErr := range idx.Errors() {
		slog.Warn("Failed to load skill", "error", loadErr)
	}
	return idx
}

func (r *RuntimeComponents) TurnStore() turnstate.Store {
	return r.Turns
}

func (r *RuntimeComponents) PolicySource() *policy.Source {
	return r.Policy
}

func (r *RuntimeComponents) EventBus() *events.Bus {
	return r.Bus
}

func (r *RuntimeComponents) GatewayController() *gateway.Controller {
	return r.Controller
}

// Stop releases everything the runtime opened. It is safe to call twice.
func (r *RuntimeComponents) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *RuntimeComponents) stop() {
	slog.Debug("Stopping runtime components", "workspace", r.WorkspaceID)
	r.Cancel()

	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Turns != nil {
		if err := r.Turns.Close(); err != nil {
			slog.Warn("Failed to close turn store", "error", err)
		}
	}
	if r.ownsWorker && r.StoreWorker != nil {
		r.StoreWorker.Stop()
	}
}

func (r *RuntimeComponents) cleanup() {
	r.Stop()
}
