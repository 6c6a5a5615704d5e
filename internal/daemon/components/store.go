package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/store"
)

// StoreWorkerComponent claims the workspace for this daemon and runs the
// store worker that holds turns, transcripts and the session index.
type StoreWorkerComponent struct {
	cfg         *config.Config
	workspaceID string
	lock        *store.FileLock
	worker      *store.Worker
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewStoreWorkerComponent(workspaceID string, cfg *config.Config) *StoreWorkerComponent {
	return &StoreWorkerComponent{cfg: cfg, workspaceID: workspaceID}
}

func (s *StoreWorkerComponent) Name() string {
	return "StoreWorker"
}

func (s *StoreWorkerComponent) Dependencies() []string {
	return []string{}
}

func (s *StoreWorkerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("StoreWorker init cancelled: %w", err)
	}

	runtimeCfg, err := store.RuntimeConfigFrom(s.cfg)
	if err != nil {
		return err
	}

	lock, err := store.AcquireWorkspaceLock(s.workspaceID, s.cfg.Daemon.WorkspacePath, &store.FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return fmt.Errorf("workspace %s is locked by another instance: %w", s.workspaceID, err)
	}

	worker, err := store.NewWorker(s.workspaceID, s.cfg.Daemon.WorkspacePath, runtimeCfg)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to init store worker: %w", err)
	}

	s.lock = lock
	s.worker = worker
	s.initialized = true
	slog.Info("StoreWorker initialized", "component", s.Name(), "workspace", s.workspaceID)
	return nil
}

func (s *StoreWorkerComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("StoreWorker not initialized")
	}
	if s.started {
		return nil
	}
	s.worker.Start()
	s.started = true
	return nil
}

// Stop drains the worker and releases the workspace lock. It is also used
// for rollback, so it tolerates a component that never started.
func (s *StoreWorkerComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil && s.started {
		s.worker.Stop()
		s.started = false
	}
	if s.lock != nil {
		s.lock.Unlock()
		s.lock = nil
	}
	return nil
}

func (s *StoreWorkerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.initialized:
		return unhealthy(s.Name(), fmt.Errorf("not initialized")), nil
	case !s.started:
		return unhealthy(s.Name(), fmt.Errorf("not started")), nil
	case s.lock == nil || !s.lock.IsLocked():
		return unhealthy(s.Name(), fmt.Errorf("lock not held")), nil
	case !s.worker.IsRunning():
		return unhealthy(s.Name(), fmt.Errorf("loop not running")), nil
	}
	return healthy(s.Name()), nil
}

// Worker is nil until Init succeeds.
func (s *StoreWorkerComponent) Worker() *store.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}
