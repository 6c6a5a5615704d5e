package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

const (
	TurnsBackendFile   = "file"
	TurnsBackendMemory = "memory"
	TurnsBackendSQLite = "sqlite"
)

// workerTurnStore shares a running Worker as a turn store. Close leaves the
// worker alone since sessions and transcripts still use it.
type workerTurnStore struct {
	*Worker
}

func (workerTurnStore) Close() error { return nil }

// OpenTurnStore returns the turn store selected by turns.backend. The file
// backend needs a started worker; the other backends ignore it.
func OpenTurnStore(cfg *config.Config, worker *Worker) (turnstate.Store, error) {
	ttl, err := config.PositiveDurationOrDefault(cfg.Turns.TTL, config.DefaultTurnsTTL)
	if err != nil {
		return nil, fmt.Errorf("turns.ttl: %w", err)
	}
	opts := turnstate.Options{TTL: ttl}

	backend := strings.ToLower(strings.TrimSpace(cfg.Turns.Backend))
	switch backend {
	case "", TurnsBackendFile:
		if worker == nil {
			return nil, fmt.Errorf("file turn store needs a store worker")
		}
		return workerTurnStore{worker}, nil
	case TurnsBackendMemory:
		return turnstate.NewMemoryStore(opts), nil
	case TurnsBackendSQLite:
		path := cfg.Turns.SQLitePath
		if path == "" {
			base, err := GetWorkspacePath(cfg.Daemon.WorkspaceID, cfg.Daemon.WorkspacePath)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(base, "turns.db")
		}
		return turnstate.OpenSQLite(path, opts)
	default:
		return nil, fmt.Errorf("unknown turns backend %q", cfg.Turns.Backend)
	}
}
