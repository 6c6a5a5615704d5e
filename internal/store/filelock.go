package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/config"

	"github.com/gofrs/flock"
)

// FileLock is an advisory cross-process lock on a single file. The daemon
// holds one on workspace.lock for its lifetime; the turn store takes a short
// one around every mutation of the turns directory.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	owner      string
	acquiredAt time.Time
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

// NewFileLock blocks, retrying, until lockPath is locked or the config's
// timeout or retry budget runs out. owner only labels log lines and errors.
func NewFileLock(owner, lockPath string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)

	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
		owner:    owner,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := fl.acquireWithRetry(cfg); err != nil {
		cancel()
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Debug("File lock acquired",
		"owner", owner,
		"path", lockPath,
		"acquired_at", fl.acquiredAt.Format(time.RFC3339Nano),
	)

	return fl, nil
}

// AcquireWorkspaceLock takes the single-instance lock of a workspace.
func AcquireWorkspaceLock(workspaceID, workspaceRootPath string, cfg *FileLockConfig) (*FileLock, error) {
	lockPath, err := GetLockPath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}
	fl, err := NewFileLock(workspaceID, lockPath, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Workspace lock acquired", "workspace", workspaceID, "path", lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(cfg *FileLockConfig) error {
	attempts := cfg.LockMaxRetry
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		select {
		case <-fl.ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", fl.ctx.Err())
		default:
			locked, err := fl.fileLock.TryLock()
			if err != nil {
				return fmt.Errorf("failed to attempt lock: %w", err)
			}
			if locked {
				return nil
			}

			if i < attempts-1 {
				time.Sleep(cfg.LockRetry)
			}
		}
	}

	return fmt.Errorf("%s is locked by another instance (timeout after %v)", fl.owner, cfg.LockTimeout)
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Debug("FileLock already unlocked", "owner", fl.owner)
		return
	}

	heldDuration := time.Since(fl.acquiredAt)
	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release file lock",
			"owner", fl.owner,
			"path", fl.lockPath,
			"error", err,
		)
	} else {
		slog.Debug("File lock released",
			"owner", fl.owner,
			"path", fl.lockPath,
			"held_duration_ms", heldDuration.Milliseconds(),
		)
	}

	if fl.cancel != nil {
		fl.cancel()
	}

	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.acquiredAt.IsZero() {
		return 0
	}
	return time.Since(fl.acquiredAt)
}

func (fl *FileLock) Path() string {
	return fl.lockPath
}

// withFileLock runs fn while holding lockPath.
func withFileLock(owner, lockPath string, cfg *FileLockConfig, fn func() error) error {
	fl, err := NewFileLock(owner, lockPath, cfg)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	return fn()
}

// CleanupStaleLocks reports, and with forceCleanup removes, a lock file that
// has not been touched for longer than maxAge.
func CleanupStaleLocks(lockPath string, maxAge time.Duration, forceCleanup bool) error {
	info, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return nil
	}

	slog.Warn("Found stale lock file",
		"path", lockPath,
		"age", age,
		"max_age", maxAge,
	)

	if !forceCleanup {
		slog.Info("Stale lock detected but not cleaning (use --force-clean-locks to remove)", "path", lockPath)
		return nil
	}

	if err := os.Remove(lockPath); err != nil {
		slog.Error("Failed to remove stale lock file", "path", lockPath, "error", err)
		return err
	}

	slog.Info("Stale lock file removed", "path", lockPath)
	return nil
}
