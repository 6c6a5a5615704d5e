package idempotency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// seenKeys is the on-disk form: request id -> expiry (unix seconds).
type seenKeys struct {
	Keys map[string]int64 `json:"keys"`
}

// Store remembers request ids for a window so a retried run_turn does not
// start a second turn. With an empty path it keeps keys in memory only.
type Store struct {
	path  string
	ttl   time.Duration
	now   func() time.Time
	state seenKeys
	mu    sync.Mutex
}

type Options struct {
	TTL time.Duration
	Now func() time.Time
}

func NewStore(path string, opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("idempotency window must be positive")
	}
	s := &Store{
		path:  path,
		ttl:   opts.TTL,
		now:   opts.Now,
		state: seenKeys{Keys: make(map[string]int64)},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]int64)
	}
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// CheckAndMark reports whether key was already seen inside the window and
// marks it otherwise. Expired keys are dropped on the way. The error is
// from persisting; the answer is valid even when it is non-nil.
func (s *Store) CheckAndMark(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	s.pruneLocked(now)
	if _, seen := s.state.Keys[key]; seen {
		return true, nil
	}
	s.state.Keys[key] = now + int64(s.ttl.Seconds())
	return false, s.save()
}

// Prune drops expired keys and returns how many were removed.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pruneLocked(s.now().Unix())
	if n == 0 {
		return 0, nil
	}
	return n, s.save()
}

func (s *Store) pruneLocked(now int64) int {
	count := 0
	for k, expiry := range s.state.Keys {
		if expiry <= now {
			delete(s.state.Keys, k)
			count++
		}
	}
	return count
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Keys)
}
