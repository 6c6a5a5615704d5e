package concurrency

import "sync"

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// SessionLockManager serializes turn processing per session. Entries are
// dropped once nobody holds or waits on them.
type SessionLockManager struct {
	locks map[string]*refMutex
	mu    sync.Mutex
}

func NewSessionLockManager() *SessionLockManager {
	return &SessionLockManager{
		locks: make(map[string]*refMutex),
	}
}

func (m *SessionLockManager) Lock(sessionID string) {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &refMutex{}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.mu.Unlock()
	lock.mu.Lock()
}

func (m *SessionLockManager) Unlock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(m.locks, sessionID)
	}
	lock.mu.Unlock()
}

// Len reports how many sessions currently have a holder or waiter.
func (m *SessionLockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
