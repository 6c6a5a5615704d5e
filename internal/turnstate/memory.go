package turnstate

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
)

// MemoryStore keeps snapshots in process. States are stored as JSON so the
// caller's copy and the stored copy never share memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
	opts   Options
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte), opts: opts}
}

func (m *MemoryStore) Save(ctx context.Context, state *TurnState) error {
	if err := validateForSave(state); err != nil {
		return err
	}
	stampCreatedAt(state, m.opts)
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TurnID] = data
	return nil
}

func (m *MemoryStore) Take(ctx context.Context, turnID string) (*TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.states[turnID]
	if !ok {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	delete(m.states, turnID)

	state, err := m.decodeLive(data)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	return state, nil
}

func (m *MemoryStore) Get(ctx context.Context, turnID string) (*TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.states[turnID]
	if !ok {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	state, err := m.decodeLive(data)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	return state, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*TurnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*TurnState, 0, len(m.states))
	for _, data := range m.states {
		state, err := m.decodeLive(data)
		if err != nil {
			return nil, err
		}
		if state != nil {
			out = append(out, state)
		}
	}
	SortByCreation(out)
	return out, nil
}

func (m *MemoryStore) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, data := range m.states {
		state, err := m.decodeLive(data)
		if err != nil || state == nil {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// decodeLive returns nil for expired states.
func (m *MemoryStore) decodeLive(data []byte) (*TurnState, error) {
	var state TurnState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, bpErrors.WrapWithCategory(err, "decode turn state", bpErrors.ErrInternal)
	}
	if state.Expired(m.opts.now(), m.opts.TTL) {
		return nil, nil
	}
	return &state, nil
}

// SortByCreation orders states oldest first, breaking ties by turn id.
func SortByCreation(states []*TurnState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].TurnID < states[j].TurnID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}
