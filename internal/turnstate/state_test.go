package turnstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &TurnState{CreatedAt: now.Add(-31 * time.Minute)}

	assert.True(t, s.Expired(now, 30*time.Minute))
	assert.False(t, s.Expired(now, time.Hour))
	assert.False(t, s.Expired(now, 0))
}

func TestNewTurnID_UniqueAndSortable(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewTurnID()
		assert.Len(t, id, 26)
		assert.False(t, seen[id])
		seen[id] = true
		if prev != "" {
			assert.GreaterOrEqual(t, id[:10], prev[:10])
		}
		prev = id
	}
}
