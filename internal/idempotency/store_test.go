package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCheckAndMarkWithinWindow(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	s, err := NewStore("", Options{TTL: time.Minute, Now: c.now})
	require.NoError(t, err)

	seen, err := s.CheckAndMark("req-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = s.CheckAndMark("req-1")
	assert.True(t, seen)

	c.t = c.t.Add(2 * time.Minute)
	seen, _ = s.CheckAndMark("req-1")
	assert.False(t, seen, "expired key counts as new")
}

func TestKeysSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws", "requests.json")
	c := &clock{t: time.Unix(1000, 0)}

	s, err := NewStore(path, Options{TTL: time.Minute, Now: c.now})
	require.NoError(t, err)
	_, err = s.CheckAndMark("req-1")
	require.NoError(t, err)

	reopened, err := NewStore(path, Options{TTL: time.Minute, Now: c.now})
	require.NoError(t, err)
	seen, err := reopened.CheckAndMark("req-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestPrune(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	s, err := NewStore(filepath.Join(t.TempDir(), "requests.json"), Options{TTL: time.Minute, Now: c.now})
	require.NoError(t, err)
	_, _ = s.CheckAndMark("a")
	_, _ = s.CheckAndMark("b")

	n, err := s.Prune()
	require.NoError(t, err)
	assert.Zero(t, n)

	c.t = c.t.Add(time.Hour)
	n, err = s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, s.Len())
}

func TestNewStoreRejectsZeroWindow(t *testing.T) {
	_, err := NewStore("", Options{})
	assert.Error(t, err)
}
