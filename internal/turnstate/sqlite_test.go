package turnstate_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/turnstate"
	"github.com/jgarizk/brainpro/internal/turnstate/turnstatetest"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	turnstatetest.Run(t, func(t *testing.T, opts turnstate.Options) turnstate.Store {
		s, err := turnstate.OpenSQLite(filepath.Join(t.TempDir(), "turns.db"), opts)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := turnstate.OpenSQLite(":memory:", turnstate.Options{})
	require.NoError(t, err)
	defer s.Close()

	state := turnstatetest.SampleState(turnstate.NewTurnID(), time.Time{})
	require.NoError(t, s.Save(t.Context(), state))
	_, err = s.Take(t.Context(), state.TurnID)
	require.NoError(t, err)
}
