package turnstate_test

import (
	"testing"

	"github.com/jgarizk/brainpro/internal/turnstate"
	"github.com/jgarizk/brainpro/internal/turnstate/turnstatetest"
)

func TestMemoryStore(t *testing.T) {
	turnstatetest.Run(t, func(t *testing.T, opts turnstate.Options) turnstate.Store {
		return turnstate.NewMemoryStore(opts)
	})
}
