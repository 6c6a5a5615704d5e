package turnstate

import (
	"context"
	"fmt"
	"time"
)

// Store persists suspended turns. Take is an atomic get-and-delete: of any
// number of concurrent Takes for one id, at most one succeeds. Expired
// entries behave exactly like missing ones.
type Store interface {
	Save(ctx context.Context, state *TurnState) error
	Take(ctx context.Context, turnID string) (*TurnState, error)
	Get(ctx context.Context, turnID string) (*TurnState, error)
	List(ctx context.Context) ([]*TurnState, error)
	Prune(ctx context.Context) (int, error)
	Close() error
}

type Options struct {
	TTL time.Duration
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// CurrentTime is the store clock, time.Now unless Options.Now is set.
func (o Options) CurrentTime() time.Time {
	return o.now()
}

// Prepare validates state and stamps its creation time. Backends living
// outside this package call it at the top of Save.
func Prepare(state *TurnState, opts Options) error {
	if err := validateForSave(state); err != nil {
		return err
	}
	stampCreatedAt(state, opts)
	return nil
}

func validateForSave(state *TurnState) error {
	if state == nil {
		return fmt.Errorf("turn state cannot be nil")
	}
	if state.TurnID == "" {
		return fmt.Errorf("turn state has no turn id")
	}
	return nil
}

// stampCreatedAt fills a missing creation time and normalises it to UTC
// without a monotonic reading, so it survives a JSON round trip unchanged.
func stampCreatedAt(state *TurnState, opts Options) {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = opts.now()
	}
	state.CreatedAt = state.CreatedAt.UTC().Round(0)
}
