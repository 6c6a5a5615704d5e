// Package turnstatetest holds the behaviour every turnstate.Store backend
// must share.
package turnstatetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty store using opts.
type Factory func(t *testing.T, opts turnstate.Options) turnstate.Store

// Clock is a settable time source for expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SampleState returns a realistic suspended turn with id turnID.
func SampleState(turnID string, createdAt time.Time) *turnstate.TurnState {
	questions, _ := json.Marshal([]map[string]any{{"question": "Which db?", "header": "DB"}})
	return &turnstate.TurnState{
		TurnID:    turnID,
		SessionID: "sess-1",
		RequestID: "req-1",
		ActorID:   "main",
		MessageHistory: []contract.Message{
			{Role: contract.RoleSystem, Content: "You are helpful."},
			{Role: contract.RoleUser, Content: "write \"hello\"\nto a file ✓"},
			{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{
				{ID: "call_1", Name: "Write", Input: `{"path":"a.txt","content":"hello"}`},
			}},
		},
		PendingAction: turnstate.PendingAction{
			CallID:           "call_1",
			ToolName:         "Write",
			Arguments:        `{"path":"a.txt","content":"hello"}`,
			MatchedRule:      "Write",
			PendingQuestions: questions,
		},
		YieldReason:      turnstate.AwaitingApproval,
		TargetModel:      "gpt-4o-mini@chatgpt",
		WorkingDirectory: "/tmp/project",
		PlanningMode:     true,
		ActiveSkills:     []string{"go-review"},
		Profiles:         json.RawMessage(`{"request":{"deny":["Bash"]}}`),
		CreatedAt:        createdAt,
	}
}

// Run exercises a backend against the shared contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("RoundTrip", func(t *testing.T) {
		clock := NewClock(base)
		s := factory(t, turnstate.Options{TTL: 30 * time.Minute, Now: clock.Now})
		ctx := context.Background()

		in := SampleState("turn-rt", base)
		require.NoError(t, s.Save(ctx, in))

		want, err := json.Marshal(SampleState("turn-rt", base).MessageHistory)
		require.NoError(t, err)

		got, err := s.Take(ctx, "turn-rt")
		require.NoError(t, err)
		assert.Equal(t, SampleState("turn-rt", base), got)

		gotJSON, err := json.Marshal(got.MessageHistory)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(gotJSON))
	})

	t.Run("SingleConsumption", func(t *testing.T) {
		s := factory(t, turnstate.Options{TTL: time.Hour})
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, SampleState("turn-once", time.Time{})))

		_, err := s.Take(ctx, "turn-once")
		require.NoError(t, err)

		_, err = s.Take(ctx, "turn-once")
		require.Error(t, err)
		assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound))
		assert.Contains(t, err.Error(), "Turn turn-once not found or expired")
	})

	t.Run("ConcurrentTakeSucceedsOnce", func(t *testing.T) {
		s := factory(t, turnstate.Options{TTL: time.Hour})
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, SampleState("turn-race", time.Time{})))

		var wins, misses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "turn-race"); err == nil {
					wins.Add(1)
				} else if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
					misses.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), misses.Load())
	})

	t.Run("ExpiredBehavesAsMissing", func(t *testing.T) {
		clock := NewClock(base)
		s := factory(t, turnstate.Options{TTL: 30 * time.Minute, Now: clock.Now})
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, SampleState("turn-old", time.Time{})))
		_, err := s.Get(ctx, "turn-old")
		require.NoError(t, err)

		clock.Advance(31 * time.Minute)

		_, err = s.Get(ctx, "turn-old")
		assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound))
		_, err = s.Take(ctx, "turn-old")
		assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound))
	})

	t.Run("GetDoesNotConsume", func(t *testing.T) {
		s := factory(t, turnstate.Options{TTL: time.Hour})
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, SampleState("turn-peek", time.Time{})))

		_, err := s.Get(ctx, "turn-peek")
		require.NoError(t, err)
		_, err = s.Get(ctx, "turn-peek")
		require.NoError(t, err)
		_, err = s.Take(ctx, "turn-peek")
		require.NoError(t, err)
	})

	t.Run("ListAndPrune", func(t *testing.T) {
		clock := NewClock(base)
		s := factory(t, turnstate.Options{TTL: 30 * time.Minute, Now: clock.Now})
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.Save(ctx, SampleState(fmt.Sprintf("turn-%d", i), base.Add(time.Duration(i)*20*time.Minute))))
		}
		clock.Advance(45 * time.Minute)

		live, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, live, 2)
		assert.Equal(t, "turn-1", live[0].TurnID)
		assert.Equal(t, "turn-2", live[1].TurnID)

		removed, err := s.Prune(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		removed, err = s.Prune(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})

	t.Run("SaveRejectsMissingID", func(t *testing.T) {
		s := factory(t, turnstate.Options{})
		assert.Error(t, s.Save(context.Background(), &turnstate.TurnState{}))
		assert.Error(t, s.Save(context.Background(), nil))
	})
}
