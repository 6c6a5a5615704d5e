package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) listen(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	all, policyOnly := &collector{}, &collector{}
	unsubAll := bus.Subscribe(all.listen)
	unsubPolicy := bus.Subscribe(policyOnly.listen, SubsystemPolicy)

	ctx := logger.WithTraceID(context.Background(), "trace-1")
	bus.Publish(ctx, Event{Subsystem: SubsystemAgent, Type: TurnStarted})
	bus.Publish(ctx, Event{Subsystem: SubsystemPolicy, Type: PolicyDecision, Data: map[string]any{"decision": "deny"}})

	unsubAll()
	unsubPolicy()

	got := all.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "trace-1", got[0].TraceID)
	assert.NotZero(t, got[0].Seq)
	assert.False(t, got[0].Time.IsZero())

	require.Len(t, policyOnly.snapshot(), 1)
	assert.Equal(t, PolicyDecision, policyOnly.snapshot()[0].Type)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusIsolatesPanickingListener(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	good := &collector{}
	unsubBad := bus.Subscribe(func(Event) { panic("listener bug") })
	unsubGood := bus.Subscribe(good.listen)

	bus.Publish(context.Background(), Event{Subsystem: SubsystemAgent, Type: TurnCompleted})
	bus.Publish(context.Background(), Event{Subsystem: SubsystemAgent, Type: TurnCompleted})

	unsubBad()
	unsubGood()
	assert.Len(t, good.snapshot(), 2)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	unsub := bus.Subscribe(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(context.Background(), Event{Type: ToolInvoked})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("listener never started")
	}

	// One event fits in the queue, the rest are dropped.
	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), Event{Type: ToolInvoked})
	}
	assert.Equal(t, uint64(4), bus.Dropped())

	close(release)
	unsub()
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: TurnStarted})
	})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus(0)
	c := &collector{}
	unsub := bus.Subscribe(c.listen)
	bus.Publish(context.Background(), Event{Type: TurnStarted})

	bus.Close()
	bus.Close()
	unsub()

	bus.Publish(context.Background(), Event{Type: TurnStarted})
	assert.Len(t, c.snapshot(), 1)

	noop := bus.Subscribe(c.listen)
	noop()
}
