package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgarizk/brainpro/internal/concurrency"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/logger"
)

type Subsystem string

const (
	SubsystemAgent   Subsystem = "agent"
	SubsystemPolicy  Subsystem = "policy"
	SubsystemModel   Subsystem = "model"
	SubsystemGateway Subsystem = "gateway"
	SubsystemDaemon  Subsystem = "daemon"
)

type Type string

const (
	TurnStarted    Type = "turn.started"
	TurnSuspended  Type = "turn.suspended"
	TurnResumed    Type = "turn.resumed"
	TurnCompleted  Type = "turn.completed"
	ModelUsage     Type = "model.usage"
	ModelError     Type = "model.error"
	ToolInvoked    Type = "tool.invoked"
	ToolCompleted  Type = "tool.completed"
	ToolDenied     Type = "tool.denied"
	PolicyDecision Type = "policy.decision"
	PolicyReloaded Type = "policy.reloaded"
	TurnsPruned    Type = "turns.pruned"
)

// Event is an observability record. Delivery is best effort: listeners never
// influence control flow and may see events from different publishers in any
// order.
type Event struct {
	Seq       uint64         `json:"seq"`
	Time      time.Time      `json:"ts"`
	Subsystem Subsystem      `json:"subsystem"`
	Type      Type           `json:"type"`
	TraceID   string         `json:"trace_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	TurnID    string         `json:"turn_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Listener func(Event)

type subscriber struct {
	id         int
	ch         chan Event
	subsystems []Subsystem
	done       chan struct{}
}

func (s *subscriber) wants(e Event) bool {
	return len(s.subsystems) == 0 || slices.Contains(s.subsystems, e.Subsystem)
}

// Bus fans events out to subscribers, each with its own bounded queue. A
// full queue drops the event for that subscriber only.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]*subscriber
	nextID     int
	bufferSize int
	closed     bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = config.DefaultEventsBufferSize
	}
	return &Bus{
		subs:       make(map[int]*subscriber),
		bufferSize: bufferSize,
	}
}

// Subscribe registers fn for the given subsystems, or all of them when none
// are named. The returned func unsubscribes and waits for fn to drain.
func (b *Bus) Subscribe(fn Listener, subsystems ...Subsystem) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &subscriber{
		id:         b.nextID,
		ch:         make(chan Event, b.bufferSize),
		subsystems: subsystems,
		done:       make(chan struct{}),
	}
	b.nextID++
	b.subs[sub.id] = sub

	go func() {
		defer close(sub.done)
		for e := range sub.ch {
			concurrency.SafeCall(func() { fn(e) }, func(r interface{}) {
				slog.Warn("Event listener panicked", "type", e.Type, "panic", r)
			})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.ch)
			}
			b.mu.Unlock()
			<-sub.done
		})
	}
}

// Publish stamps e and enqueues it for every interested subscriber without
// blocking. A nil bus discards events.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	e.Seq = b.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.TraceID == "" {
		e.TraceID = logger.GetTraceID(ctx)
	}
	if e.SessionID == "" {
		e.SessionID = logger.GetSessionID(ctx)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events discarded because a subscriber queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops delivery and waits for listeners to finish queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		close(sub.ch)
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
