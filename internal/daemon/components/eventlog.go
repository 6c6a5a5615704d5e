package components

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/events"
)

// EventLogComponent mirrors bus events into the debug log.
type EventLogComponent struct {
	runtime     Runtime
	unsubscribe func()
	mu          sync.Mutex
}

func NewEventLogComponent(rt Runtime) *EventLogComponent {
	return &EventLogComponent{runtime: rt}
}

func (e *EventLogComponent) Name() string {
	return "EventLog"
}

func (e *EventLogComponent) Dependencies() []string {
	return []string{RuntimeName}
}

func (e *EventLogComponent) Init(ctx context.Context) error {
	return nil
}

func (e *EventLogComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bus := e.runtime.EventBus()
	if bus == nil || e.unsubscribe != nil {
		return nil
	}
	e.unsubscribe = bus.Subscribe(logEvent)
	return nil
}

func logEvent(ev events.Event) {
	slog.Debug("event",
		"seq", ev.Seq,
		"subsystem", ev.Subsystem,
		"type", ev.Type,
		"trace_id", ev.TraceID,
		"session_id", ev.SessionID,
		"turn_id", ev.TurnID,
		"data", ev.Data,
	)
}

func (e *EventLogComponent) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	return nil
}

func (e *EventLogComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	return healthy(e.Name()), nil
}
