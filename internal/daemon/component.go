package daemon

import (
	"context"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is one long-lived part of the daemon. Init may be followed by
// Stop without Start when a later component fails, so Stop must cope with a
// component that never started.
type Component interface {
	Name() string
	// Dependencies names components that must be initialised first.
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
