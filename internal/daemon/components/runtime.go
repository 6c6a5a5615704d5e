package components

import (
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// RuntimeName is the component every other component depends on.
const RuntimeName = "Runtime"

// Runtime is what the daemon components need from the assembled engine.
// Getters return nil until the runtime component is initialised.
type Runtime interface {
	TurnStore() turnstate.Store
	PolicySource() *policy.Source
	EventBus() *events.Bus
	GatewayController() *gateway.Controller
}

func unhealthy(name string, err error) *daemon.ComponentHealth {
	return &daemon.ComponentHealth{Name: name, Healthy: false, Error: err}
}

func healthy(name string) *daemon.ComponentHealth {
	return &daemon.ComponentHealth{Name: name, Healthy: true}
}
