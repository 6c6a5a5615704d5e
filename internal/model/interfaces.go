package model

import (
	"context"

	"github.com/jgarizk/brainpro/internal/model/contract"
)

// Client is what the turn engine talks to.
type Client interface {
	Chat(ctx context.Context, target Target, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

type ModelRouter interface {
	Client
	ListBackends() []string
	Health(ctx context.Context) error
}

type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Name() string
	Type() string
}
