package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model/contract"
	anthropicProvider "github.com/jgarizk/brainpro/internal/model/providers/anthropic"
	geminiProvider "github.com/jgarizk/brainpro/internal/model/providers/gemini"
	openaiProvider "github.com/jgarizk/brainpro/internal/model/providers/openai"
)

// DefaultModelRouter implements ModelRouter. Providers are created on first
// use per backend and cached. It never retries: a failed call is returned as
// a backend error and the turn ends.
type DefaultModelRouter struct {
	backends  map[string]config.BackendConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

func NewModelRouter(backends map[string]config.BackendConfig) *DefaultModelRouter {
	return &DefaultModelRouter{
		backends:  backends,
		providers: make(map[string]Provider),
	}
}

// Register installs a provider under a backend name, replacing any cached one.
func (r *DefaultModelRouter) Register(backend string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[backend] = p
}

func (r *DefaultModelRouter) Chat(ctx context.Context, target Target, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	log := logger.FromContext(ctx)

	provider, err := r.resolveProvider(ctx, target.Backend)
	if err != nil {
		return nil, err
	}

	req.Model = target.Model
	if req.MaxTokens == 0 {
		req.MaxTokens = r.backends[target.Backend].MaxTokens
	}

	start := time.Now()
	log.Debug("Routing completion request", "target", target.String(), "messages", len(req.Messages), "tools", len(req.Tools))

	resp, err := provider.Generate(ctx, req)
	if err != nil {
		log.Error("Provider request failed", "target", target.String(), "error", err)
		return nil, bpErrors.Backend(err, fmt.Sprintf("backend %s", target.Backend))
	}

	log.Debug("Request completed", "target", target.String(), "latency_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (r *DefaultModelRouter) resolveProvider(ctx context.Context, backend string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, bpErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[backend]
	r.mu.RUnlock()
	if exists {
		return provider, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if provider, exists := r.providers[backend]; exists {
		return provider, nil
	}

	entry, ok := r.backends[backend]
	if !ok {
		return nil, bpErrors.Config(fmt.Sprintf("unknown backend %q", backend))
	}
	provider, err := createProvider(ctx, backend, entry)
	if err != nil {
		return nil, err
	}
	r.providers[backend] = provider
	slog.Info("Provider initialized", "backend", backend, "type", provider.Type())
	return provider, nil
}

// ListBackends returns configured and registered backend names, sorted.
func (r *DefaultModelRouter) ListBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.backends)+len(r.providers))
	for name := range r.backends {
		seen[name] = struct{}{}
	}
	for name := range r.providers {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health reports a config error for any backend whose provider cannot be
// built, e.g. a missing API key.
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	for _, name := range r.ListBackends() {
		r.mu.RLock()
		_, cached := r.providers[name]
		entry := r.backends[name]
		r.mu.RUnlock()
		if cached {
			continue
		}
		if err := validateBackend(name, entry); err != nil {
			slog.Warn("Backend unusable", "backend", name, "error", err)
			return err
		}
	}
	return nil
}

func validateBackend(name string, entry config.BackendConfig) error {
	switch entry.Provider {
	case "", "openai":
		return nil
	case "anthropic", "gemini":
		if entry.ResolveAPIKey() == "" {
			return bpErrors.Config(fmt.Sprintf("API key required for %s backend %s", entry.Provider, name))
		}
		return nil
	default:
		return bpErrors.Config(fmt.Sprintf("unknown provider type %q for backend %s", entry.Provider, name))
	}
}

func createProvider(ctx context.Context, name string, entry config.BackendConfig) (Provider, error) {
	if err := validateBackend(name, entry); err != nil {
		return nil, err
	}
	apiKey := entry.ResolveAPIKey()

	switch entry.Provider {
	case "anthropic":
		return anthropicProvider.New(name, apiKey, entry.BaseURL, entry.MaxTokens), nil

	case "gemini":
		p, err := geminiProvider.New(ctx, name, apiKey, entry.BaseURL, entry.MaxTokens)
		if err != nil {
			return nil, bpErrors.WrapWithCategory(err, "failed to create Gemini provider", bpErrors.ErrConfig)
		}
		return p, nil

	default:
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}
		return openaiProvider.New(name, apiKey, baseURL), nil
	}
}
