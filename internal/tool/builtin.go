package tool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/config"
)

// BuiltinOptions carries runtime settings needed by built-in tool factories.
type BuiltinOptions struct {
	BashTimeout        time.Duration
	BashMaxOutputBytes int
	BashShell          string
	ReadMaxBytes       int
	SearchMaxResults   int
}

const (
	DefaultBuiltinReadMaxBytes     = 256 * 1024
	DefaultBuiltinSearchMaxResults = 200
)

// BuiltinOptionsFrom maps the bash block of the config onto factory options.
func BuiltinOptionsFrom(cfg config.BashConfig) (BuiltinOptions, error) {
	timeout, err := config.PositiveDurationOrDefault(cfg.Timeout, config.DefaultBashTimeout)
	if err != nil {
		return BuiltinOptions{}, fmt.Errorf("bash.timeout: %w", err)
	}
	opts := BuiltinOptions{
		BashTimeout:        timeout,
		BashMaxOutputBytes: cfg.MaxOutputBytes,
		BashShell:          cfg.Shell,
	}
	return opts.withDefaults(), nil
}

func (o BuiltinOptions) withDefaults() BuiltinOptions {
	if o.BashTimeout <= 0 {
		o.BashTimeout, _ = time.ParseDuration(config.DefaultBashTimeout)
	}
	if o.BashMaxOutputBytes <= 0 {
		o.BashMaxOutputBytes = config.DefaultBashMaxOutputBytes
	}
	if o.BashShell == "" {
		o.BashShell = config.DefaultBashShell
	}
	if o.ReadMaxBytes <= 0 {
		o.ReadMaxBytes = DefaultBuiltinReadMaxBytes
	}
	if o.SearchMaxResults <= 0 {
		o.SearchMaxResults = DefaultBuiltinSearchMaxResults
	}
	return o
}

type BuiltinFactory func(options BuiltinOptions) (Tool, error)

var builtinCatalog = struct {
	mu        sync.RWMutex
	factories map[string]BuiltinFactory
}{
	factories: map[string]BuiltinFactory{},
}

// RegisterBuiltin registers a built-in tool factory under a tool name.
// Intended to be called in init() from built-in tool files.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		panic("tool: built-in name cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("tool: built-in factory cannot be nil (%s)", normalized))
	}

	builtinCatalog.mu.Lock()
	defer builtinCatalog.mu.Unlock()

	if _, exists := builtinCatalog.factories[normalized]; exists {
		panic(fmt.Sprintf("tool: built-in already registered: %s", normalized))
	}
	builtinCatalog.factories[normalized] = factory
}

// BuiltinNames returns all registered built-in names in deterministic order.
func BuiltinNames() []string {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(builtinCatalog.factories))
	for name := range builtinCatalog.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsBuiltinName(name string) bool {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		return false
	}

	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()
	_, ok := builtinCatalog.factories[normalized]
	return ok
}

// InstantiateBuiltins constructs all built-in tools using their registered factories.
func InstantiateBuiltins(options BuiltinOptions) ([]Tool, error) {
	options = options.withDefaults()
	names := BuiltinNames()

	builtinCatalog.mu.RLock()
	factories := make(map[string]BuiltinFactory, len(builtinCatalog.factories))
	for name, factory := range builtinCatalog.factories {
		factories[name] = factory
	}
	builtinCatalog.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := factories[name](options)
		if err != nil {
			return nil, fmt.Errorf("instantiate built-in %q: %w", name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}

// NewBuiltinRegistry instantiates every built-in into a fresh registry.
func NewBuiltinRegistry(options BuiltinOptions) (*Registry, error) {
	tools, err := InstantiateBuiltins(options)
	if err != nil {
		return nil, err
	}
	return NewRegistry(tools...), nil
}
