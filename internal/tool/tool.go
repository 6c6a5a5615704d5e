package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jgarizk/brainpro/internal/model/contract"
)

// Tool represents an executable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Registry holds all available tools. Names are case sensitive, matching the
// names policy patterns are written against.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	name := NormalizeToolName(t.Name())
	if name == "" {
		panic("tool: empty tool name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[NormalizeToolName(name)]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the schemas sent to the model, sorted by name.
func (r *Registry) Definitions() []contract.ToolDef {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]contract.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, contract.ToolDef{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func NormalizeToolName(name string) string {
	return strings.TrimSpace(name)
}

// DefinitionName is the name accessor used with policy.FilterSchemas.
func DefinitionName(def contract.ToolDef) string {
	return def.Name
}

type workingDirKey struct{}

// WithWorkingDir sets the directory relative tool paths resolve against.
func WithWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workingDirKey{}, dir)
}

// WorkingDir returns the directory set by WithWorkingDir, falling back to the
// process working directory.
func WorkingDir(ctx context.Context) string {
	if dir, ok := ctx.Value(workingDirKey{}).(string); ok && dir != "" {
		return dir
	}
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	return "."
}

// DecodeInput unmarshals tool arguments, treating empty input as {}.
func DecodeInput(input json.RawMessage, v interface{}) error {
	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
