package skill

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
)

// Activation is a skill switched on for a session.
type Activation struct {
	Name         string   `json:"name"`
	Reason       string   `json:"reason,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	Instructions string   `json:"-"`
	Restricted   bool     `json:"restricted"`
}

// ActiveSet is the per-session set of active skills, safe for concurrent use.
type ActiveSet struct {
	mu     sync.RWMutex
	active map[string]Activation
	order  []string
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{active: make(map[string]Activation)}
}

// Activate switches on a skill from idx. Activating an active skill is a
// no-op that returns the existing activation.
func (a *ActiveSet) Activate(name, reason string, idx *Index) (Activation, error) {
	name = strings.TrimSpace(name)
	s, ok := idx.Get(name)
	if !ok {
		return Activation{}, bpErrors.NotFound(fmt.Sprintf("unknown skill %q", name))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.active[name]; ok {
		return existing, nil
	}
	act := Activation{
		Name:         s.Name,
		Reason:       reason,
		Instructions: s.Instructions,
		Restricted:   s.AllowedTools != nil,
	}
	if s.AllowedTools != nil {
		act.AllowedTools = append([]string{}, s.AllowedTools...)
	}
	a.active[name] = act
	a.order = append(a.order, name)
	return act, nil
}

func (a *ActiveSet) Deactivate(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[name]; !ok {
		return false
	}
	delete(a.active, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

func (a *ActiveSet) IsActive(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.active[name]
	return ok
}

// List returns activations in activation order.
func (a *ActiveSet) List() []Activation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Activation, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.active[name])
	}
	return out
}

// EffectiveAllowedTools intersects the allowlists of active skills that have
// one. ok is false when no active skill restricts tools.
func (a *ActiveSet) EffectiveAllowedTools() (tools []string, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var allowed map[string]bool
	for _, name := range a.order {
		act := a.active[name]
		if !act.Restricted {
			continue
		}
		next := make(map[string]bool, len(act.AllowedTools))
		for _, t := range act.AllowedTools {
			if allowed == nil || allowed[t] {
				next[t] = true
			}
		}
		allowed = next
	}
	if allowed == nil {
		return nil, false
	}
	tools = make([]string, 0, len(allowed))
	for t := range allowed {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools, true
}

// FormatForPrompt renders the instructions of every active skill.
func (a *ActiveSet) FormatForPrompt() string {
	acts := a.List()
	if len(acts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Active skill packs:")
	for _, act := range acts {
		fmt.Fprintf(&b, "\n\n## %s\n%s", act.Name, act.Instructions)
	}
	return b.String()
}

// MentionedSkills returns names written as $name in input, in order of first
// appearance, trimming trailing punctuation.
func MentionedSkills(input string) []string {
	var out []string
	seen := map[string]bool{}
	for _, word := range strings.Fields(input) {
		if len(word) < 2 || word[0] != '$' {
			continue
		}
		name := strings.TrimRightFunc(word[1:], func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-')
		})
		if name == "" || !validName(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
