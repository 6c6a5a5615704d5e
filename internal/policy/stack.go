package policy

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Entry binds a policy to a level. Scope is the group name, agent id,
// subagent prefix or profile name; it is empty at the global level.
type Entry struct {
	Level  Level       `json:"level"`
	Scope  string      `json:"scope,omitempty"`
	Policy AgentPolicy `json:"policy"`
}

// Stack holds the layered rule sets for one runtime. Entries stay sorted by
// level, keeping insertion order inside a level. All methods are safe for
// concurrent use; a Resolve racing a mutation sees either state.
type Stack struct {
	mu      sync.RWMutex
	entries []Entry
	groups  map[string][]string
	model   string
}

func NewStack() *Stack {
	return &Stack{groups: make(map[string][]string)}
}

func (s *Stack) AddPolicy(level Level, scope string, p AgentPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{Level: level, Scope: scope, Policy: p.clone()})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Level < s.entries[j].Level
	})
}

func (s *Stack) AddGlobalPolicy(p AgentPolicy) { s.AddPolicy(LevelGlobal, "", p) }

func (s *Stack) AddGroupPolicy(group string, p AgentPolicy) { s.AddPolicy(LevelGroup, group, p) }

func (s *Stack) AddAgentPolicy(agentID string, p AgentPolicy) { s.AddPolicy(LevelAgent, agentID, p) }

func (s *Stack) AddSubagentPolicy(prefix string, p AgentPolicy) {
	s.AddPolicy(LevelSubagent, prefix, p)
}

func (s *Stack) AddProfilePolicy(name string, p AgentPolicy) { s.AddPolicy(LevelProfile, name, p) }

// AddGlobalDeny appends a single global deny rule.
func (s *Stack) AddGlobalDeny(pattern string) {
	s.AddGlobalPolicy(AgentPolicy{Deny: []string{pattern}})
}

// RemovePolicy drops every entry at level with the given scope and reports
// how many were removed.
func (s *Stack) RemovePolicy(level Level, scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool {
		return e.Level == level && e.Scope == scope
	})
	return before - len(s.entries)
}

func (s *Stack) ClearProfilePolicies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool {
		return e.Level == LevelProfile
	})
}

func (s *Stack) AddGroupMembership(actorID, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.groups[actorID], group) {
		return
	}
	s.groups[actorID] = append(s.groups[actorID], group)
}

func (s *Stack) RemoveGroupMembership(actorID, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := slices.DeleteFunc(slices.Clone(s.groups[actorID]), func(g string) bool { return g == group })
	if len(remaining) == 0 {
		delete(s.groups, actorID)
		return
	}
	s.groups[actorID] = remaining
}

func (s *Stack) Groups(actorID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.groups[actorID])
}

// SetModel records the active model name used by model restrictions.
func (s *Stack) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

func (s *Stack) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Entries returns a copy of the entries in ascending level order.
func (s *Stack) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{Level: e.Level, Scope: e.Scope, Policy: e.Policy.clone()}
	}
	return out
}

// Memberships returns a copy of the actor to groups map.
func (s *Stack) Memberships() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.groups))
	for actor, groups := range s.groups {
		out[actor] = slices.Clone(groups)
	}
	return out
}

// Clone returns an independent deep copy; mutations on either side do not
// leak into the other.
func (s *Stack) Clone() *Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Stack{
		entries: make([]Entry, len(s.entries)),
		groups:  make(map[string][]string, len(s.groups)),
		model:   s.model,
	}
	for i, e := range s.entries {
		c.entries[i] = Entry{Level: e.Level, Scope: e.Scope, Policy: e.Policy.clone()}
	}
	for actor, groups := range s.groups {
		c.groups[actor] = slices.Clone(groups)
	}
	return c
}

// applicable returns the entries that apply to actorID in ascending level
// order. Callers must hold the read lock. An empty actorID only sees global
// and profile entries.
func (s *Stack) applicable(actorID string) []Entry {
	groups := s.groups[actorID]
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		var ok bool
		switch e.Level {
		case LevelGlobal, LevelProfile:
			ok = true
		case LevelGroup:
			ok = actorID != "" && slices.Contains(groups, e.Scope)
		case LevelAgent:
			ok = actorID != "" && actorID == e.Scope
		case LevelSubagent:
			ok = actorID != "" && strings.HasPrefix(actorID, e.Scope)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

// Resolve decides whether actorID may call tool with args. Entries are
// scanned from the highest level down; within one entry the allowlist, model
// restrictions, deny, ask and allow rules are checked in that order and the
// first hit wins. An entry with inherit disabled stops the scan. Anything
// unmatched resolves to Ask.
func (s *Stack) Resolve(actorID, tool string, args json.RawMessage) Verdict {
	arg, hasArg := ExtractArg(tool, args)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.applicable(actorID)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		p := e.Policy

		if allowed, ok := p.allowlisted(tool); ok && !allowed {
			return Verdict{Decision: DecisionDeny, Rule: "not in allow_only list", Level: e.Level, Matched: true}
		}
		if r, ok := p.restrictionFor(tool, s.model); ok {
			return Verdict{Decision: DecisionDeny, Rule: r.Reason, Level: e.Level, Matched: true}
		}
		for _, pattern := range p.Deny {
			if MatchTool(pattern, tool, arg, hasArg) {
				return Verdict{Decision: DecisionDeny, Rule: pattern, Level: e.Level, Matched: true}
			}
		}
		for _, pattern := range p.Ask {
			if MatchTool(pattern, tool, arg, hasArg) {
				return Verdict{Decision: DecisionAsk, Rule: pattern, Level: e.Level, Matched: true}
			}
		}
		for _, pattern := range p.Allow {
			if MatchTool(pattern, tool, arg, hasArg) {
				return Verdict{Decision: DecisionAllow, Rule: pattern, Level: e.Level, Matched: true}
			}
		}
		if !p.Inherits() {
			break
		}
	}
	return Verdict{Decision: DecisionAsk}
}

func (s *Stack) IsToolAllowed(actorID, tool string, args json.RawMessage) bool {
	return s.Resolve(actorID, tool, args).Decision == DecisionAllow
}

// EffectiveMode returns the highest-level mode override for actorID.
func (s *Stack) EffectiveMode(actorID string) PermissionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.applicable(actorID)
	for i := len(entries) - 1; i >= 0; i-- {
		p := entries[i].Policy
		if p.Mode != nil {
			return *p.Mode
		}
		if !p.Inherits() {
			break
		}
	}
	return ModeDefault
}

// FilterTools keeps the tool names actorID may be offered. All applicable
// allowlists are intersected; without any allowlist, tools hit by an
// argument-free deny pattern are dropped. Model restrictions always apply.
func (s *Stack) FilterTools(actorID string, names []string) []string {
	return FilterSchemas(s, actorID, names, func(n string) string { return n })
}

// FilterSchemas is FilterTools over arbitrary schema values.
func FilterSchemas[T any](s *Stack, actorID string, schemas []T, nameOf func(T) string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.applicable(actorID)

	var allowlist []string
	hasAllowlist := false
	for _, e := range entries {
		if e.Policy.AllowOnly == nil {
			continue
		}
		if !hasAllowlist {
			allowlist = slices.Clone(e.Policy.AllowOnly)
			hasAllowlist = true
			continue
		}
		only := e.Policy.AllowOnly
		allowlist = slices.DeleteFunc(allowlist, func(t string) bool { return !slices.Contains(only, t) })
	}

	out := make([]T, 0, len(schemas))
	for _, schema := range schemas {
		name := nameOf(schema)
		if name == "" {
			continue
		}
		if s.offered(entries, name, allowlist, hasAllowlist) {
			out = append(out, schema)
		}
	}
	return out
}

func (s *Stack) offered(entries []Entry, name string, allowlist []string, hasAllowlist bool) bool {
	if hasAllowlist {
		if !slices.Contains(allowlist, name) {
			return false
		}
	} else {
		for _, e := range entries {
			for _, pattern := range e.Policy.Deny {
				if MatchTool(pattern, name, "", false) {
					return false
				}
			}
		}
	}
	for _, e := range entries {
		if _, denied := e.Policy.restrictionFor(name, s.model); denied {
			return false
		}
	}
	return true
}
