package policy

import (
	"fmt"
	"strings"
)

// Level orders rule sets by priority. A higher level wins over a lower one.
type Level int

const (
	LevelGlobal Level = iota
	LevelGroup
	LevelAgent
	LevelSubagent
	LevelProfile
)

var levelNames = [...]string{"global", "group", "agent", "subagent", "profile"}

func (l Level) String() string {
	if l < LevelGlobal || l > LevelProfile {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func ParseLevel(s string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == key {
			return Level(i), nil
		}
	}
	return LevelGlobal, fmt.Errorf("unknown policy level: %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Verdict is the outcome of one Resolve call. Rule and Level are only
// meaningful when Matched is true; the fall-through default is an unmatched Ask.
type Verdict struct {
	Decision Decision `json:"decision"`
	Rule     string   `json:"rule,omitempty"`
	Level    Level    `json:"level"`
	Matched  bool     `json:"matched"`
}

func (v Verdict) String() string {
	if !v.Matched {
		return string(v.Decision) + " (default)"
	}
	return fmt.Sprintf("%s (rule: %s, level: %s)", v.Decision, v.Rule, v.Level)
}

type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// ParsePermissionMode accepts the canonical names plus the dashed, snake and
// lowercase spellings people tend to type.
func ParsePermissionMode(s string) (PermissionMode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	switch key {
	case "", "default":
		return ModeDefault, nil
	case "acceptedits":
		return ModeAcceptEdits, nil
	case "bypass", "bypasspermissions":
		return ModeBypassPermissions, nil
	}
	return ModeDefault, fmt.Errorf("unknown permission mode: %q", s)
}

func (m *PermissionMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePermissionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModelRestriction denies tools while the active model matches ModelPattern.
// A trailing '*' makes the pattern a prefix match; otherwise it is exact.
type ModelRestriction struct {
	ModelPattern string   `json:"model_pattern" yaml:"model"`
	DeniedTools  []string `json:"denied_tools" yaml:"tools"`
	Reason       string   `json:"reason" yaml:"reason"`
}

func (r ModelRestriction) AppliesToModel(model string) bool {
	if prefix, ok := strings.CutSuffix(r.ModelPattern, "*"); ok {
		return strings.HasPrefix(model, prefix)
	}
	return model == r.ModelPattern
}

func (r ModelRestriction) DeniesTool(tool string) bool {
	for _, t := range r.DeniedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// AgentPolicy is one rule set. A nil AllowOnly means no allowlist; a non-nil
// empty AllowOnly denies everything. A nil Inherit means true.
type AgentPolicy struct {
	Allow             []string           `json:"allow,omitempty" yaml:"allow"`
	Ask               []string           `json:"ask,omitempty" yaml:"ask"`
	Deny              []string           `json:"deny,omitempty" yaml:"deny"`
	AllowOnly         []string           `json:"allow_only,omitempty" yaml:"allow_only"`
	ModelRestrictions []ModelRestriction `json:"model_restrictions,omitempty" yaml:"model_restrictions"`
	Mode              *PermissionMode    `json:"mode,omitempty" yaml:"mode"`
	Inherit           *bool              `json:"inherit,omitempty" yaml:"inherit"`
}

func (p AgentPolicy) Inherits() bool {
	return p.Inherit == nil || *p.Inherit
}

// NoInherit returns a copy of p that blocks lower levels.
func (p AgentPolicy) NoInherit() AgentPolicy {
	off := false
	p.Inherit = &off
	return p
}

func (p AgentPolicy) WithMode(mode PermissionMode) AgentPolicy {
	p.Mode = &mode
	return p
}

func (p AgentPolicy) clone() AgentPolicy {
	out := AgentPolicy{
		Allow:             cloneStrings(p.Allow),
		Ask:               cloneStrings(p.Ask),
		Deny:              cloneStrings(p.Deny),
		AllowOnly:         cloneStrings(p.AllowOnly),
		ModelRestrictions: make([]ModelRestriction, 0, len(p.ModelRestrictions)),
	}
	for _, r := range p.ModelRestrictions {
		r.DeniedTools = cloneStrings(r.DeniedTools)
		out.ModelRestrictions = append(out.ModelRestrictions, r)
	}
	if p.Mode != nil {
		mode := *p.Mode
		out.Mode = &mode
	}
	if p.Inherit != nil {
		inherit := *p.Inherit
		out.Inherit = &inherit
	}
	return out
}

// allowlisted reports whether the allowlist admits tool. ok is false when the
// policy has no allowlist at all.
func (p AgentPolicy) allowlisted(tool string) (allowed bool, ok bool) {
	if p.AllowOnly == nil {
		return false, false
	}
	for _, t := range p.AllowOnly {
		if t == tool {
			return true, true
		}
	}
	return false, true
}

func (p AgentPolicy) restrictionFor(tool, model string) (ModelRestriction, bool) {
	if model == "" {
		return ModelRestriction{}, false
	}
	for _, r := range p.ModelRestrictions {
		if r.AppliesToModel(model) && r.DeniesTool(tool) {
			return r, true
		}
	}
	return ModelRestriction{}, false
}

// cloneStrings keeps nil distinct from empty.
func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
