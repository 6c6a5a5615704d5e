package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	"gopkg.in/yaml.v3"
)

// File is the on-disk policy document.
//
//	version: 1
//	restrictions: [openai_no_apply_patch]
//	global: {deny: ["Bash(rm -rf:*)"]}
//	groups: {engineering: {allow: ["Bash(go test:*)"]}}
//	agents: {cleanup-agent: {allow: ["Bash(rm:*)"]}}
//	subagents: {main/explorer: {allow_only: [Read, Glob, Grep]}}
//	profiles: {readonly: {deny: [Write, Edit]}}
//	memberships: {dev-bot: [engineering]}
type File struct {
	Version      int                    `yaml:"version"`
	Restrictions []string               `yaml:"restrictions"`
	Global       *AgentPolicy           `yaml:"global"`
	Groups       map[string]AgentPolicy `yaml:"groups"`
	Agents       map[string]AgentPolicy `yaml:"agents"`
	Subagents    map[string]AgentPolicy `yaml:"subagents"`
	Profiles     map[string]AgentPolicy `yaml:"profiles"`
	Memberships  map[string][]string    `yaml:"memberships"`
}

func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, bpErrors.InvalidInput(fmt.Sprintf("parse policy file: %v", err))
	}
	if err := ValidateFile(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return ParseFile(data)
}

// Apply adds the document's policies and memberships to s. Scopes inside a
// level are added in name order so the result does not depend on map order.
func (f *File) Apply(s *Stack) {
	if len(f.Restrictions) > 0 {
		var rs []ModelRestriction
		for _, name := range f.Restrictions {
			rs = append(rs, namedRestrictions[name]())
		}
		s.AddGlobalPolicy(AgentPolicy{ModelRestrictions: rs})
	}
	if f.Global != nil {
		s.AddGlobalPolicy(*f.Global)
	}
	addScoped(s, LevelGroup, f.Groups)
	addScoped(s, LevelAgent, f.Agents)
	addScoped(s, LevelSubagent, f.Subagents)
	addScoped(s, LevelProfile, f.Profiles)

	for _, actor := range sortedKeys(f.Memberships) {
		for _, group := range f.Memberships[actor] {
			s.AddGroupMembership(actor, group)
		}
	}
}

func addScoped(s *Stack, level Level, policies map[string]AgentPolicy) {
	for _, scope := range sortedKeys(policies) {
		s.AddPolicy(level, scope, policies[scope])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildStack assembles the base stack for a runtime: built-in model
// restrictions, the policy file if one is configured, then the permissions
// block of the config as a global policy. Same-level entries added later are
// consulted first, so config permissions override the file's global rules
// and mode.
func BuildStack(cfg *config.Config) (*Stack, error) {
	s := NewStack()
	if cfg.Policy.BuiltinRestrictions {
		s.AddGlobalPolicy(AgentPolicy{ModelRestrictions: BuiltinRestrictions()})
	}

	perms := cfg.Permissions
	global := AgentPolicy{
		Allow: cloneStrings(perms.Allow),
		Ask:   cloneStrings(perms.Ask),
		Deny:  cloneStrings(perms.Deny),
	}
	if perms.Mode != "" {
		mode, err := ParsePermissionMode(perms.Mode)
		if err != nil {
			return nil, bpErrors.Config(err.Error())
		}
		if mode != ModeDefault {
			global.Mode = &mode
		}
	}
	if err := validatePolicy("permissions", global); err != nil {
		return nil, err
	}

	if cfg.Policy.File != "" {
		f, err := LoadFile(cfg.Policy.File)
		switch {
		case err == nil:
			f.Apply(s)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	if len(global.Allow)+len(global.Ask)+len(global.Deny) > 0 || global.Mode != nil {
		s.AddGlobalPolicy(global)
	}
	return s, nil
}
