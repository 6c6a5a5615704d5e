package policy

import (
	"fmt"
	"strings"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
)

const supportedFileVersion = 1

// ValidateFile checks a policy document before it is applied. Version 0 is
// accepted as "unversioned".
func ValidateFile(f *File) error {
	if f == nil {
		return bpErrors.InvalidInput("policy file cannot be nil")
	}
	if f.Version != 0 && f.Version != supportedFileVersion {
		return bpErrors.InvalidInput(fmt.Sprintf("unsupported policy file version: %d", f.Version))
	}

	for _, name := range f.Restrictions {
		if _, ok := namedRestrictions[name]; !ok {
			return bpErrors.InvalidInput(fmt.Sprintf("unknown restriction: %s", name))
		}
	}

	if f.Global != nil {
		if err := validatePolicy("global", *f.Global); err != nil {
			return err
		}
	}

	sections := []struct {
		name     string
		policies map[string]AgentPolicy
	}{
		{"groups", f.Groups},
		{"agents", f.Agents},
		{"subagents", f.Subagents},
		{"profiles", f.Profiles},
	}
	for _, section := range sections {
		for _, scope := range sortedKeys(section.policies) {
			if strings.TrimSpace(scope) == "" {
				return bpErrors.InvalidInput(fmt.Sprintf("%s: scope name cannot be empty", section.name))
			}
			if err := validatePolicy(section.name+"."+scope, section.policies[scope]); err != nil {
				return err
			}
		}
	}

	for actor, groups := range f.Memberships {
		if strings.TrimSpace(actor) == "" {
			return bpErrors.InvalidInput("memberships: actor id cannot be empty")
		}
		for _, g := range groups {
			if strings.TrimSpace(g) == "" {
				return bpErrors.InvalidInput(fmt.Sprintf("memberships.%s: group name cannot be empty", actor))
			}
		}
	}

	return nil
}

// ValidateRestriction checks a profile supplied by a caller. Such profiles
// sit above every configured level, so they may only narrow: deny,
// allow_only and model_restrictions are accepted.
func ValidateRestriction(p AgentPolicy) error {
	if len(p.Allow) > 0 || len(p.Ask) > 0 {
		return bpErrors.InvalidInput("profile: allow and ask rules are not accepted, only restrictions")
	}
	if p.Mode != nil {
		return bpErrors.InvalidInput("profile: mode cannot be set")
	}
	if p.Inherit != nil && !*p.Inherit {
		return bpErrors.InvalidInput("profile: inherit cannot be false")
	}
	return validatePolicy("profile", p)
}

func validatePolicy(where string, p AgentPolicy) error {
	lists := []struct {
		name     string
		patterns []string
	}{
		{"allow", p.Allow},
		{"ask", p.Ask},
		{"deny", p.Deny},
	}
	for _, list := range lists {
		for _, raw := range list.patterns {
			if _, err := ParsePattern(raw); err != nil {
				return bpErrors.InvalidInput(fmt.Sprintf("%s.%s: %v", where, list.name, err))
			}
		}
	}

	for _, tool := range p.AllowOnly {
		if strings.TrimSpace(tool) == "" {
			return bpErrors.InvalidInput(fmt.Sprintf("%s.allow_only: tool name cannot be empty", where))
		}
	}

	for i, r := range p.ModelRestrictions {
		if strings.TrimSpace(r.ModelPattern) == "" {
			return bpErrors.InvalidInput(fmt.Sprintf("%s.model_restrictions[%d]: model pattern cannot be empty", where, i))
		}
		if len(r.DeniedTools) == 0 {
			return bpErrors.InvalidInput(fmt.Sprintf("%s.model_restrictions[%d]: no tools listed", where, i))
		}
	}

	return nil
}
