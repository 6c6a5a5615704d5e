package model

import (
	"strings"

	"github.com/jgarizk/brainpro/internal/config"
)

// Category groups sub-agents by the kind of work they do so each kind can be
// sent to a suitable model.
type Category string

const (
	CategoryPlanning      Category = "planning"
	CategoryCoding        Category = "coding"
	CategoryExploration   Category = "exploration"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
	CategoryFast          Category = "fast"
	CategoryDefault       Category = "default"
)

var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryPlanning, []string{"plan", "architect", "design"}},
	{CategoryCoding, []string{"patch", "edit", "refactor", "code", "implement"}},
	{CategoryExploration, []string{"scout", "explore", "find", "search"}},
	{CategoryTesting, []string{"test", "verify", "check"}},
	{CategoryDocumentation, []string{"doc", "readme", "comment"}},
}

// InferCategory classifies an agent by keywords in its name and description.
// The first category with a hit wins.
func InferCategory(name, description string) Category {
	combined := strings.ToLower(name + " " + description)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(combined, w) {
				return c.category
			}
		}
	}
	return CategoryDefault
}

var defaultRoutes = map[Category]string{
	CategoryPlanning:      "qwen3-235b-a22b-instruct-2507@venice",
	CategoryCoding:        "claude-3-5-sonnet-latest@claude",
	CategoryExploration:   "gpt-4o-mini@chatgpt",
	CategoryTesting:       "gpt-4o-mini@chatgpt",
	CategoryDocumentation: "gpt-4o-mini@chatgpt",
	CategoryFast:          "gpt-4o-mini@chatgpt",
	CategoryDefault:       "gpt-4o-mini@chatgpt",
}

// RouteFor picks a target for a category: config routing first, then the
// built-in table, then fallback.
func RouteFor(cfg *config.Config, category Category, fallback Target) Target {
	if cfg != nil {
		if raw, ok := cfg.Routing[string(category)]; ok {
			if t, err := ParseTarget(cfg.ResolveTarget(raw)); err == nil {
				return t
			}
		}
	}
	if raw, ok := defaultRoutes[category]; ok {
		if t, err := ParseTarget(raw); err == nil {
			return t
		}
	}
	return fallback
}

// RouteForAgent honours an explicit target before inferring a category.
func RouteForAgent(cfg *config.Config, name, description, explicit string, fallback Target) Target {
	if explicit != "" {
		resolved := explicit
		if cfg != nil {
			resolved = cfg.ResolveTarget(explicit)
		}
		if t, err := ParseTarget(resolved); err == nil {
			return t
		}
	}
	return RouteFor(cfg, InferCategory(name, description), fallback)
}
