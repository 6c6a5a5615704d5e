package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pattern is a parsed rule of the form "Tool" or "Tool(argspec)".
type Pattern struct {
	Tool    string
	ArgSpec string
	HasArg  bool
}

func ParsePattern(raw string) (Pattern, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsRune(s, ')') {
			return Pattern{}, fmt.Errorf("unbalanced pattern: %q", raw)
		}
		return Pattern{Tool: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return Pattern{}, fmt.Errorf("unbalanced pattern: %q", raw)
	}
	tool := strings.TrimSpace(s[:open])
	if tool == "" {
		return Pattern{}, fmt.Errorf("pattern has no tool name: %q", raw)
	}
	return Pattern{Tool: tool, ArgSpec: s[open+1 : len(s)-1], HasArg: true}, nil
}

func (p Pattern) String() string {
	if !p.HasArg {
		return p.Tool
	}
	return p.Tool + "(" + p.ArgSpec + ")"
}

// Matches reports whether the pattern covers tool called with arg. hasArg is
// false when the tool has no primary argument; a pattern with an argspec never
// matches such a call.
func (p Pattern) Matches(tool, arg string, hasArg bool) bool {
	if p.Tool != "*" && p.Tool != tool {
		return false
	}
	if !p.HasArg {
		return true
	}
	if !hasArg {
		return false
	}
	return matchArg(p.ArgSpec, arg)
}

func matchArg(spec, arg string) bool {
	switch {
	case spec == "*":
		return true
	case strings.HasSuffix(spec, ":*"):
		return strings.HasPrefix(arg, strings.TrimSuffix(spec, ":*"))
	case strings.HasSuffix(spec, "*"):
		return strings.HasPrefix(arg, strings.TrimSuffix(spec, "*"))
	case strings.HasPrefix(spec, "*"):
		return strings.HasSuffix(arg, strings.TrimPrefix(spec, "*"))
	default:
		return arg == spec
	}
}

// MatchTool parses raw and matches it. Malformed patterns never match.
func MatchTool(raw, tool, arg string, hasArg bool) bool {
	p, err := ParsePattern(raw)
	if err != nil {
		return false
	}
	return p.Matches(tool, arg, hasArg)
}

type primaryArgs struct {
	Command  *string `json:"command"`
	Path     *string `json:"path"`
	FilePath *string `json:"file_path"`
	Pattern  *string `json:"pattern"`
}

// ExtractArg returns the argument rules are matched against: the command for
// Bash, the path for file tools and the pattern for search tools.
func ExtractArg(tool string, args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var a primaryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", false
	}
	switch tool {
	case "Bash":
		return deref(a.Command)
	case "Write", "Edit", "Read":
		if a.Path != nil {
			return *a.Path, true
		}
		return deref(a.FilePath)
	case "Grep", "Glob", "Search":
		return deref(a.Pattern)
	}
	return "", false
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
