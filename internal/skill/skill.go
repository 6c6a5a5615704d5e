package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FileName          = "SKILL.md"
	MaxNameLen        = 64
	MaxDescriptionLen = 1024
)

// Skill is one parsed SKILL.md. A nil AllowedTools means the skill does not
// restrict tools; an empty non-nil list restricts to nothing but the
// always-available tools.
type Skill struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description" yaml:"description"`
	AllowedTools AllowedTools `json:"allowed_tools,omitempty" yaml:"allowed-tools"`
	Instructions string       `json:"-" yaml:"-"`
	Path         string       `json:"path" yaml:"-"`
}

// AllowedTools accepts either "Read, Grep" or a YAML list.
type AllowedTools []string

func (a *AllowedTools) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var csv string
		if err := node.Decode(&csv); err != nil {
			return err
		}
		out := AllowedTools{}
		for _, part := range strings.Split(csv, ",") {
			if name := strings.TrimSpace(part); name != "" {
				out = append(out, name)
			}
		}
		*a = out
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(AllowedTools, 0, len(list))
		for _, name := range list {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
		*a = out
		return nil
	default:
		return fmt.Errorf("allowed-tools must be a string or a list, line %d", node.Line)
	}
}

type ParseErrorCode string

const (
	CodeInvalidYAML        ParseErrorCode = "INVALID_YAML"
	CodeMissingFrontmatter ParseErrorCode = "MISSING_FRONTMATTER"
	CodeInvalidField       ParseErrorCode = "INVALID_FIELD"
)

type ParseError struct {
	Path     string
	Message  string
	Code     ParseErrorCode
	Original error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Original
}

// Parse reads frontmatter and body from SKILL.md content.
func Parse(content string) (*Skill, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---") {
		return nil, &ParseError{Code: CodeMissingFrontmatter, Message: "SKILL.md must start with YAML frontmatter (---)"}
	}

	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return nil, &ParseError{Code: CodeMissingFrontmatter, Message: "missing closing --- for frontmatter"}
	}

	var s Skill
	if err := yaml.Unmarshal([]byte(rest[:end]), &s); err != nil {
		return nil, &ParseError{Code: CodeInvalidYAML, Message: "invalid YAML frontmatter", Original: err}
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}

	s.Instructions = strings.TrimSpace(rest[end+len("\n---"):])
	return &s, nil
}

func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(string(data))
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
		}
		return nil, err
	}
	s.Path = filepath.Clean(path)
	return s, nil
}

func Validate(s *Skill) error {
	name := strings.TrimSpace(s.Name)
	switch {
	case name == "":
		return &ParseError{Code: CodeInvalidField, Message: "name is required"}
	case len(name) > MaxNameLen:
		return &ParseError{Code: CodeInvalidField, Message: fmt.Sprintf("skill name exceeds %d chars", MaxNameLen)}
	case !validName(name):
		return &ParseError{Code: CodeInvalidField, Message: "skill name must be lowercase letters, numbers, hyphens only"}
	case len(s.Description) > MaxDescriptionLen:
		return &ParseError{Code: CodeInvalidField, Message: fmt.Sprintf("description exceeds %d chars", MaxDescriptionLen)}
	}
	s.Name = name
	return nil
}

func validName(name string) bool {
	for _, c := range name {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
			return false
		}
	}
	return true
}
