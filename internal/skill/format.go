package skill

import (
	"encoding/json"
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON:
		return format, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json)", s)
	}
}

// FormatSkills renders skills for the CLI.
func FormatSkills(skills []*Skill, format OutputFormat) (string, error) {
	if format == OutputFormatJSON {
		if skills == nil {
			skills = []*Skill{}
		}
		data, err := json.MarshalIndent(skills, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if len(skills) == 0 {
		return "No skills found", nil
	}

	purple := lipgloss.Color("99")
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	oddRowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	evenRowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Name", "Description", "Allowed tools")

	for _, s := range skills {
		tools := "(any)"
		if s.AllowedTools != nil {
			tools = strings.Join(s.AllowedTools, ", ")
		}
		t.Row(s.Name, truncateString(s.Description, 50), truncateString(tools, 30))
	}

	return t.String(), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
