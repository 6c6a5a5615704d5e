package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/model/contract"
)

// Tools the turn engine handles itself instead of dispatching.
const (
	AskUserQuestionName = "AskUserQuestion"
	ActivateSkillName   = "ActivateSkill"
	TaskName            = "Task"
)

const (
	MinQuestions       = 1
	MaxQuestions       = 4
	MinQuestionOptions = 2
	MaxQuestionOptions = 4
	MaxQuestionHeader  = 12
)

type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multi_select"`
}

type askUserQuestionInput struct {
	Questions []struct {
		Question         string           `json:"question"`
		Header           string           `json:"header"`
		Options          []QuestionOption `json:"options"`
		MultiSelect      *bool            `json:"multi_select"`
		MultiSelectCamel *bool            `json:"multiSelect"`
	} `json:"questions"`
}

// ValidateQuestions parses AskUserQuestion arguments. Every failure is an
// InvalidQuestion error whose message is shown to the model.
func ValidateQuestions(args json.RawMessage) ([]Question, error) {
	var in askUserQuestionInput
	if err := DecodeInput(args, &in); err != nil {
		return nil, bpErrors.InvalidQuestion(err.Error())
	}

	n := len(in.Questions)
	if n < MinQuestions || n > MaxQuestions {
		return nil, bpErrors.InvalidQuestion(fmt.Sprintf("expected %d to %d questions, got %d", MinQuestions, MaxQuestions, n))
	}

	out := make([]Question, 0, n)
	for i, raw := range in.Questions {
		q := Question{
			Question: strings.TrimSpace(raw.Question),
			Header:   strings.TrimSpace(raw.Header),
		}
		if q.Question == "" {
			return nil, bpErrors.InvalidQuestion(fmt.Sprintf("questions[%d]: question text is required", i))
		}
		if q.Header == "" {
			return nil, bpErrors.InvalidQuestion(fmt.Sprintf("questions[%d]: header is required", i))
		}
		if len([]rune(q.Header)) > MaxQuestionHeader {
			return nil, bpErrors.InvalidQuestion(fmt.Sprintf("questions[%d]: header longer than %d characters", i, MaxQuestionHeader))
		}
		if len(raw.Options) < MinQuestionOptions || len(raw.Options) > MaxQuestionOptions {
			return nil, bpErrors.InvalidQuestion(fmt.Sprintf("questions[%d]: expected %d to %d options, got %d", i, MinQuestionOptions, MaxQuestionOptions, len(raw.Options)))
		}
		for j, opt := range raw.Options {
			label := strings.TrimSpace(opt.Label)
			if label == "" {
				return nil, bpErrors.InvalidQuestion(fmt.Sprintf("questions[%d].options[%d]: label is required", i, j))
			}
			q.Options = append(q.Options, QuestionOption{Label: label, Description: strings.TrimSpace(opt.Description)})
		}
		switch {
		case raw.MultiSelect != nil:
			q.MultiSelect = *raw.MultiSelect
		case raw.MultiSelectCamel != nil:
			q.MultiSelect = *raw.MultiSelectCamel
		}
		out = append(out, q)
	}
	return out, nil
}

func AskUserQuestionDef() contract.ToolDef {
	option := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label":       map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
		},
		"required": []string{"label"},
	}
	question := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question":     map[string]interface{}{"type": "string", "description": "The full question to ask"},
			"header":       map[string]interface{}{"type": "string", "description": "Short label, at most 12 characters"},
			"options":      map[string]interface{}{"type": "array", "items": option, "description": "2 to 4 choices"},
			"multi_select": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"question", "header", "options"},
	}
	return contract.ToolDef{
		Name:        AskUserQuestionName,
		Description: "Ask the user 1 to 4 clarifying questions with multiple-choice answers. The turn pauses until the user answers.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"questions": map[string]interface{}{"type": "array", "items": question},
			},
			"required": []string{"questions"},
		},
	}
}

func ActivateSkillDef() contract.ToolDef {
	return contract.ToolDef{
		Name:        ActivateSkillName,
		Description: "Activate a skill pack to gain specialized instructions and optionally restrict available tools. Use when the task matches a skill's description. View available skills in the 'Available skill packs' section of the system prompt.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":   map[string]interface{}{"type": "string", "description": "Name of the skill pack to activate"},
				"reason": map[string]interface{}{"type": "string", "description": "Brief reason for activating this skill (optional)"},
			},
			"required": []string{"name"},
		},
	}
}

func TaskDef() contract.ToolDef {
	return contract.ToolDef{
		Name:        TaskName,
		Description: "Delegate a self-contained task to a subagent. The subagent runs its own loop with its own permissions and returns its final answer.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent":       map[string]interface{}{"type": "string", "description": "Subagent name, e.g. scout or patch"},
				"prompt":      map[string]interface{}{"type": "string", "description": "Instructions for the subagent"},
				"description": map[string]interface{}{"type": "string", "description": "Short summary of the task"},
				"target":      map[string]interface{}{"type": "string", "description": "Optional model@backend override"},
			},
			"required": []string{"agent", "prompt"},
		},
	}
}

// ActivateSkillInput and TaskInput are the decoded arguments of the
// engine-handled tools.
type ActivateSkillInput struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type TaskInput struct {
	Agent       string `json:"agent"`
	Prompt      string `json:"prompt"`
	Description string `json:"description"`
	Target      string `json:"target"`
}
