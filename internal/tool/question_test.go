package tool

import (
	"encoding/json"
	"strings"
	"testing"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validQuestions = `{"questions":[{"question":"Which database?","header":"Database","options":[{"label":"Postgres","description":"managed"},{"label":"SQLite"}],"multiSelect":true}]}`

func TestValidateQuestionsAcceptsWellFormed(t *testing.T) {
	qs, err := ValidateQuestions(json.RawMessage(validQuestions))
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "Database", qs[0].Header)
	assert.True(t, qs[0].MultiSelect)
	assert.Equal(t, "managed", qs[0].Options[0].Description)
}

func TestValidateQuestionsRejections(t *testing.T) {
	option := `{"label":"a"},{"label":"b"}`
	question := func(header, options string) string {
		return `{"question":"q?","header":"` + header + `","options":[` + options + `]}`
	}

	cases := map[string]string{
		"empty":           `{"questions":[]}`,
		"too many":        `{"questions":[` + strings.Repeat(question("h", option)+",", 4) + question("h", option) + `]}`,
		"no text":         `{"questions":[{"question":" ","header":"h","options":[` + option + `]}]}`,
		"no header":       `{"questions":[` + question("", option) + `]}`,
		"long header":     `{"questions":[` + question("thirteen-char", option) + `]}`,
		"one option":      `{"questions":[` + question("h", `{"label":"a"}`) + `]}`,
		"five options":    `{"questions":[` + question("h", option+","+option+`,{"label":"c"}`) + `]}`,
		"blank label":     `{"questions":[` + question("h", `{"label":"a"},{"label":""}`) + `]}`,
		"malformed json":  `{"questions":`,
		"wrong structure": `{"questions":"pick one"}`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateQuestions(json.RawMessage(args))
			require.Error(t, err)
			assert.ErrorIs(t, err, bpErrors.ErrInvalidQuestion)
		})
	}
}

func TestEngineToolDefinitions(t *testing.T) {
	assert.Equal(t, AskUserQuestionName, AskUserQuestionDef().Name)
	assert.Equal(t, ActivateSkillName, ActivateSkillDef().Name)
	assert.Equal(t, TaskName, TaskDef().Name)

	assert.NoError(t, ValidateInput(TaskDef().Parameters, json.RawMessage(`{"agent":"scout","prompt":"find TODOs"}`)))
	assert.Error(t, ValidateInput(ActivateSkillDef().Parameters, json.RawMessage(`{}`)))
}
