package agent

import (
	"bytes"
	"context"
	"testing"

	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/skill"

	"github.com/stretchr/testify/assert"
)

func TestBaseHooksPlanningFilter(t *testing.T) {
	h := &BaseHooks{}
	defs := []contract.ToolDef{{Name: "Read"}, {Name: "Write"}, {Name: "Grep"}, {Name: "Bash"}}

	assert.Len(t, h.FilterTools(defs, false), 4)
	assert.Equal(t, []string{"Read", "Grep"}, toolNames(h.FilterTools(defs, true)))
}

func TestBaseHooksSystemPrompt(t *testing.T) {
	h := &BaseHooks{SystemPrompt: "You are helpful."}
	assert.Equal(t, "You are helpful.", h.BuildSystemPrompt(context.Background(), false))
	assert.Contains(t, h.BuildSystemPrompt(context.Background(), true), "Planning mode is on")
}

func TestBaseHooksContentAndStop(t *testing.T) {
	var buf bytes.Buffer
	h := &BaseHooks{Out: &buf}
	h.OnContent("hello")
	h.OnContent("")
	assert.Equal(t, "hello\n", buf.String())
	assert.Equal(t, StopDecision{}, h.OnStop("tool_finished", "hello"))
}

func TestFilterBySkillsKeepsEngineTools(t *testing.T) {
	idx := skill.NewIndex()
	idx.Add(&skill.Skill{Name: "docs", AllowedTools: skill.AllowedTools{"Read"}})
	active := skill.NewActiveSet()

	defs := []contract.ToolDef{{Name: "Read"}, {Name: "Bash"}, {Name: "ActivateSkill"}, {Name: "Task"}, {Name: "AskUserQuestion"}}
	assert.Len(t, filterBySkills(defs, active), 5, "no restriction without active skills")

	_, err := active.Activate("docs", "", idx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Read", "ActivateSkill", "Task"}, toolNames(filterBySkills(defs, active)))
}
