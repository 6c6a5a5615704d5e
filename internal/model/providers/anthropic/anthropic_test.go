package anthropic

import (
	"testing"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/stretchr/testify/assert"
)

func TestToMessages_FoldsSystemAndToolResults(t *testing.T) {
	system, msgs := toMessages([]contract.Message{
		{Role: contract.RoleSystem, Content: "be brief"},
		{Role: contract.RoleUser, Content: "list files"},
		{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{
			{ID: "a", Name: "Glob", Input: `{"pattern":"*"}`},
			{ID: "b", Name: "Read", Input: ""},
		}},
		{Role: contract.RoleTool, ToolCallID: "a", Content: "x.go"},
		{Role: contract.RoleTool, ToolCallID: "b", Content: "package x"},
		{Role: contract.RoleAssistant, Content: "done"},
	})

	assert.Equal(t, "be brief", system)
	assert.Len(t, msgs, 4)
	assert.Len(t, msgs[2].Content, 2)
}

func TestFinishReason(t *testing.T) {
	assert.Equal(t, contract.FinishLength, finishReason("max_tokens"))
	assert.Equal(t, contract.FinishToolCalls, finishReason("tool_use"))
	assert.Equal(t, contract.FinishStop, finishReason("end_turn"))
}
