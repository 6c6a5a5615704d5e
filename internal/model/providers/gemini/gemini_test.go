package gemini

import (
	"testing"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToContents_MapsToolResultNames(t *testing.T) {
	system, contents := toContents([]contract.Message{
		{Role: contract.RoleSystem, Content: "sys"},
		{Role: contract.RoleUser, Content: "hi"},
		{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{{ID: "c1", Name: "Read", Input: `{"path":"a"}`}}},
		{Role: contract.RoleTool, ToolCallID: "c1", Content: "plain text"},
	})

	assert.Equal(t, "sys", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "Read", contents[1].Parts[0].FunctionCall.Name)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "Read", resp.Name)
	assert.Equal(t, map[string]any{"output": "plain text"}, resp.Response)
}

func TestToTools(t *testing.T) {
	assert.Nil(t, toTools(nil))

	tools := toTools([]contract.ToolDef{{Name: "Read", Parameters: map[string]interface{}{"type": "object"}}})
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 1)
	assert.NotNil(t, tools[0].FunctionDeclarations[0].Parameters)
}
