package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_MapsToolCallsAndUsage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_a", "type": "function", "function": {"name": "Read", "arguments": "{\"path\":\"go.mod\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	p := New("ollama", "ollama", srv.URL+"/")
	resp, err := p.Generate(context.Background(), contract.CompletionRequest{
		Model:      "llama3",
		Messages:   []contract.Message{{Role: contract.RoleUser, Content: "read go.mod"}},
		Tools:      []contract.ToolDef{{Name: "Read", Description: "read a file"}},
		ToolChoice: "auto",
	})
	require.NoError(t, err)

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, "auto", got["tool_choice"])

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, &contract.ToolCall{ID: "call_a", Name: "Read", Input: `{"path":"go.mod"}`}, resp.Choices[0].Message.ToolCalls[0])
	assert.Equal(t, &contract.Usage{PromptTokens: 12, CompletionTokens: 5}, resp.Usage)
}

func TestGenerate_PropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("chatgpt", "k", srv.URL)
	_, err := p.Generate(context.Background(), contract.CompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
}
