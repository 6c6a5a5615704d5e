package main

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"

	"github.com/stretchr/testify/require"
)

type cannedClient struct {
	mu      sync.Mutex
	replies []*contract.CompletionResponse
}

func (c *cannedClient) Chat(ctx context.Context, target model.Target, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return reply("done"), nil
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next, nil
}

func reply(content string) *contract.CompletionResponse {
	return &contract.CompletionResponse{
		Choices: []contract.Choice{{Message: contract.Message{Role: contract.RoleAssistant, Content: content}, FinishReason: contract.FinishStop}},
		Usage:   &contract.Usage{PromptTokens: 7, CompletionTokens: 2},
	}
}

func callTool(id, name, input string) *contract.CompletionResponse {
	return &contract.CompletionResponse{
		Choices: []contract.Choice{{
			Message:      contract.Message{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{{ID: id, Name: name, Input: input}}},
			FinishReason: contract.FinishToolCalls,
		}},
	}
}

// withConfig installs a throwaway config as the command-wide one.
func withConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Server: config.ServerConfig{Port: 7878},
		Agent:  config.AgentConfig{DefaultTarget: "fake-model@fake", MaxIterations: 6},
		Daemon: config.DaemonConfig{WorkspacePath: t.TempDir(), WorkspaceID: "ws"},
	}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

func testRuntime(t *testing.T, replies ...*contract.CompletionResponse) *runtime.RuntimeComponents {
	t.Helper()
	c := withConfig(t)
	rc, err := runtime.NewRuntimeComponents(context.Background(), c, "ws", nil)
	require.NoError(t, err)
	t.Cleanup(rc.Stop)

	rc.Engine = agent.New(agent.Options{
		Client:     &cannedClient{replies: replies},
		Dispatcher: rc.Dispatcher,
		Turns:      rc.Turns,
		Ledger:     rc.Ledger,
		Config:     c,
	})
	return rc
}

// suspend runs a turn that stops on its first tool call and returns the id.
func suspend(t *testing.T, rc *runtime.RuntimeComponents, input string) string {
	t.Helper()
	repl := runtime.NewREPL(rc, strings.NewReader(""), io.Discard, runtime.REPLOptions{SessionID: "s1", YieldApprovals: true})
	res, err := rc.Engine.RunTurn(context.Background(), nil, repl.Session(), agent.LoopConfigFrom(rc.Config), input)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	return res.Pending.TurnID
}
