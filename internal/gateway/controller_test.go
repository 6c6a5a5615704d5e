package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/idempotency"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTarget = "test-model@fake"

// MockClient is a mock of model.Client.
type MockClient struct {
	mock.Mock
	mu      sync.Mutex
	ctxErrs []error
}

func (m *MockClient) Chat(ctx context.Context, target model.Target, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	args := m.Called(ctx, target, req)
	resp, _ := args.Get(0).(*contract.CompletionResponse)
	return resp, args.Error(1)
}

func (m *MockClient) reply(content string) {
	m.On("Chat", mock.Anything, mock.Anything, mock.Anything).Return(&contract.CompletionResponse{
		Choices: []contract.Choice{{Message: contract.Message{Role: contract.RoleAssistant, Content: content}, FinishReason: contract.FinishStop}},
		Usage:   &contract.Usage{PromptTokens: 4, CompletionTokens: 2},
	}, nil).Once()
}

func (m *MockClient) callTool(id, name, input string) {
	m.On("Chat", mock.Anything, mock.Anything, mock.Anything).Return(&contract.CompletionResponse{
		Choices: []contract.Choice{{
			Message:      contract.Message{Role: contract.RoleAssistant, ToolCalls: []*contract.ToolCall{{ID: id, Name: name, Input: input}}},
			FinishReason: contract.FinishToolCalls,
		}},
		Usage: &contract.Usage{PromptTokens: 3, CompletionTokens: 1},
	}, nil).Once()
}

type writeTool struct {
	calls     atomic.Int32
	onExecute func()
}

func (t *writeTool) Name() string        { return "Write" }
func (t *writeTool) Description() string { return "writes a file" }
func (t *writeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (t *writeTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	t.calls.Add(1)
	if t.onExecute != nil {
		t.onExecute()
	}
	return json.RawMessage(`{"ok":true}`), nil
}

type harness struct {
	controller *Controller
	client     *MockClient
	write      *writeTool
	turns      *turnstate.MemoryStore
}

func newHarness(t *testing.T, target string) *harness {
	t.Helper()
	h := &harness{
		client: &MockClient{},
		write:  &writeTool{},
		turns:  turnstate.NewMemoryStore(turnstate.Options{}),
	}
	engine := agent.New(agent.Options{
		Client:     h.client,
		Dispatcher: tool.NewDispatcher(tool.NewRegistry(h.write)),
		Turns:      h.turns,
	})
	cfg := &config.Config{Agent: config.AgentConfig{DefaultTarget: target, MaxIterations: 6}}
	h.controller = NewController(ControllerOptions{
		Engine:   engine,
		Sessions: session.NewManager(nil, policy.NewSource(policy.NewStack()), nil),
		Config:   cfg,
	})
	return h
}

func collect(t *testing.T, ch <-chan AgentEvent) []AgentEvent {
	t.Helper()
	var out []AgentEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
			return out
		}
	}
}

func last(events []AgentEvent) AgentEvent {
	return events[len(events)-1]
}

func userTurn(id, text string) Request {
	return Request{
		ID:        id,
		Method:    MethodRunTurn,
		SessionID: "sess-1",
		Messages:  []contract.Message{{Role: contract.RoleUser, Content: text}},
	}
}

func TestHandlePing(t *testing.T) {
	h := newHarness(t, testTarget)
	events := collect(t, h.controller.Handle(context.Background(), Request{ID: "p1", Method: MethodPing}))
	require.Len(t, events, 1)
	assert.Equal(t, EventPong, events[0].Type)
	assert.Equal(t, "p1", events[0].ID)
}

func TestHandleCancelIsNotImplemented(t *testing.T) {
	h := newHarness(t, testTarget)
	events := collect(t, h.controller.Handle(context.Background(), Request{ID: "c1", Method: MethodCancel}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeNotImplemented, events[0].Error.Code)
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newHarness(t, testTarget)
	events := collect(t, h.controller.Handle(context.Background(), Request{ID: "x", Method: "reboot"}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeInvalidRequest, events[0].Error.Code)
}

func TestRunTurnRequiresUserMessage(t *testing.T) {
	h := newHarness(t, testTarget)

	events := collect(t, h.controller.Handle(context.Background(), Request{ID: "r1", Method: MethodRunTurn}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeNoInput, events[0].Error.Code)

	req := userTurn("r2", "hi")
	req.Messages = append(req.Messages, contract.Message{Role: contract.RoleAssistant, Content: "hello"})
	events = collect(t, h.controller.Handle(context.Background(), req))
	require.Len(t, events, 1)
	assert.Equal(t, CodeNoInput, events[0].Error.Code)
}

func TestRunTurnRequiresTarget(t *testing.T) {
	h := newHarness(t, "")
	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "hi")))
	require.Len(t, events, 1)
	assert.Equal(t, CodeNoTarget, events[0].Error.Code)
	h.client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunTurnStreamsContentThenDone(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.reply("hello")

	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "hi")))
	require.Len(t, events, 2)
	assert.Equal(t, EventContent, events[0].Type)
	assert.Equal(t, "hello", events[0].Content)

	done := last(events)
	assert.Equal(t, EventDone, done.Type)
	assert.Equal(t, "r1", done.ID)
	require.NotNil(t, done.Usage)
	assert.Equal(t, 4, done.Usage.InputTokens)
	assert.Equal(t, 2, done.Usage.OutputTokens)
}

func TestRunTurnYieldsThenResumeCompletes(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.callTool("w1", "Write", `{"path":"a.txt","content":"x"}`)

	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "write it")))
	yield := last(events)
	require.Equal(t, EventYieldApproval, yield.Type)
	assert.NotEmpty(t, yield.TurnID)
	assert.Equal(t, "Write", yield.ToolName)
	assert.Equal(t, "w1", yield.CallID)
	assert.JSONEq(t, `{"path":"a.txt","content":"x"}`, string(yield.Arguments))
	assert.Equal(t, int32(0), h.write.calls.Load())

	turns, err := h.controller.ListTurns(context.Background())
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, yield.TurnID, turns[0].TurnID)
	assert.Equal(t, "sess-1", turns[0].SessionID)

	h.client.reply("written")
	approved := true
	resume := Request{ID: "r2", Method: MethodResumeTurn, TurnID: yield.TurnID, Approved: &approved}
	events = collect(t, h.controller.Handle(context.Background(), resume))

	assert.Equal(t, int32(1), h.write.calls.Load())
	var sawResult bool
	for _, ev := range events {
		if ev.Type == EventToolResult {
			sawResult = true
			assert.Equal(t, "w1", ev.CallID)
			require.NotNil(t, ev.OK)
			assert.True(t, *ev.OK)
		}
	}
	assert.True(t, sawResult)
	assert.Equal(t, EventDone, last(events).Type)

	// The turn id is single-use.
	events = collect(t, h.controller.Handle(context.Background(), resume))
	require.Len(t, events, 1)
	assert.Equal(t, CodeTurnNotFound, events[0].Error.Code)
}

func TestResumeRefusedNeverRunsTool(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.callTool("w1", "Write", `{}`)
	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "write")))
	yield := last(events)
	require.Equal(t, EventYieldApproval, yield.Type)

	h.client.reply("ok, skipped")
	refused := false
	events = collect(t, h.controller.Handle(context.Background(), Request{ID: "r2", Method: MethodResumeTurn, TurnID: yield.TurnID, Approved: &refused}))
	assert.Equal(t, EventDone, last(events).Type)
	assert.Equal(t, int32(0), h.write.calls.Load())
}

func TestResumeFinishesAfterCallerGoesAway(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.callTool("w1", "Write", `{"path":"a.txt","content":"x"}`)
	yield := last(collect(t, h.controller.Handle(context.Background(), userTurn("r1", "write it"))))
	require.Equal(t, EventYieldApproval, yield.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.write.onExecute = cancel
	h.client.reply("written")

	approved := true
	collect(t, h.controller.Handle(ctx, Request{ID: "r2", Method: MethodResumeTurn, TurnID: yield.TurnID, Approved: &approved}))

	assert.Equal(t, int32(1), h.write.calls.Load())
	h.client.AssertNumberOfCalls(t, "Chat", 2)
	require.Len(t, h.client.ctxErrs, 2)
	assert.NoError(t, h.client.ctxErrs[1], "the loop keeps running after the caller is gone")
}

func TestRequestProfileDeniesTool(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.callTool("w1", "Write", `{"path":"a.txt","content":"x"}`)
	h.client.reply("could not write")

	req := userTurn("r1", "write it")
	req.Profile = &policy.AgentPolicy{Deny: []string{"Write"}}
	events := collect(t, h.controller.Handle(context.Background(), req))

	assert.Equal(t, EventDone, last(events).Type)
	assert.Equal(t, int32(0), h.write.calls.Load())
	var denied bool
	for _, ev := range events {
		if ev.Type == EventToolResult && ev.CallID == "w1" {
			require.NotNil(t, ev.OK)
			denied = !*ev.OK
		}
	}
	assert.True(t, denied)
}

func TestRequestProfileMayOnlyRestrict(t *testing.T) {
	h := newHarness(t, testTarget)
	req := userTurn("r1", "write it")
	req.Profile = &policy.AgentPolicy{Allow: []string{"Write"}}

	events := collect(t, h.controller.Handle(context.Background(), req))
	require.Len(t, events, 1)
	assert.Equal(t, CodeInvalidRequest, events[0].Error.Code)
	h.client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything, mock.Anything)
}

func TestAskUserQuestionYieldsInput(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.callTool("q1", tool.AskUserQuestionName, `{"questions":[{"question":"Which db?","header":"DB","options":[{"label":"sqlite"},{"label":"postgres"}]}]}`)

	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "set up storage")))
	yield := last(events)
	require.Equal(t, EventYieldInput, yield.Type)
	require.Len(t, yield.Questions, 1)
	assert.Equal(t, "Which db?", yield.Questions[0].Question)

	h.client.reply("using sqlite")
	events = collect(t, h.controller.Handle(context.Background(), Request{
		ID:      "r2",
		Method:  MethodResumeTurn,
		TurnID:  yield.TurnID,
		Answers: json.RawMessage(`{"Which db?":"sqlite"}`),
	}))
	assert.Equal(t, EventDone, last(events).Type)
}

func TestResumeValidation(t *testing.T) {
	h := newHarness(t, testTarget)

	events := collect(t, h.controller.Handle(context.Background(), Request{ID: "r1", Method: MethodResumeTurn}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeMissingResumeData, events[0].Error.Code)

	events = collect(t, h.controller.Handle(context.Background(), Request{ID: "r2", Method: MethodResumeTurn, TurnID: "nope"}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeTurnNotFound, events[0].Error.Code)
	assert.Contains(t, events[0].Error.Message, "nope")
}

func TestBackendFailureBecomesErrorEvent(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.On("Chat", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	events := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "hi")))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "agent_error", events[0].Error.Code)
}

func TestSplitInput(t *testing.T) {
	history, input, ok := splitInput([]contract.Message{
		{Role: contract.RoleUser, Content: "first"},
		{Role: contract.RoleAssistant, Content: "reply"},
		{Role: contract.RoleUser, Content: "second"},
	})
	require.True(t, ok)
	assert.Equal(t, "second", input)
	assert.Len(t, history, 2)

	_, _, ok = splitInput([]contract.Message{{Role: contract.RoleUser, Content: "   "}})
	assert.False(t, ok)
}

func TestRunTurnRejectsReplayedRequestID(t *testing.T) {
	h := newHarness(t, testTarget)
	requests, err := idempotency.NewStore("", idempotency.Options{TTL: time.Minute})
	require.NoError(t, err)
	h.controller.requests = requests
	h.client.reply("hello")

	first := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "hi")))
	assert.Equal(t, EventDone, last(first).Type)

	again := collect(t, h.controller.Handle(context.Background(), userTurn("r1", "hi")))
	require.Len(t, again, 1)
	assert.Equal(t, CodeDuplicateRequest, again[0].Error.Code)
	h.client.AssertNumberOfCalls(t, "Chat", 1)
}
