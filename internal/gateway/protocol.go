package gateway

import (
	"encoding/json"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

type Method string

const (
	MethodPing       Method = "ping"
	MethodCancel     Method = "cancel"
	MethodRunTurn    Method = "run_turn"
	MethodResumeTurn Method = "resume_turn"
)

// Request is one NDJSON line sent to the gateway.
type Request struct {
	ID         string             `json:"id"`
	Method     Method             `json:"method"`
	SessionID  string             `json:"session_id,omitempty"`
	AgentID    string             `json:"agent_id,omitempty"`
	Target     string             `json:"target,omitempty"`
	Messages   []contract.Message `json:"messages,omitempty"`
	WorkingDir string             `json:"working_dir,omitempty"`
	Planning   bool               `json:"planning,omitempty"`
	TurnID     string             `json:"turn_id,omitempty"`
	Approved   *bool              `json:"approved,omitempty"`
	Answers    json.RawMessage    `json:"answers,omitempty"`
	// Profile narrows the policy for this request's session. It survives a
	// yield and applies again on resume.
	Profile *policy.AgentPolicy `json:"profile,omitempty"`
}

// RequestProfile names the profile policy taken from Request.Profile.
const RequestProfile = "request"

type EventType string

const (
	EventPong          EventType = "pong"
	EventContent       EventType = "content"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventYieldApproval EventType = "yield_approval"
	EventYieldInput    EventType = "yield_input"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Error codes the gateway emits itself. Engine failures use the codes of
// the error mapper.
const (
	CodeNotImplemented    = "not_implemented"
	CodeNoInput           = "no_input"
	CodeNoTarget          = "no_target"
	CodeMissingResumeData = "missing_resume_data"
	CodeInvalidRequest    = "invalid_request"
	CodeTurnNotFound      = "turn_not_found"
	CodeDuplicateRequest  = "duplicate_request"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentEvent is one NDJSON line streamed back for a request. ID echoes the
// request id; the remaining fields depend on Type.
type AgentEvent struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Content     string          `json:"content,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	OK          *bool           `json:"ok,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	TurnID      string          `json:"turn_id,omitempty"`
	MatchedRule string          `json:"matched_rule,omitempty"`
	Questions   []tool.Question `json:"questions,omitempty"`
	Usage       *agent.Stats    `json:"usage,omitempty"`
	Error       *ErrorBody      `json:"error,omitempty"`
}

func pongEvent(id string) AgentEvent {
	return AgentEvent{ID: id, Type: EventPong}
}

func contentEvent(id, text string) AgentEvent {
	return AgentEvent{ID: id, Type: EventContent, Content: text}
}

func toolCallEvent(id string, call contract.ToolCall) AgentEvent {
	return AgentEvent{ID: id, Type: EventToolCall, ToolName: call.Name, CallID: call.ID, Arguments: rawArguments(call.Input)}
}

func toolResultEvent(id string, call contract.ToolCall, result json.RawMessage, ok bool, durationMs int64) AgentEvent {
	return AgentEvent{
		ID:         id,
		Type:       EventToolResult,
		ToolName:   call.Name,
		CallID:     call.ID,
		Result:     result,
		OK:         &ok,
		DurationMs: &durationMs,
	}
}

// yieldEvent reports a suspension. The turn id is the one to resume with.
func yieldEvent(id string, p *agent.Pending) AgentEvent {
	ev := AgentEvent{ID: id, TurnID: p.TurnID, CallID: p.CallID}
	if p.Reason == turnstate.AwaitingInput {
		ev.Type = EventYieldInput
		ev.Questions = p.Questions
		return ev
	}
	ev.Type = EventYieldApproval
	ev.ToolName = p.ToolName
	ev.Arguments = rawArguments(p.Arguments)
	ev.MatchedRule = p.MatchedRule
	return ev
}

func doneEvent(id string, usage agent.Stats) AgentEvent {
	return AgentEvent{ID: id, Type: EventDone, Usage: &usage}
}

func errorEvent(id, code, message string) AgentEvent {
	return AgentEvent{ID: id, Type: EventError, Error: &ErrorBody{Code: code, Message: message}}
}

// rawArguments keeps valid JSON as is and quotes anything else.
func rawArguments(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	out, _ := json.Marshal(s)
	return out
}
