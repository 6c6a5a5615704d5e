package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/store"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// handleCall gates one tool call through policy and appends its result. A
// non-nil Pending means the turn was saved and must stop here.
func (e *Engine) handleCall(ctx context.Context, r *run, stack *policy.Stack, call contract.ToolCall) (*Pending, error) {
	log := logger.FromContext(ctx)
	r.stats.ToolUses++
	r.hooks.OnToolCall(call)

	name := tool.NormalizeToolName(call.Name)
	args := json.RawMessage(call.Input)

	verdict := stack.Resolve(r.actor(), name, args)
	verdict = policy.ApplyMode(verdict, stack.EffectiveMode(r.actor()), name)
	e.publish(ctx, r, events.PolicyDecision, map[string]any{
		"tool":     name,
		"call_id":  call.ID,
		"decision": string(verdict.Decision),
		"rule":     verdict.Rule,
		"level":    levelName(verdict),
	})
	log.Debug("Policy decision", "tool", name, "verdict", verdict.String())

	if verdict.Decision == policy.DecisionDeny {
		e.deny(ctx, r, call, verdict, deniedByPolicy(verdict))
		return nil, nil
	}

	if name == tool.AskUserQuestionName {
		questions, err := tool.ValidateQuestions(args)
		if err != nil {
			e.appendResult(ctx, r, call, tool.ErrorResult(err), false, 0)
			return nil, nil
		}
		return e.suspend(ctx, r, call, turnstate.AwaitingInput, "", questions)
	}

	if verdict.Decision == policy.DecisionAsk {
		if approver, ok := r.hooks.(Approver); ok {
			if approved, decided := approver.Approve(ctx, call, verdict); decided {
				if !approved {
					e.deny(ctx, r, call, verdict, deniedByUser())
					return nil, nil
				}
				e.executeAndAppend(ctx, r, call, verdict)
				return nil, nil
			}
		}
		if r.depth > 0 {
			out := tool.ErrorPayload("approval_required", fmt.Sprintf("%s requires approval, which a delegated task cannot request", name))
			e.appendResult(ctx, r, call, out, false, 0)
			return nil, nil
		}
		return e.suspend(ctx, r, call, turnstate.AwaitingApproval, verdict.Rule, nil)
	}

	e.executeAndAppend(ctx, r, call, verdict)
	return nil, nil
}

func deniedByPolicy(v policy.Verdict) json.RawMessage {
	msg := "Denied by policy"
	if v.Rule != "" {
		msg += fmt.Sprintf(" (rule: %s)", v.Rule)
	}
	return tool.ErrorPayload("permission_denied", msg)
}

func deniedByUser() json.RawMessage {
	return tool.ErrorPayload("permission_denied", "User denied permission")
}

func levelName(v policy.Verdict) string {
	if !v.Matched {
		return ""
	}
	return v.Level.String()
}

func (e *Engine) deny(ctx context.Context, r *run, call contract.ToolCall, v policy.Verdict, out json.RawMessage) {
	e.publish(ctx, r, events.ToolDenied, map[string]any{"tool": call.Name, "call_id": call.ID, "rule": v.Rule})
	e.auditCall(ctx, r, call, policy.DecisionDeny, v, "denied", out, 0)
	e.appendResult(ctx, r, call, out, false, 0)
}

func (e *Engine) executeAndAppend(ctx context.Context, r *run, call contract.ToolCall, v policy.Verdict) {
	res := e.execute(ctx, r, call)
	status := "success"
	if !res.OK {
		status = "error"
	}
	e.auditCall(ctx, r, call, policy.DecisionAllow, v, status, res.Output, time.Duration(res.DurationMs)*time.Millisecond)
	e.appendResult(ctx, r, call, res.Output, res.OK, res.DurationMs)
}

// execute runs a call that has already been allowed, either by policy or by
// an approval.
func (e *Engine) execute(ctx context.Context, r *run, call contract.ToolCall) tool.Result {
	name := tool.NormalizeToolName(call.Name)
	args := json.RawMessage(call.Input)
	e.publish(ctx, r, events.ToolInvoked, map[string]any{"tool": name, "call_id": call.ID})

	var res tool.Result
	switch name {
	case tool.ActivateSkillName:
		res = e.activateSkill(ctx, r, args)
	case tool.TaskName:
		res = e.runTask(ctx, r, args)
	default:
		if dir := r.sess.WorkingDir(); dir != "" {
			ctx = tool.WithWorkingDir(ctx, dir)
		}
		res = e.dispatcher.ExecuteWithStats(ctx, name, args)
	}

	e.publish(ctx, r, events.ToolCompleted, map[string]any{
		"tool":        name,
		"call_id":     call.ID,
		"ok":          res.OK,
		"duration_ms": res.DurationMs,
	})
	return res
}

func (e *Engine) appendResult(ctx context.Context, r *run, call contract.ToolCall, out json.RawMessage, ok bool, durationMs int64) {
	content := string(out)
	r.sess.AppendMessages(contract.Message{
		Role:       contract.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
	})
	r.sess.RecordTool(ctx, store.RoleTool, call.Name, call.ID, content, map[string]any{"ok": ok, "duration_ms": durationMs})
	r.hooks.OnToolResult(call, out, ok, durationMs)
}

// suspend saves the turn under a fresh id. The history already holds the
// assistant message with every call of the batch; calls after this one are
// picked up by drainUnanswered on resume.
func (e *Engine) suspend(ctx context.Context, r *run, call contract.ToolCall, reason turnstate.YieldReason, rule string, questions []tool.Question) (*Pending, error) {
	p := &Pending{
		TurnID:      turnstate.NewTurnID(),
		Reason:      reason,
		CallID:      call.ID,
		ToolName:    tool.NormalizeToolName(call.Name),
		Arguments:   call.Input,
		MatchedRule: rule,
		Questions:   questions,
	}

	state := &turnstate.TurnState{
		TurnID:    p.TurnID,
		SessionID: r.sess.ID(),
		RequestID: logger.GetTraceID(ctx),
		ActorID:   r.actor(),
		PendingAction: turnstate.PendingAction{
			CallID:      p.CallID,
			ToolName:    p.ToolName,
			Arguments:   p.Arguments,
			MatchedRule: rule,
		},
		MessageHistory:   r.sess.Messages(),
		YieldReason:      reason,
		TargetModel:      r.target.String(),
		WorkingDirectory: r.sess.WorkingDir(),
		PlanningMode:     r.sess.PlanningMode(),
	}
	for _, a := range r.sess.ActiveSkills().List() {
		state.ActiveSkills = append(state.ActiveSkills, a.Name)
	}
	if profiles := r.sess.ProfilePolicies(); len(profiles) > 0 {
		raw, err := json.Marshal(profiles)
		if err != nil {
			return nil, bpErrors.Wrap(err, "encode profile policies")
		}
		state.Profiles = raw
	}
	if questions != nil {
		raw, err := json.Marshal(questions)
		if err != nil {
			return nil, bpErrors.Wrap(err, "encode pending questions")
		}
		state.PendingAction.PendingQuestions = raw
	}
	if err := e.turns.Save(ctx, state); err != nil {
		return nil, bpErrors.Wrap(err, "save suspended turn")
	}

	if reason == turnstate.AwaitingApproval {
		e.auditCall(ctx, r, call, policy.DecisionAsk, policy.Verdict{Decision: policy.DecisionAsk, Rule: rule}, "pending", nil, 0)
	}
	e.publish(ctx, r, events.TurnSuspended, map[string]any{
		"saved_turn_id": p.TurnID,
		"reason":        string(reason),
		"tool":          p.ToolName,
		"call_id":       p.CallID,
	})
	logger.FromContext(ctx).Info("Turn suspended", "saved_turn_id", p.TurnID, "reason", reason, "tool", p.ToolName)
	return p, nil
}

// drainUnanswered processes calls of the last assistant message that have no
// tool result yet. This happens after a resume when the suspended call was
// not the last of its batch. Only Continue and ResumeTurn drain.
func (e *Engine) drainUnanswered(ctx context.Context, r *run) (*Pending, error) {
	calls := unansweredCalls(r.sess.Messages())
	if len(calls) == 0 {
		return nil, nil
	}
	stack := r.sess.Policy(r.target.Model)
	for _, call := range calls {
		pending, err := e.handleCall(ctx, r, stack, call)
		if err != nil || pending != nil {
			return pending, err
		}
	}
	return nil, nil
}

// supersedeUnanswered gives every open call of the last assistant message a
// superseded result, so a new user message never follows an unanswered
// tool call. The suspended turn that left them open stays resumable on its
// own snapshot.
func (e *Engine) supersedeUnanswered(ctx context.Context, r *run) {
	calls := unansweredCalls(r.sess.Messages())
	if len(calls) == 0 {
		return
	}
	out := tool.ErrorPayload("superseded", "No result: the user sent a new message before this call was decided")
	for _, call := range calls {
		e.appendResult(ctx, r, call, out, false, 0)
	}
	logger.FromContext(ctx).Info("Superseded unanswered tool calls", "count", len(calls))
}

// unansweredCalls lists calls of the last assistant message without a tool
// result. A user message after that assistant message closes the batch.
func unansweredCalls(history []contract.Message) []contract.ToolCall {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == contract.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(history[last].ToolCalls) == 0 {
		return nil
	}

	answered := make(map[string]bool)
	for _, m := range history[last+1:] {
		switch m.Role {
		case contract.RoleUser:
			return nil
		case contract.RoleTool:
			answered[m.ToolCallID] = true
		}
	}
	var out []contract.ToolCall
	for _, c := range history[last].ToolCalls {
		if c != nil && !answered[c.ID] {
			out = append(out, *c)
		}
	}
	return out
}

func (e *Engine) auditCall(ctx context.Context, r *run, call contract.ToolCall, d policy.Decision, v policy.Verdict, status string, out json.RawMessage, dur time.Duration) {
	if e.audit == nil {
		return
	}
	entry := &policy.AuditEntry{
		SessionID: r.sess.ID(),
		ActorID:   r.actor(),
		ToolName:  tool.NormalizeToolName(call.Name),
		CallID:    call.ID,
		Decision:  d,
		Rule:      v.Rule,
		Level:     levelName(v),
		Status:    status,
		Output:    out,
		Duration:  dur,
	}
	if json.Valid([]byte(call.Input)) {
		entry.Input = json.RawMessage(call.Input)
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		logger.FromContext(ctx).Warn("Audit log failed", "tool", entry.ToolName, "error", err)
	}
}
