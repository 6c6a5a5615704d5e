package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/tool"
)

const subagentPrompt = `You are the %s subagent working for another agent.
Task: %s
Work only on this task using the tools you are given, then reply with a concise final answer. Nobody can approve actions for you; if a tool is refused, work around it or explain what is blocked.`

func (e *Engine) activateSkill(ctx context.Context, r *run, args json.RawMessage) tool.Result {
	start := time.Now()
	var in tool.ActivateSkillInput
	if err := tool.DecodeInput(args, &in); err != nil {
		return errorResult(bpErrors.InvalidInput(err.Error()), start)
	}
	if strings.TrimSpace(in.Name) == "" {
		return errorResult(bpErrors.InvalidInput("name is required"), start)
	}

	act, err := r.sess.ActiveSkills().Activate(in.Name, in.Reason, r.sess.Skills())
	if err != nil {
		return errorResult(err, start)
	}
	out, err := json.Marshal(map[string]any{
		"ok":            true,
		"name":          act.Name,
		"allowed_tools": act.AllowedTools,
		"instructions":  act.Instructions,
	})
	if err != nil {
		return errorResult(bpErrors.Internal(err.Error()), start)
	}
	return tool.Result{Output: out, OK: true, DurationMs: time.Since(start).Milliseconds()}
}

// runTask delegates to a subagent acting as <parent>/<agent>, so subagent
// policies registered for the parent's prefix apply. Its usage is merged
// into the parent's stats.
func (e *Engine) runTask(ctx context.Context, r *run, args json.RawMessage) tool.Result {
	start := time.Now()
	var in tool.TaskInput
	if err := tool.DecodeInput(args, &in); err != nil {
		return errorResult(bpErrors.InvalidInput(err.Error()), start)
	}
	in.Agent = strings.TrimSpace(in.Agent)
	if in.Agent == "" || strings.TrimSpace(in.Prompt) == "" {
		return errorResult(bpErrors.InvalidInput("agent and prompt are required"), start)
	}
	if r.depth+1 > r.loop.MaxTaskDepth {
		return tool.Result{
			Output:     tool.ErrorPayload("max_depth", fmt.Sprintf("task nesting limit of %d reached", r.loop.MaxTaskDepth)),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	target := model.RouteForAgent(e.cfg, in.Agent, in.Description, in.Target, r.target)
	description := in.Description
	if description == "" {
		description = in.Prompt
	}

	sub := session.New(session.Options{
		ID:         r.sess.ID(),
		ActorID:    r.actor() + "/" + in.Agent,
		Target:     target.String(),
		WorkingDir: r.sess.WorkingDir(),
		Policy:     r.sess.PolicySource(),
		Skills:     r.sess.Skills(),
	})
	hooks := &BaseHooks{Out: io.Discard, SystemPrompt: fmt.Sprintf(subagentPrompt, in.Agent, description)}

	child, childCtx, err := e.newRun(ctx, hooks, sub, r.loop, r.depth+1)
	if err != nil {
		return errorResult(err, start)
	}
	sub.AppendMessages(contract.Message{Role: contract.RoleUser, Content: in.Prompt})
	result, err := e.drive(childCtx, child)
	r.stats.Add(child.stats)
	if err != nil {
		return tool.Result{
			Output:     tool.ErrorPayload("agent_error", err.Error()),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	out, err := json.Marshal(map[string]any{
		"ok":       true,
		"agent":    in.Agent,
		"target":   target.String(),
		"response": result.ResponseText,
		"usage":    result.Stats,
	})
	if err != nil {
		return errorResult(bpErrors.Internal(err.Error()), start)
	}
	return tool.Result{Output: out, OK: true, DurationMs: time.Since(start).Milliseconds()}
}

func errorResult(err error, start time.Time) tool.Result {
	return tool.Result{Output: tool.ErrorResult(err), DurationMs: time.Since(start).Milliseconds()}
}
