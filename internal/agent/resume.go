package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// Decision is the external answer to a suspended turn. Approved applies to
// AwaitingApproval, Answers to AwaitingInput.
type Decision struct {
	Approved bool            `json:"approved"`
	Answers  json.RawMessage `json:"answers,omitempty"`
}

// TakeTurn consumes a suspended turn. A missing, expired or already consumed
// id is a TurnNotFound error.
func (e *Engine) TakeTurn(ctx context.Context, turnID string) (*turnstate.TurnState, error) {
	state, err := e.turns.Take(ctx, turnID)
	if err != nil {
		if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
			return nil, err
		}
		return nil, bpErrors.Wrap(err, "take suspended turn")
	}
	if state == nil {
		return nil, bpErrors.TurnNotFound(turnID)
	}
	return state, nil
}

// SessionOptions rebuilds the session a suspended turn ran in.
// Planning mode, active skills and profile policies come back with it.
func SessionOptions(state *turnstate.TurnState) session.Options {
	opts := session.Options{
		ID:           state.SessionID,
		ActorID:      state.ActorID,
		Target:       state.TargetModel,
		WorkingDir:   state.WorkingDirectory,
		PlanningMode: state.PlanningMode,
		ActiveSkills: state.ActiveSkills,
		Messages:     state.MessageHistory,
	}
	if len(state.Profiles) > 0 {
		var profiles map[string]policy.AgentPolicy
		if err := json.Unmarshal(state.Profiles, &profiles); err != nil {
			slog.Error("Saved profile policies unreadable", "turn_id", state.TurnID, "error", err)
		}
		opts.Profiles = profiles
	}
	return opts
}

// ResumeTurn answers the pending call of state and re-enters the loop. sess
// must carry the state's history, usually built from SessionOptions. An
// approved call runs now; a refused one never runs.
func (e *Engine) ResumeTurn(ctx context.Context, hooks Hooks, sess *session.Session, state *turnstate.TurnState, d Decision, loop LoopConfig) (*TurnResult, error) {
	r, ctx, err := e.newRun(ctx, hooks, sess, loop, 0)
	if err != nil {
		return nil, err
	}

	pa := state.PendingAction
	call := contract.ToolCall{ID: pa.CallID, Name: pa.ToolName, Input: pa.Arguments}
	e.publish(ctx, r, events.TurnResumed, map[string]any{
		"resumed_turn_id": state.TurnID,
		"reason":          string(state.YieldReason),
		"tool":            pa.ToolName,
		"approved":        d.Approved,
	})
	logger.FromContext(ctx).Info("Resuming turn", "resumed_turn_id", state.TurnID, "reason", state.YieldReason, "tool", pa.ToolName)

	verdict := policy.Verdict{Decision: policy.DecisionAsk, Rule: pa.MatchedRule, Matched: pa.MatchedRule != ""}
	switch state.YieldReason {
	case turnstate.AwaitingInput:
		e.appendResult(ctx, r, call, answersPayload(d.Answers), true, 0)
	default:
		if d.Approved {
			e.executeAndAppend(ctx, r, call, verdict)
		} else {
			e.deny(ctx, r, call, verdict, deniedByUser())
		}
	}

	return e.drainAndDrive(ctx, r)
}

func answersPayload(answers json.RawMessage) json.RawMessage {
	if len(answers) == 0 || !json.Valid(answers) {
		answers = json.RawMessage(`{}`)
	}
	out, _ := json.Marshal(map[string]any{"ok": true, "answers": answers})
	return out
}

// PendingFromState is the Pending a caller reports for a stored turn.
func PendingFromState(state *turnstate.TurnState) *Pending {
	p := &Pending{
		TurnID:      state.TurnID,
		Reason:      state.YieldReason,
		CallID:      state.PendingAction.CallID,
		ToolName:    state.PendingAction.ToolName,
		Arguments:   state.PendingAction.Arguments,
		MatchedRule: state.PendingAction.MatchedRule,
	}
	if len(state.PendingAction.PendingQuestions) > 0 {
		_ = json.Unmarshal(state.PendingAction.PendingQuestions, &p.Questions)
	}
	return p
}
