package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/concurrency"
	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/idempotency"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// eventBuffer bounds how far a turn may run ahead of a slow reader.
const eventBuffer = 64

// Controller runs and resumes turns for the transports. Turns on the same
// session are serialised; different sessions run concurrently.
type Controller struct {
	engine   *agent.Engine
	sessions *session.Manager
	cfg      *config.Config
	loop     agent.LoopConfig
	locks    *concurrency.SessionLockManager
	mapper   bpErrors.ErrorMapper
	prompt   string
	requests *idempotency.Store
}

type ControllerOptions struct {
	Engine   *agent.Engine
	Sessions *session.Manager
	Config   *config.Config
	// Requests, when set, rejects a run_turn whose id was seen recently.
	Requests *idempotency.Store
}

func NewController(opts ControllerOptions) *Controller {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewManager(nil, nil, nil)
	}
	c := &Controller{
		engine:   opts.Engine,
		sessions: sessions,
		cfg:      opts.Config,
		loop:     agent.LoopConfigFrom(opts.Config),
		locks:    concurrency.NewSessionLockManager(),
		mapper:   bpErrors.NewDefaultErrorMapper(),
		prompt:   DefaultSystemPrompt,
		requests: opts.Requests,
	}
	if opts.Config != nil && strings.TrimSpace(opts.Config.Agent.SystemPrompt) != "" {
		c.prompt = opts.Config.Agent.SystemPrompt
	}
	return c
}

// DefaultSystemPrompt is used when the config does not set one.
const DefaultSystemPrompt = `You are an agentic coding assistant running locally.
You can only access files via tools. All paths are relative to the project root.
Use Glob/Grep to find files before Read. Before Edit/Write, explain what you will change.
Use Bash for running builds, tests, formatters, and git operations.
Keep edits minimal and precise.`

// Handle dispatches req by method. The returned channel is closed after the
// last event.
func (c *Controller) Handle(ctx context.Context, req Request) <-chan AgentEvent {
	switch req.Method {
	case MethodPing:
		return single(pongEvent(req.ID))
	case MethodCancel:
		return single(errorEvent(req.ID, CodeNotImplemented, "Cancel is not supported"))
	case MethodRunTurn:
		return c.RunTurnGateway(ctx, req)
	case MethodResumeTurn:
		return c.ResumeTurn(ctx, req)
	default:
		return single(errorEvent(req.ID, CodeInvalidRequest, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func single(ev AgentEvent) <-chan AgentEvent {
	ch := make(chan AgentEvent, 1)
	ch <- ev
	close(ch)
	return ch
}

// RunTurnGateway runs the last user message of req and streams events. A
// turn that needs a decision ends with yield_approval or yield_input instead
// of done.
func (c *Controller) RunTurnGateway(ctx context.Context, req Request) <-chan AgentEvent {
	target, ok := c.resolveTarget(req.Target)
	if !ok {
		return single(errorEvent(req.ID, CodeNoTarget, "No target configured"))
	}
	history, input, ok := splitInput(req.Messages)
	if !ok {
		return single(errorEvent(req.ID, CodeNoInput, "No user message provided"))
	}
	if req.Profile != nil {
		if err := policy.ValidateRestriction(*req.Profile); err != nil {
			return single(errorEvent(req.ID, CodeInvalidRequest, err.Error()))
		}
	}
	if c.duplicate(ctx, req.ID) {
		return single(errorEvent(req.ID, CodeDuplicateRequest, fmt.Sprintf("Request %s was already run", req.ID)))
	}

	ctx = logger.WithTraceID(ctx, traceID(req))
	return c.stream(ctx, req.ID, func(hooks agent.Hooks) (*agent.TurnResult, error) {
		sess := c.sessions.Open(ctx, session.Options{
			ID:           req.SessionID,
			ActorID:      c.actorID(req.AgentID),
			Target:       target,
			WorkingDir:   req.WorkingDir,
			PlanningMode: req.Planning,
			Messages:     history,
		})
		if req.Profile != nil {
			sess.SetProfilePolicy(RequestProfile, *req.Profile)
		}
		c.locks.Lock(sess.ID())
		defer c.locks.Unlock(sess.ID())
		defer c.sessions.Touch(sess)
		return c.engine.RunTurn(ctx, hooks, sess, c.loop, input)
	})
}

func (c *Controller) duplicate(ctx context.Context, id string) bool {
	if c.requests == nil || strings.TrimSpace(id) == "" {
		return false
	}
	seen, err := c.requests.CheckAndMark(id)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to persist request id", "request_id", id, "error", err)
	}
	return seen
}

// ResumeTurn consumes the suspended turn named by req.TurnID, answers its
// pending call and continues the loop.
func (c *Controller) ResumeTurn(ctx context.Context, req Request) <-chan AgentEvent {
	if strings.TrimSpace(req.TurnID) == "" {
		return single(errorEvent(req.ID, CodeMissingResumeData, "ResumeTurn requires turn_id"))
	}

	state, err := c.engine.TakeTurn(ctx, req.TurnID)
	if err != nil {
		if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
			return single(errorEvent(req.ID, CodeTurnNotFound, fmt.Sprintf("Turn %s not found or expired", req.TurnID)))
		}
		return single(errorEvent(req.ID, c.mapper.Code(err), err.Error()))
	}

	decision := agent.Decision{Answers: req.Answers}
	if req.Approved != nil {
		decision.Approved = *req.Approved
	}

	ctx = logger.WithTraceID(ctx, traceID(req))
	// The state is already consumed, so the loop outlives the caller. Events
	// stop flowing once ctx is done; the turn still finishes or yields anew.
	runCtx := context.WithoutCancel(ctx)
	return c.stream(ctx, req.ID, func(hooks agent.Hooks) (*agent.TurnResult, error) {
		sess := c.sessions.Open(runCtx, agent.SessionOptions(state))
		c.locks.Lock(sess.ID())
		defer c.locks.Unlock(sess.ID())
		defer c.sessions.Touch(sess)
		return c.engine.ResumeTurn(runCtx, hooks, sess, state, decision, c.loop)
	})
}

// stream runs fn on its own goroutine and closes the returned channel after
// the terminal event. A panic in fn becomes an internal error event.
func (c *Controller) stream(ctx context.Context, id string, fn func(agent.Hooks) (*agent.TurnResult, error)) <-chan AgentEvent {
	out := make(chan AgentEvent, eventBuffer)
	concurrency.SafeGo(func() {
		defer close(out)
		var (
			res *agent.TurnResult
			err error
		)
		panicked := concurrency.SafeCall(func() {
			res, err = fn(c.hooks(ctx, id, out))
		}, func(r interface{}) {
			logger.FromContext(ctx).Error("Turn panicked", "request_id", id, "panic", r)
		})
		if panicked {
			hooksEmit(ctx, out, errorEvent(id, "internal", "turn panicked"))
			return
		}
		c.finish(ctx, id, out, res, err)
	}, nil)
	return out
}

// Summary describes a suspended turn for listings.
type Summary struct {
	*agent.Pending
	SessionID string `json:"session_id"`
	ActorID   string `json:"actor_id,omitempty"`
	Target    string `json:"target"`
	CreatedAt string `json:"created_at"`
}

// ListTurns returns suspended turns oldest first without consuming them.
func (c *Controller) ListTurns(ctx context.Context) ([]Summary, error) {
	states, err := c.engine.Turns().List(ctx)
	if err != nil {
		return nil, err
	}
	turnstate.SortByCreation(states)
	out := make([]Summary, 0, len(states))
	for _, s := range states {
		out = append(out, Summary{
			Pending:   agent.PendingFromState(s),
			SessionID: s.SessionID,
			ActorID:   s.ActorID,
			Target:    s.TargetModel,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (c *Controller) finish(ctx context.Context, id string, out chan<- AgentEvent, res *agent.TurnResult, err error) {
	if err != nil {
		logger.FromContext(ctx).Warn("Turn failed", "request_id", id, "error", err)
		hooksEmit(ctx, out, errorEvent(id, c.mapper.Code(err), err.Error()))
		return
	}
	if res.Pending != nil {
		hooksEmit(ctx, out, yieldEvent(id, res.Pending))
		return
	}
	hooksEmit(ctx, out, doneEvent(id, res.Stats))
}

func (c *Controller) resolveTarget(name string) (string, bool) {
	raw := strings.TrimSpace(name)
	if c.cfg != nil {
		raw = c.cfg.ResolveTarget(name)
	}
	if raw == "" {
		return "", false
	}
	if _, err := model.ParseTarget(raw); err != nil {
		return "", false
	}
	return raw, true
}

func (c *Controller) actorID(requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if c.cfg != nil && c.cfg.Agent.ActorID != "" {
		return c.cfg.Agent.ActorID
	}
	return config.DefaultAgentActorID
}

// splitInput separates the trailing user message from the history before it.
func splitInput(msgs []contract.Message) ([]contract.Message, string, bool) {
	if len(msgs) == 0 {
		return nil, "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != contract.RoleUser || strings.TrimSpace(last.Content) == "" {
		return nil, "", false
	}
	return msgs[:len(msgs)-1], last.Content, true
}

func traceID(req Request) string {
	if req.ID != "" {
		return req.ID
	}
	return turnstate.NewTurnID()
}

func (c *Controller) hooks(ctx context.Context, id string, out chan<- AgentEvent) agent.Hooks {
	return &streamHooks{
		BaseHooks: agent.BaseHooks{SystemPrompt: c.prompt},
		ctx:       ctx,
		id:        id,
		out:       out,
	}
}

// streamHooks turns engine callbacks into gateway events.
type streamHooks struct {
	agent.BaseHooks
	ctx context.Context
	id  string
	out chan<- AgentEvent
}

func (h *streamHooks) OnContent(text string) {
	if text != "" {
		hooksEmit(h.ctx, h.out, contentEvent(h.id, text))
	}
}

func (h *streamHooks) OnToolCall(call contract.ToolCall) {
	hooksEmit(h.ctx, h.out, toolCallEvent(h.id, call))
}

func (h *streamHooks) OnToolResult(call contract.ToolCall, result json.RawMessage, ok bool, durationMs int64) {
	hooksEmit(h.ctx, h.out, toolResultEvent(h.id, call, result, ok, durationMs))
}

// hooksEmit drops the event once the reader has gone away.
func hooksEmit(ctx context.Context, out chan<- AgentEvent, ev AgentEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
