package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/cost"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/events"
	"github.com/jgarizk/brainpro/internal/logger"
	"github.com/jgarizk/brainpro/internal/model"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/store"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"
)

// maxPromptSkills caps the skill index listing in the system prompt.
const maxPromptSkills = 50

type LoopConfig struct {
	MaxIterations   int
	IncludeTaskTool bool
	MaxTaskDepth    int
}

// LoopConfigFrom reads the agent section of cfg, filling defaults.
func LoopConfigFrom(cfg *config.Config) LoopConfig {
	lc := LoopConfig{
		MaxIterations:   config.DefaultAgentMaxIterations,
		IncludeTaskTool: config.DefaultAgentIncludeTaskTool,
		MaxTaskDepth:    config.DefaultAgentMaxTaskDepth,
	}
	if cfg == nil {
		return lc
	}
	if cfg.Agent.MaxIterations > 0 {
		lc.MaxIterations = cfg.Agent.MaxIterations
	}
	lc.IncludeTaskTool = cfg.Agent.IncludeTaskTool
	if cfg.Agent.MaxTaskDepth > 0 {
		lc.MaxTaskDepth = cfg.Agent.MaxTaskDepth
	}
	return lc
}

func (lc LoopConfig) withDefaults() LoopConfig {
	if lc.MaxIterations <= 0 {
		lc.MaxIterations = config.DefaultAgentMaxIterations
	}
	if lc.MaxTaskDepth <= 0 {
		lc.MaxTaskDepth = config.DefaultAgentMaxTaskDepth
	}
	return lc
}

type Stats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	ToolUses     int `json:"tool_uses"`
}

func (s *Stats) Add(o Stats) {
	s.InputTokens += o.InputTokens
	s.OutputTokens += o.OutputTokens
	s.ToolUses += o.ToolUses
}

// Pending describes why a turn suspended and how to resume it.
type Pending struct {
	TurnID      string                `json:"turn_id"`
	Reason      turnstate.YieldReason `json:"reason"`
	CallID      string                `json:"call_id"`
	ToolName    string                `json:"tool_name"`
	Arguments   string                `json:"arguments"`
	MatchedRule string                `json:"matched_rule,omitempty"`
	Questions   []tool.Question       `json:"questions,omitempty"`
}

type TurnResult struct {
	Stats          Stats    `json:"usage"`
	ResponseText   string   `json:"response_text"`
	Pending        *Pending `json:"pending,omitempty"`
	ForceContinue  bool     `json:"force_continue"`
	ContinuePrompt string   `json:"continue_prompt,omitempty"`
}

type Options struct {
	Client     model.Client
	Dispatcher *tool.Dispatcher
	Turns      turnstate.Store
	Ledger     *cost.Ledger
	Bus        *events.Bus
	Audit      policy.AuditLogger
	Config     *config.Config
}

// Engine runs turns. It holds only shared collaborators; all per-turn state
// lives in the session and the run, so one Engine serves any number of
// concurrent turns on different sessions.
type Engine struct {
	client     model.Client
	dispatcher *tool.Dispatcher
	turns      turnstate.Store
	ledger     *cost.Ledger
	bus        *events.Bus
	audit      policy.AuditLogger
	cfg        *config.Config
}

func New(opts Options) *Engine {
	if opts.Dispatcher == nil {
		opts.Dispatcher = tool.NewDispatcher(nil)
	}
	if opts.Turns == nil {
		opts.Turns = turnstate.NewMemoryStore(turnstate.Options{})
	}
	return &Engine{
		client:     opts.Client,
		dispatcher: opts.Dispatcher,
		turns:      opts.Turns,
		ledger:     opts.Ledger,
		bus:        opts.Bus,
		audit:      opts.Audit,
		cfg:        opts.Config,
	}
}

func (e *Engine) Turns() turnstate.Store {
	return e.turns
}

func (e *Engine) Ledger() *cost.Ledger {
	return e.ledger
}

// run is the state of one turn in flight.
type run struct {
	id     string
	hooks  Hooks
	sess   *session.Session
	target model.Target
	loop   LoopConfig
	depth  int
	stats  Stats
}

func (r *run) actor() string {
	return r.sess.ActorID()
}

// RunTurn appends input as a user message and drives the model until it
// answers without tool calls, a call needs an external decision, or the
// iteration budget runs out. Only configuration and backend failures are
// returned as errors.
func (e *Engine) RunTurn(ctx context.Context, hooks Hooks, sess *session.Session, loop LoopConfig, input string) (*TurnResult, error) {
	r, ctx, err := e.newRun(ctx, hooks, sess, loop, 0)
	if err != nil {
		return nil, err
	}

	e.supersedeUnanswered(ctx, r)
	sess.AppendMessages(contract.Message{Role: contract.RoleUser, Content: input})
	sess.Record(ctx, store.RoleUser, input, nil)
	e.activateMentioned(ctx, r, input)

	e.publish(ctx, r, events.TurnStarted, map[string]any{"target": r.target.String(), "depth": r.depth})
	return e.drive(ctx, r)
}

// Continue re-enters the loop on the session's current history. Tool calls
// of the last assistant message that have no result yet are processed first,
// in order.
func (e *Engine) Continue(ctx context.Context, hooks Hooks, sess *session.Session, loop LoopConfig) (*TurnResult, error) {
	r, ctx, err := e.newRun(ctx, hooks, sess, loop, 0)
	if err != nil {
		return nil, err
	}
	return e.drainAndDrive(ctx, r)
}

func (e *Engine) newRun(ctx context.Context, hooks Hooks, sess *session.Session, loop LoopConfig, depth int) (*run, context.Context, error) {
	if hooks == nil {
		hooks = &BaseHooks{}
	}
	target, err := e.resolveTarget(sess.Target())
	if err != nil {
		return nil, ctx, err
	}
	r := &run{
		id:     turnstate.NewTurnID(),
		hooks:  hooks,
		sess:   sess,
		target: target,
		loop:   loop.withDefaults(),
		depth:  depth,
	}
	ctx = logger.WithSessionID(ctx, sess.ID())
	ctx = logger.WithTurnID(ctx, r.id)
	return r, ctx, nil
}

func (e *Engine) resolveTarget(name string) (model.Target, error) {
	raw := name
	if e.cfg != nil {
		raw = e.cfg.ResolveTarget(name)
	}
	if raw == "" {
		return model.Target{}, bpErrors.Config("no target configured")
	}
	t, err := model.ParseTarget(raw)
	if err != nil {
		return model.Target{}, bpErrors.Config(err.Error())
	}
	return t, nil
}

func (e *Engine) drainAndDrive(ctx context.Context, r *run) (*TurnResult, error) {
	pending, err := e.drainUnanswered(ctx, r)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return e.suspended(r, pending), nil
	}
	return e.drive(ctx, r)
}

func (e *Engine) drive(ctx context.Context, r *run) (*TurnResult, error) {
	log := logger.FromContext(ctx)

	for i := 0; i < r.loop.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Debug("Turn iteration", "iteration", i+1, "max", r.loop.MaxIterations, "depth", r.depth)

		stack := r.sess.Policy(r.target.Model)
		req := contract.CompletionRequest{
			Model:      r.target.Model,
			Messages:   e.requestMessages(ctx, r),
			Tools:      e.toolDefs(r, stack),
			ToolChoice: "auto",
		}

		resp, err := e.client.Chat(ctx, r.target, req)
		if err != nil {
			e.publish(ctx, r, events.ModelError, map[string]any{"target": r.target.String(), "error": err.Error()})
			if bpErrors.IsCategory(err, bpErrors.ErrConfig) {
				return nil, err
			}
			return nil, bpErrors.Backend(err, fmt.Sprintf("chat with %s failed", r.target))
		}
		e.recordUsage(ctx, r, resp.Usage)

		if len(resp.Choices) == 0 {
			log.Warn("Model returned no choices", "target", r.target.String())
			break
		}
		choice := resp.Choices[0]
		if choice.FinishReason == contract.FinishLength {
			r.hooks.OnWarning("Model output was truncated (finish_reason=length)")
		}

		msg := choice.Message
		msg.Role = contract.RoleAssistant
		if len(msg.ToolCalls) == 0 {
			r.sess.AppendMessages(msg)
			r.sess.Record(ctx, store.RoleAssistant, msg.Content, nil)
			r.hooks.OnContent(msg.Content)
			break
		}

		r.sess.AppendMessages(msg)
		r.sess.Record(ctx, store.RoleAssistant, msg.Content, map[string]any{"tool_calls": len(msg.ToolCalls)})
		if msg.Content != "" {
			r.hooks.OnContent(msg.Content)
		}

		for _, call := range msg.ToolCalls {
			if call == nil {
				continue
			}
			pending, err := e.handleCall(ctx, r, stack, *call)
			if err != nil {
				return nil, err
			}
			if pending != nil {
				return e.suspended(r, pending), nil
			}
		}
	}

	result := &TurnResult{
		Stats:        r.stats,
		ResponseText: r.sess.LastAssistantText(),
	}
	stop := r.hooks.OnStop("tool_finished", result.ResponseText)
	result.ForceContinue = stop.ForceContinue
	result.ContinuePrompt = stop.Prompt

	e.publish(ctx, r, events.TurnCompleted, map[string]any{
		"input_tokens":  r.stats.InputTokens,
		"output_tokens": r.stats.OutputTokens,
		"tool_uses":     r.stats.ToolUses,
	})
	return result, nil
}

func (e *Engine) suspended(r *run, p *Pending) *TurnResult {
	return &TurnResult{
		Stats:        r.stats,
		ResponseText: r.sess.LastAssistantText(),
		Pending:      p,
	}
}

// requestMessages prepends a freshly built system prompt to the history.
func (e *Engine) requestMessages(ctx context.Context, r *run) []contract.Message {
	history := r.sess.Messages()
	prompt := r.hooks.BuildSystemPrompt(ctx, r.sess.PlanningMode())
	if listing := r.sess.Skills().FormatForPrompt(maxPromptSkills); listing != "" {
		prompt = joinPrompt(prompt, listing)
	}
	if active := r.sess.ActiveSkills().FormatForPrompt(); active != "" {
		prompt = joinPrompt(prompt, active)
	}
	if prompt == "" {
		return history
	}
	out := make([]contract.Message, 0, len(history)+1)
	out = append(out, contract.Message{Role: contract.RoleSystem, Content: prompt})
	return append(out, history...)
}

func joinPrompt(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

// toolDefs offers the catalog through the hook filter, the active-skill
// allowlist and finally policy.
func (e *Engine) toolDefs(r *run, stack *policy.Stack) []contract.ToolDef {
	defs := e.dispatcher.Registry().Definitions()
	defs = append(defs, tool.AskUserQuestionDef())
	if r.sess.Skills().Count() > 0 {
		defs = append(defs, tool.ActivateSkillDef())
	}
	if r.loop.IncludeTaskTool && r.depth < r.loop.MaxTaskDepth {
		defs = append(defs, tool.TaskDef())
	}

	defs = r.hooks.FilterTools(defs, r.sess.PlanningMode())
	defs = filterBySkills(defs, r.sess.ActiveSkills())
	return policy.FilterSchemas(stack, r.actor(), defs, tool.DefinitionName)
}

func filterBySkills(defs []contract.ToolDef, active *skill.ActiveSet) []contract.ToolDef {
	allowed, ok := active.EffectiveAllowedTools()
	if !ok {
		return defs
	}
	keep := make(map[string]bool, len(allowed)+2)
	for _, name := range allowed {
		keep[name] = true
	}
	keep[tool.ActivateSkillName] = true
	keep[tool.TaskName] = true

	out := make([]contract.ToolDef, 0, len(defs))
	for _, d := range defs {
		if keep[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) recordUsage(ctx context.Context, r *run, usage *contract.Usage) {
	if usage == nil {
		return
	}
	r.stats.InputTokens += usage.PromptTokens
	r.stats.OutputTokens += usage.CompletionTokens
	op := e.ledger.Record(r.target.Model, usage.PromptTokens, usage.CompletionTokens)
	e.publish(ctx, r, events.ModelUsage, map[string]any{
		"model":         r.target.Model,
		"input_tokens":  usage.PromptTokens,
		"output_tokens": usage.CompletionTokens,
		"cost_usd":      op.CostUSD,
	})
}

// activateMentioned switches on skills the user named as $skill.
func (e *Engine) activateMentioned(ctx context.Context, r *run, input string) {
	for _, name := range skill.MentionedSkills(input) {
		if _, ok := r.sess.Skills().Get(name); !ok {
			continue
		}
		if _, err := r.sess.ActiveSkills().Activate(name, "mentioned by user", r.sess.Skills()); err != nil {
			logger.FromContext(ctx).Warn("Skill activation failed", "skill", name, "error", err)
			continue
		}
		slog.Debug("Skill auto-activated", "skill", name)
	}
}

func (e *Engine) publish(ctx context.Context, r *run, typ events.Type, data map[string]any) {
	e.bus.Publish(ctx, events.Event{
		Subsystem: events.SubsystemAgent,
		Type:      typ,
		TurnID:    r.id,
		ActorID:   r.actor(),
		Data:      data,
	})
}
