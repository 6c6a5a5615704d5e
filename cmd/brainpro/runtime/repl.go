package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jgarizk/brainpro/internal/agent"
	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/session"
	"github.com/jgarizk/brainpro/internal/tool"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"charm.land/lipgloss/v2"
)

var (
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	askStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

type REPLOptions struct {
	SessionID  string
	Target     string
	WorkingDir string
	Planning   bool
	// YieldApprovals suspends the turn on Ask instead of prompting, leaving
	// it for a later resume.
	YieldApprovals bool
	// Profile restricts the session's tools. It is registered as CLIProfile.
	Profile *policy.AgentPolicy
}

// CLIProfile names the profile policy built from run flags and /profile.
const CLIProfile = "cli"

// REPL drives turns from a terminal. Ask verdicts are answered inline and
// AskUserQuestion is answered by resuming the suspended turn.
type REPL struct {
	rt     *RuntimeComponents
	in     *bufio.Reader
	out    io.Writer
	sess   *session.Session
	loop   agent.LoopConfig
	prompt string
	opts   REPLOptions
}

func NewREPL(rt *RuntimeComponents, in io.Reader, out io.Writer, opts REPLOptions) *REPL {
	target := rt.Config.ResolveTarget(opts.Target)
	actor := rt.Config.Agent.ActorID
	if actor == "" {
		actor = config.DefaultAgentActorID
	}
	var profiles map[string]policy.AgentPolicy
	if opts.Profile != nil {
		profiles = map[string]policy.AgentPolicy{CLIProfile: *opts.Profile}
	}
	sess := rt.Sessions.Open(rt.Ctx, session.Options{
		ID:           opts.SessionID,
		ActorID:      actor,
		Target:       target,
		WorkingDir:   opts.WorkingDir,
		PlanningMode: opts.Planning,
		Profiles:     profiles,
	})

	return &REPL{
		rt:     rt,
		in:     bufio.NewReader(in),
		out:    out,
		sess:   sess,
		loop:   agent.LoopConfigFrom(rt.Config),
		prompt: SystemPrompt(rt.Config),
		opts:   opts,
	}
}

// SystemPrompt is agent.system_prompt, or the built-in prompt when unset.
func SystemPrompt(cfg *config.Config) string {
	if cfg != nil && strings.TrimSpace(cfg.Agent.SystemPrompt) != "" {
		return cfg.Agent.SystemPrompt
	}
	return gateway.DefaultSystemPrompt
}

func (r *REPL) Session() *session.Session {
	return r.sess
}

// Start reads prompts until /exit, EOF or cancellation.
func (r *REPL) Start() error {
	fmt.Fprintf(r.out, "brainpro session %s (%s)\n", r.sess.ID(), r.sess.Target())
	fmt.Fprintln(r.out, mutedStyle.Render("Type /help for commands, /exit to quit."))

	for {
		if r.rt.Ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		line, err := r.in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case strings.HasPrefix(line, "/"):
			r.command(line)
			continue
		}

		if err := r.RunOnce(r.rt.Ctx, line); err != nil {
			fmt.Fprintln(r.out, errStyle.Render("error: "+err.Error()))
		}
	}
}

func (r *REPL) command(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Fprintln(r.out, "/plan      toggle planning mode")
		fmt.Fprintln(r.out, "/target X  switch model target")
		fmt.Fprintln(r.out, "/cost      show token spend")
		fmt.Fprintln(r.out, "/profile   list profiles; /profile deny X or /profile clear")
		fmt.Fprintln(r.out, "/exit      quit")
	case "/plan":
		on := !r.sess.PlanningMode()
		r.sess.SetPlanningMode(on)
		fmt.Fprintf(r.out, "planning mode: %v\n", on)
	case "/target":
		if len(fields) < 2 {
			fmt.Fprintf(r.out, "target: %s\n", r.sess.Target())
			return
		}
		r.sess.SetTarget(r.rt.Config.ResolveTarget(fields[1]))
		fmt.Fprintf(r.out, "target: %s\n", r.sess.Target())
	case "/cost":
		for _, t := range r.rt.Ledger.Totals() {
			fmt.Fprintf(r.out, "%s: %d in, %d out, $%.4f\n", t.Model, t.InputTokens, t.OutputTokens, t.CostUSD)
		}
		fmt.Fprintf(r.out, "total: $%.4f\n", r.rt.Ledger.TotalCost())
	case "/profile":
		r.profileCommand(fields[1:])
	default:
		fmt.Fprintf(r.out, "unknown command %s\n", fields[0])
	}
}

func (r *REPL) profileCommand(args []string) {
	switch {
	case len(args) == 0:
		profiles := r.sess.ProfilePolicies()
		if len(profiles) == 0 {
			fmt.Fprintln(r.out, "no profiles")
			return
		}
		names := make([]string, 0, len(profiles))
		for name := range profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := profiles[name]
			fmt.Fprintf(r.out, "%s: deny %v, allow_only %v\n", name, p.Deny, p.AllowOnly)
		}
	case args[0] == "clear":
		r.sess.ClearProfilePolicies()
		fmt.Fprintln(r.out, "profiles cleared")
	case args[0] == "deny" && len(args) > 1:
		p := r.sess.ProfilePolicies()[CLIProfile]
		p.Deny = append(p.Deny, strings.Join(args[1:], " "))
		if err := policy.ValidateRestriction(p); err != nil {
			fmt.Fprintln(r.out, errStyle.Render("error: "+err.Error()))
			return
		}
		r.sess.SetProfilePolicy(CLIProfile, p)
		fmt.Fprintf(r.out, "denied: %s\n", p.Deny[len(p.Deny)-1])
	default:
		fmt.Fprintln(r.out, "usage: /profile [deny PATTERN | clear]")
	}
}

// RunOnce runs one user turn to completion, answering questions inline. A
// turn left waiting for approval is reported with its id and not resumed.
func (r *REPL) RunOnce(ctx context.Context, input string) error {
	hooks := r.hooks()
	res, err := r.rt.Engine.RunTurn(ctx, hooks, r.sess, r.loop, input)
	for err == nil && res.Pending != nil {
		p := res.Pending
		if p.Reason == turnstate.AwaitingApproval {
			fmt.Fprintf(r.out, "%s %s is waiting for approval. Resume with: brainpro resume %s\n",
				askStyle.Render("suspended:"), p.ToolName, p.TurnID)
			return nil
		}

		answers, aerr := PromptAnswers(r.in, r.out, p.Questions)
		if aerr != nil {
			fmt.Fprintf(r.out, "%s questions left unanswered. Resume with: brainpro resume %s\n",
				askStyle.Render("suspended:"), p.TurnID)
			return nil
		}

		state, terr := r.rt.Engine.TakeTurn(ctx, p.TurnID)
		if terr != nil {
			return terr
		}
		r.sess.ReplaceMessages(state.MessageHistory)
		res, err = r.rt.Engine.ResumeTurn(ctx, hooks, r.sess, state, agent.Decision{Answers: answers}, r.loop)
	}
	if err != nil {
		return err
	}
	r.rt.Sessions.Touch(r.sess)
	fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("[%d in / %d out tokens, %d tool uses]",
		res.Stats.InputTokens, res.Stats.OutputTokens, res.Stats.ToolUses)))
	return nil
}

func (r *REPL) hooks() agent.Hooks {
	h := &TerminalHooks{
		BaseHooks: agent.BaseHooks{Out: r.out, SystemPrompt: r.prompt},
		in:        r.in,
	}
	if r.opts.YieldApprovals {
		return yieldingHooks{h}
	}
	return h
}

// TerminalHooks prints turn progress and asks the user before tools the
// policy marks Ask.
type TerminalHooks struct {
	agent.BaseHooks
	in *bufio.Reader
}

func NewTerminalHooks(in io.Reader, out io.Writer, systemPrompt string) *TerminalHooks {
	return &TerminalHooks{
		BaseHooks: agent.BaseHooks{Out: out, SystemPrompt: systemPrompt},
		in:        bufio.NewReader(in),
	}
}

func (h *TerminalHooks) OnToolCall(call contract.ToolCall) {
	fmt.Fprintln(h.Out, toolStyle.Render("● "+call.Name)+" "+mutedStyle.Render(truncate(call.Input, 120)))
}

func (h *TerminalHooks) OnToolResult(call contract.ToolCall, output json.RawMessage, ok bool, durationMs int64) {
	mark := okStyle.Render("  ✓")
	if !ok {
		mark = errStyle.Render("  ✗")
	}
	fmt.Fprintf(h.Out, "%s %s %s\n", mark, mutedStyle.Render(fmt.Sprintf("%dms", durationMs)), truncate(string(output), 160))
}

func (h *TerminalHooks) Approve(ctx context.Context, call contract.ToolCall, v policy.Verdict) (bool, bool) {
	return PromptApproval(h.in, h.Out, call.Name, call.Input, v.Rule)
}

// yieldingHooks exposes only agent.Hooks, so Ask verdicts suspend the turn.
type yieldingHooks struct {
	agent.Hooks
}

// PromptApproval asks a yes/no question. decided is false when input ended
// before an answer.
func PromptApproval(in *bufio.Reader, out io.Writer, toolName, args, rule string) (approved, decided bool) {
	label := fmt.Sprintf("Allow %s?", toolName)
	if rule != "" {
		label = fmt.Sprintf("Allow %s (rule %s)?", toolName, rule)
	}
	fmt.Fprintln(out, askStyle.Render(label)+" "+mutedStyle.Render(truncate(args, 200)))
	fmt.Fprint(out, "[y/N] ")

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, true
	default:
		return false, true
	}
}

// PromptAnswers asks each question and returns the answers object keyed by
// question text. An option may be chosen by number or label; anything else
// is taken as a free-form answer.
func PromptAnswers(in *bufio.Reader, out io.Writer, questions []tool.Question) (json.RawMessage, error) {
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		fmt.Fprintf(out, "%s %s\n", askStyle.Render("["+q.Header+"]"), q.Question)
		for i, opt := range q.Options {
			line := fmt.Sprintf("  %d. %s", i+1, opt.Label)
			if opt.Description != "" {
				line += mutedStyle.Render(" - " + opt.Description)
			}
			fmt.Fprintln(out, line)
		}
		if q.MultiSelect {
			fmt.Fprint(out, "choices (comma separated): ")
		} else {
			fmt.Fprint(out, "choice: ")
		}

		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return nil, err
		}
		answers[q.Question] = resolveChoice(q, strings.TrimSpace(line))
	}
	return json.Marshal(answers)
}

func resolveChoice(q tool.Question, raw string) string {
	parts := []string{raw}
	if q.MultiSelect {
		parts = strings.Split(raw, ",")
	}
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil && n >= 1 && n <= len(q.Options) {
			labels = append(labels, q.Options[n-1].Label)
			continue
		}
		labels = append(labels, p)
	}
	return strings.Join(labels, ", ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
