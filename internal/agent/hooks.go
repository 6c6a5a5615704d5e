package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jgarizk/brainpro/internal/model/contract"
	"github.com/jgarizk/brainpro/internal/policy"
)

// Hooks lets the caller shape a turn and observe it. The engine calls them
// from the goroutine running the turn, never concurrently.
type Hooks interface {
	BuildSystemPrompt(ctx context.Context, planning bool) string
	FilterTools(defs []contract.ToolDef, planning bool) []contract.ToolDef
	OnContent(text string)
	OnWarning(msg string)
	OnToolCall(call contract.ToolCall)
	OnToolResult(call contract.ToolCall, output json.RawMessage, ok bool, durationMs int64)
	// OnStop runs when a turn ends without suspending. Returning
	// ForceContinue asks the caller to run another turn with Prompt.
	OnStop(reason, lastAssistant string) StopDecision
}

type StopDecision struct {
	ForceContinue bool
	Prompt        string
}

// Approver is implemented by hooks that can answer an Ask verdict inline,
// such as an interactive terminal. decided is false to fall back to
// suspending the turn.
type Approver interface {
	Approve(ctx context.Context, call contract.ToolCall, v policy.Verdict) (approved, decided bool)
}

// planningTools are the read-only tools offered in planning mode.
var planningTools = map[string]bool{
	"Read":   true,
	"Glob":   true,
	"Grep":   true,
	"Search": true,
}

// BaseHooks supplies defaults: content is written to Out, warnings are
// logged, planning mode keeps read-only tools, and turns never force-continue.
type BaseHooks struct {
	Out          io.Writer
	SystemPrompt string
}

func (h *BaseHooks) BuildSystemPrompt(_ context.Context, planning bool) string {
	prompt := h.SystemPrompt
	if planning {
		prompt = strings.TrimSpace(prompt + "\n\nPlanning mode is on. Investigate with read-only tools and propose a plan; do not modify files.")
	}
	return prompt
}

func (h *BaseHooks) FilterTools(defs []contract.ToolDef, planning bool) []contract.ToolDef {
	if !planning {
		return defs
	}
	out := make([]contract.ToolDef, 0, len(defs))
	for _, d := range defs {
		if planningTools[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func (h *BaseHooks) OnContent(text string) {
	if h.Out == nil || text == "" {
		return
	}
	fmt.Fprintln(h.Out, text)
	if f, ok := h.Out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

func (h *BaseHooks) OnWarning(msg string) {
	slog.Warn(msg)
}

func (h *BaseHooks) OnToolCall(contract.ToolCall) {}

func (h *BaseHooks) OnToolResult(contract.ToolCall, json.RawMessage, bool, int64) {}

func (h *BaseHooks) OnStop(string, string) StopDecision {
	return StopDecision{}
}
