package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/agent"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/gateway"
	"github.com/jgarizk/brainpro/internal/skill"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/spf13/cobra"
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Manage suspended turns",
	Long:  `List, inspect and prune turns waiting for approval or answers.`,
}

var turnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suspended turns, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			turns, err := r.Controller.ListTurns(r.Ctx)
			if err != nil {
				return err
			}
			return listTurns(os.Stdout, turns, format)
		})
	},
}

var turnsShowCmd = &cobra.Command{
	Use:   "show <turn-id>",
	Short: "Show a suspended turn without consuming it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			return showTurn(r.Ctx, os.Stdout, r.Turns, args[0], format)
		})
	},
}

var turnsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired suspended turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			n, err := r.Turns.Prune(r.Ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Pruned %d expired turn(s).\n", n)
			return nil
		})
	},
}

func listTurns(w io.Writer, turns []gateway.Summary, format skill.OutputFormat) error {
	if format == skill.OutputFormatJSON {
		if turns == nil {
			turns = []gateway.Summary{}
		}
		return writeJSON(w, turns)
	}
	if len(turns) == 0 {
		fmt.Fprintln(w, "No suspended turns.")
		return nil
	}
	rows := make([][]string, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, []string{
			t.TurnID,
			string(t.Reason),
			t.ToolName,
			t.SessionID,
			t.Target,
			t.CreatedAt,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Turn", "Waiting for", "Tool", "Session", "Target", "Created"}, rows))
	return nil
}

func showTurn(ctx context.Context, w io.Writer, turns turnstate.Store, turnID string, format skill.OutputFormat) error {
	state, err := turns.Get(ctx, turnID)
	if err != nil {
		if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
			return fmt.Errorf("turn %s not found or expired", turnID)
		}
		return err
	}
	pending := agent.PendingFromState(state)
	if format == skill.OutputFormatJSON {
		return writeJSON(w, map[string]any{
			"pending":       pending,
			"session_id":    state.SessionID,
			"actor_id":      state.ActorID,
			"target":        state.TargetModel,
			"working_dir":   state.WorkingDirectory,
			"created_at":    state.CreatedAt.UTC().Format(time.RFC3339),
			"message_count": len(state.MessageHistory),
		})
	}

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
		}
	}
	field("turn", pending.TurnID)
	field("waiting for", string(pending.Reason))
	field("session", state.SessionID)
	field("actor", state.ActorID)
	field("target", state.TargetModel)
	field("created", state.CreatedAt.Local().Format(time.RFC1123))
	field("tool", pending.ToolName)
	field("call", pending.CallID)
	field("rule", pending.MatchedRule)
	field("arguments", truncateString(pending.Arguments, 200))
	field("messages", fmt.Sprint(len(state.MessageHistory)))
	for i, q := range pending.Questions {
		fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, q.Header, q.Question)
		for _, opt := range q.Options {
			fmt.Fprintf(w, "     - %s\n", opt.Label)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(turnsCmd)
	turnsCmd.AddCommand(turnsListCmd, turnsShowCmd, turnsPruneCmd)
	turnsListCmd.Flags().String("format", "table", "output format (table, json)")
	turnsShowCmd.Flags().String("format", "table", "output format (table, json)")
}
