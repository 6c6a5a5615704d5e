package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/agent"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/turnstate"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <turn-id>",
	Short: "Answer a suspended turn and continue it",
	Long: `Resumes a turn that stopped for approval or for answers to AskUserQuestion.
Pass --approve or --deny for an approval, --answers for questions, or omit them to be asked interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := resumeFlagsFrom(cmd)
		if err != nil {
			return err
		}
		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			return resumeTurn(r.Ctx, r, args[0], flags, os.Stdin, os.Stdout)
		})
	},
}

type resumeFlags struct {
	approve bool
	deny    bool
	answers string
}

func resumeFlagsFrom(cmd *cobra.Command) (resumeFlags, error) {
	var f resumeFlags
	f.approve, _ = cmd.Flags().GetBool("approve")
	f.deny, _ = cmd.Flags().GetBool("deny")
	f.answers, _ = cmd.Flags().GetString("answers")
	if f.approve && f.deny {
		return f, fmt.Errorf("--approve and --deny are mutually exclusive")
	}
	if f.answers != "" && !json.Valid([]byte(f.answers)) {
		return f, fmt.Errorf("--answers must be a JSON object")
	}
	return f, nil
}

func resumeTurn(ctx context.Context, r *runtime.RuntimeComponents, turnID string, flags resumeFlags, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	peek, err := r.Turns.Get(ctx, turnID)
	if err != nil {
		if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
			return fmt.Errorf("turn %s not found or expired", turnID)
		}
		return err
	}
	pending := agent.PendingFromState(peek)

	var decision agent.Decision
	switch pending.Reason {
	case turnstate.AwaitingInput:
		if flags.answers != "" {
			decision.Answers = json.RawMessage(flags.answers)
		} else if decision.Answers, err = runtime.PromptAnswers(reader, out, pending.Questions); err != nil {
			return fmt.Errorf("no answers given; turn %s left suspended", turnID)
		}
	default:
		switch {
		case flags.approve:
			decision.Approved = true
		case flags.deny:
			decision.Approved = false
		default:
			approved, decided := runtime.PromptApproval(reader, out, pending.ToolName, pending.Arguments, pending.MatchedRule)
			if !decided {
				return fmt.Errorf("no decision given; turn %s left suspended", turnID)
			}
			decision.Approved = approved
		}
	}

	state, err := r.Engine.TakeTurn(ctx, turnID)
	if err != nil {
		if bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound) {
			return fmt.Errorf("turn %s was resumed by someone else or expired", turnID)
		}
		return err
	}

	sess := r.Sessions.Open(ctx, agent.SessionOptions(state))
	hooks := runtime.NewTerminalHooks(reader, out, runtime.SystemPrompt(r.Config))
	res, err := r.Engine.ResumeTurn(ctx, hooks, sess, state, decision, agent.LoopConfigFrom(r.Config))
	if err != nil {
		return err
	}
	r.Sessions.Touch(sess)

	if res.Pending != nil {
		fmt.Fprintf(out, "turn suspended again (%s on %s). Resume with: brainpro resume %s\n",
			res.Pending.Reason, res.Pending.ToolName, res.Pending.TurnID)
		return nil
	}
	fmt.Fprintf(out, "[%d in / %d out tokens, %d tool uses]\n", res.Stats.InputTokens, res.Stats.OutputTokens, res.Stats.ToolUses)
	return nil
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("approve", false, "approve the pending tool call")
	resumeCmd.Flags().Bool("deny", false, "refuse the pending tool call")
	resumeCmd.Flags().String("answers", "", `answers as a JSON object keyed by question, e.g. '{"Which db?":"sqlite"}'`)
}
