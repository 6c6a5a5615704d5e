package main

import (
	"os"
	"strings"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"
	"github.com/jgarizk/brainpro/internal/policy"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run agent turns from the terminal",
	Long: `Without a prompt, starts an interactive session. With a prompt, runs one turn and exits.
Tools the policy marks "ask" are confirmed inline unless --yield-approvals is set, in which case the turn is suspended for "brainpro resume".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := replOptions(cmd)
		if err != nil {
			return err
		}

		return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
			repl := runtime.NewREPL(r, os.Stdin, os.Stdout, opts)
			if len(args) > 0 {
				return repl.RunOnce(r.Ctx, strings.Join(args, " "))
			}
			return repl.Start()
		})
	},
}

func replOptions(cmd *cobra.Command) (runtime.REPLOptions, error) {
	sessionID, _ := cmd.Flags().GetString("session")
	target, _ := cmd.Flags().GetString("target")
	planning, _ := cmd.Flags().GetBool("plan")
	yield, _ := cmd.Flags().GetBool("yield-approvals")
	deny, _ := cmd.Flags().GetStringArray("deny")
	allowOnly, _ := cmd.Flags().GetStringArray("allow-only")
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return runtime.REPLOptions{}, err
		}
		dir = wd
	}
	opts := runtime.REPLOptions{
		SessionID:      sessionID,
		Target:         target,
		WorkingDir:     dir,
		Planning:       planning,
		YieldApprovals: yield,
	}
	if len(deny)+len(allowOnly) > 0 {
		profile := policy.AgentPolicy{Deny: deny, AllowOnly: allowOnly}
		if err := policy.ValidateRestriction(profile); err != nil {
			return runtime.REPLOptions{}, err
		}
		opts.Profile = &profile
	}
	return opts, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("session", "", "session ID (default: new session)")
	runCmd.Flags().StringP("target", "t", "", "model target or alias (default: agent.default_target)")
	runCmd.Flags().String("dir", "", "working directory for tools (default: current directory)")
	runCmd.Flags().Bool("plan", false, "start in planning mode")
	runCmd.Flags().Bool("yield-approvals", false, "suspend instead of prompting when a tool needs approval")
	runCmd.Flags().StringArray("deny", nil, "deny tool patterns for this session, e.g. \"Bash(rm:*)\"")
	runCmd.Flags().StringArray("allow-only", nil, "offer only these tools in this session")
}
