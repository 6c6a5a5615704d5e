package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/policy"
	"github.com/jgarizk/brainpro/internal/skill"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect permission policies",
	Long:  `Show the effective policy stack, check how a tool call would be decided and read the decision audit log.`,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the policy stack",
	Long:  `Lists every rule set from the config and the policy file, lowest level first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		stack, err := policy.BuildStack(cfg)
		if err != nil {
			return err
		}
		return showPolicy(os.Stdout, stack, format)
	},
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <tool> [arguments-json]",
	Short: "Decide a tool call without running it",
	Long:  `Resolves a tool call against the policy stack as the turn engine would, including the permission mode.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		model, _ := cmd.Flags().GetString("model")

		var raw json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("arguments must be valid JSON")
			}
			raw = json.RawMessage(args[1])
		}

		stack, err := policy.BuildStack(cfg)
		if err != nil {
			return err
		}
		return checkPolicy(os.Stdout, stack, policyCheck{
			agentID: agentID,
			model:   model,
			tool:    args[0],
			args:    raw,
		})
	},
}

var policyModesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List permission modes",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, renderTable([]string{"Mode", "Effect on ask"}, [][]string{
			{string(policy.ModeDefault), "ask stays ask"},
			{string(policy.ModeAcceptEdits), "Write, Edit and ApplyPatch become allow"},
			{string(policy.ModeBypassPermissions), "every ask becomes allow; deny still wins"},
		}))
		return nil
	},
}

var policyAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recorded policy decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		toolName, _ := cmd.Flags().GetString("tool")
		sessionID, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		workspaceID := runtime.ResolveWorkspaceID(cmd, cfg)
		audit, err := policy.NewAuditLogger(workspaceID, cfg.Daemon.WorkspacePath, config.AuditConfig{Enabled: true})
		if err != nil {
			return err
		}
		entries, err := audit.Query(context.Background(), &policy.AuditFilter{ToolName: toolName, SessionID: sessionID})
		if err != nil {
			return err
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		return showAudit(os.Stdout, entries, format)
	},
}

func formatFlag(cmd *cobra.Command) (skill.OutputFormat, error) {
	raw, _ := cmd.Flags().GetString("format")
	return skill.ParseOutputFormat(raw)
}

func showPolicy(w io.Writer, stack *policy.Stack, format skill.OutputFormat) error {
	entries := stack.Entries()
	memberships := stack.Memberships()
	if format == skill.OutputFormatJSON {
		return writeJSON(w, map[string]any{"entries": entries, "memberships": memberships})
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No policies configured: every tool call asks.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		p := e.Policy
		mode := "-"
		if p.Mode != nil {
			mode = string(*p.Mode)
		}
		scope := e.Scope
		if scope == "" {
			scope = "*"
		}
		rows = append(rows, []string{
			e.Level.String(),
			scope,
			truncateString(joinOrDash(p.Allow), 30),
			truncateString(joinOrDash(p.Ask), 30),
			truncateString(joinOrDash(p.Deny), 30),
			truncateString(joinOrDash(p.AllowOnly), 20),
			strconv.Itoa(len(p.ModelRestrictions)),
			mode,
			strconv.FormatBool(p.Inherits()),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Level", "Scope", "Allow", "Ask", "Deny", "Allow only", "Restrictions", "Mode", "Inherit"}, rows))

	if len(memberships) > 0 {
		actors := make([]string, 0, len(memberships))
		for actor := range memberships {
			actors = append(actors, actor)
		}
		sort.Strings(actors)
		fmt.Fprintln(w, labelStyle.Render("Group memberships"))
		for _, actor := range actors {
			fmt.Fprintf(w, "  %s: %s\n", actor, joinOrDash(memberships[actor]))
		}
	}
	return nil
}

type policyCheck struct {
	agentID string
	model   string
	tool    string
	args    json.RawMessage
}

func checkPolicy(w io.Writer, stack *policy.Stack, c policyCheck) error {
	if c.agentID == "" && cfg != nil {
		c.agentID = cfg.Agent.ActorID
	}
	if c.agentID == "" {
		c.agentID = config.DefaultAgentActorID
	}
	if c.model != "" {
		stack = stack.Clone()
		stack.SetModel(c.model)
	}

	verdict := stack.Resolve(c.agentID, c.tool, c.args)
	mode := stack.EffectiveMode(c.agentID)
	final := policy.ApplyMode(verdict, mode, c.tool)

	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("decision:"), final.Decision)
	if final.Matched {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("rule:    "), final.Rule)
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("level:   "), final.Level)
	} else if final.Rule != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("rule:    "), final.Rule)
	} else {
		fmt.Fprintf(w, "%s no rule matched\n", labelStyle.Render("rule:    "))
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("mode:    "), mode)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("agent:   "), c.agentID)
	return nil
}

func showAudit(w io.Writer, entries []*policy.AuditEntry, format skill.OutputFormat) error {
	if format == skill.OutputFormatJSON {
		if entries == nil {
			entries = []*policy.AuditEntry{}
		}
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recorded decisions.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.SessionID,
			e.ToolName,
			string(e.Decision),
			truncateString(e.Rule, 30),
			e.Status,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Time", "Session", "Tool", "Decision", "Rule", "Status"}, rows))
	return nil
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd, policyCheckCmd, policyModesCmd, policyAuditCmd)

	policyShowCmd.Flags().String("format", "table", "output format (table, json)")
	policyCheckCmd.Flags().String("agent", "", "actor id to check as (default: agent.actor_id)")
	policyCheckCmd.Flags().String("model", "", "model id, for model restrictions")
	policyAuditCmd.Flags().String("format", "table", "output format (table, json)")
	policyAuditCmd.Flags().String("tool", "", "only this tool")
	policyAuditCmd.Flags().String("session", "", "only this session")
	policyAuditCmd.Flags().Int("limit", 50, "show at most this many recent entries")
}
