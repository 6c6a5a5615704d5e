package main

import (
	"fmt"
	"os"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/skill"

	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect skill packs",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	Long:  `Scans ~/.brainpro/skills, the workspace skills directory and skills.dirs from the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		idx := runtime.LoadSkills(cfg, runtime.ResolveWorkspaceID(cmd, cfg))
		out, err := skill.FormatSkills(idx.All(), format)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, out)
		for _, loadErr := range idx.Errors() {
			fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd)
	skillsListCmd.Flags().String("format", "table", "output format (table, json)")
}
