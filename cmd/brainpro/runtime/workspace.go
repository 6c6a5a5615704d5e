package runtime

import (
	"strings"

	"github.com/jgarizk/brainpro/internal/config"

	"github.com/spf13/cobra"
)

const DefaultWorkspaceID = config.DefaultDaemonWorkspaceID

// ResolveWorkspaceID prefers the --workspace flag, then daemon.workspace_id
// from the config.
func ResolveWorkspaceID(cmd *cobra.Command, cfg *config.Config) string {
	if cmd != nil {
		if flag := cmd.Flags().Lookup("workspace"); flag != nil {
			if id := strings.TrimSpace(flag.Value.String()); id != "" {
				return id
			}
		}
	}
	if cfg != nil && strings.TrimSpace(cfg.Daemon.WorkspaceID) != "" {
		return strings.TrimSpace(cfg.Daemon.WorkspaceID)
	}
	return DefaultWorkspaceID
}
