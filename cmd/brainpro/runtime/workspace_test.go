package runtime

import (
	"testing"

	"github.com/jgarizk/brainpro/internal/config"

	"github.com/spf13/cobra"
)

func TestResolveWorkspaceID(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("workspace", "", "")

	if got := ResolveWorkspaceID(cmd, nil); got != DefaultWorkspaceID {
		t.Errorf("no flag, no config: got %q", got)
	}

	cfg := &config.Config{Daemon: config.DaemonConfig{WorkspaceID: "from-config"}}
	if got := ResolveWorkspaceID(cmd, cfg); got != "from-config" {
		t.Errorf("config fallback: got %q", got)
	}

	if err := cmd.Flags().Set("workspace", "from-flag"); err != nil {
		t.Fatal(err)
	}
	if got := ResolveWorkspaceID(cmd, cfg); got != "from-flag" {
		t.Errorf("flag: got %q", got)
	}

	if got := ResolveWorkspaceID(&cobra.Command{Use: "bare"}, nil); got != DefaultWorkspaceID {
		t.Errorf("command without flag: got %q", got)
	}
}
