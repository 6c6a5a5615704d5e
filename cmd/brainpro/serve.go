package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/jgarizk/brainpro/internal/config"
	"github.com/jgarizk/brainpro/internal/daemon"
	"github.com/jgarizk/brainpro/internal/daemon/components"
	"github.com/jgarizk/brainpro/internal/gateway"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gateway protocol",
	Long: `Starts the long-running daemon: HTTP gateway, policy file watcher and the suspended-turn pruner.
With --stdio, speaks the newline-delimited JSON protocol on stdin/stdout instead and exits at EOF.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stdio, _ := cmd.Flags().GetBool("stdio"); stdio {
			return executeWithRuntime(cmd, func(r *runtime.RuntimeComponents) error {
				return serveStdio(r)
			})
		}
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")
		return serveDaemon(cmd, forceClean)
	},
}

func serveStdio(r *runtime.RuntimeComponents) error {
	slog.Info("Serving gateway on stdio", "workspace", r.WorkspaceID)
	err := gateway.NewStdioServer(r.Controller, os.Stdin, os.Stdout).Serve(r.Ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveDaemon(cmd *cobra.Command, forceClean bool) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	workspaceID := runtime.ResolveWorkspaceID(cmd, cfg)

	d, err := buildDaemon(workspaceID)
	if err != nil {
		return err
	}
	d.SetForceCleanup(forceClean)

	slog.Info("brainpro daemon starting", "port", cfg.Server.Port, "workspace", workspaceID)
	err = d.Start(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	slog.Info("brainpro daemon stopped gracefully", "workspace", workspaceID)
	return nil
}

// buildDaemon registers the daemon components. Start order follows
// registration; the gateway comes last so it only accepts requests once
// everything it serves is running.
func buildDaemon(workspaceID string) (*daemon.Daemon, error) {
	d, err := daemon.NewDaemon(workspaceID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon manager: %w", err)
	}

	storeComp := components.NewStoreWorkerComponent(workspaceID, cfg)
	runtimeComp := runtime.NewDaemonRuntimeComponent(workspaceID, cfg, storeComp)
	watcherComp := components.NewPolicyWatcherComponent(cfg, runtimeComp)
	prunerComp := components.NewTurnPrunerComponent(cfg, runtimeComp)
	eventLogComp := components.NewEventLogComponent(runtimeComp)
	gatewayComp := components.NewGatewayComponentWithDependencies(d, &cfg.Server, runtimeComp,
		[]string{components.RuntimeName, watcherComp.Name(), prunerComp.Name()})

	d.AddComponent(storeComp)
	d.AddComponent(runtimeComp)
	d.AddComponent(eventLogComp)
	d.AddComponent(watcherComp)
	d.AddComponent(prunerComp)
	d.AddComponent(gatewayComp)
	return d, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("stdio", false, "serve the gateway protocol on stdin/stdout")
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "HTTP gateway port")
	serveCmd.Flags().Bool("force-clean-locks", false, "remove stale lock files older than daemon.stale_lock_ttl")
}
