package main

import (
	"context"
	"fmt"

	"github.com/jgarizk/brainpro/cmd/brainpro/runtime"

	"github.com/spf13/cobra"
)

// executeWithRuntime builds a runtime for one command and tears it down
// afterwards. The context is cancelled on SIGINT or SIGTERM.
func executeWithRuntime(cmd *cobra.Command, fn func(*runtime.RuntimeComponents) error) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	workspaceID := runtime.ResolveWorkspaceID(cmd, cfg)

	signals := NewSignalHandler(context.Background())
	signals.Start()
	defer signals.Stop()

	components, err := runtime.NewRuntimeBuilder().
		WithContext(signals.Context()).
		WithConfig(cfg).
		WithWorkspace(workspaceID).
		Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Stop()

	return fn(components)
}
