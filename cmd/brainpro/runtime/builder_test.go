package runtime

import (
	"context"
	"testing"

	"github.com/jgarizk/brainpro/internal/config"
)

func TestBuilder_WithMethods(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}

	builder := NewRuntimeBuilder().
		WithContext(ctx).
		WithConfig(cfg).
		WithWorkspace("ws-" + t.Name())

	impl, ok := builder.(*DefaultRuntimeBuilder)
	if !ok {
		t.Fatal("Builder is not DefaultRuntimeBuilder")
	}
	if impl.ctx != ctx {
		t.Error("WithContext did not set context")
	}
	if impl.cfg != cfg {
		t.Error("WithConfig did not set config")
	}
	if impl.workspaceID != "ws-"+t.Name() {
		t.Error("WithWorkspace did not set workspaceID")
	}
	if impl.worker != nil {
		t.Error("worker should be unset")
	}
}

func TestBuilder_Build_MissingConfig(t *testing.T) {
	_, err := NewRuntimeBuilder().WithContext(context.Background()).Build()
	if err == nil {
		t.Error("Build() should return error when config is missing")
	}
}

func TestBuilder_Build_DefaultWorkspace(t *testing.T) {
	cfg := testConfig(t)

	components, err := NewRuntimeBuilder().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer components.Stop()

	if components.WorkspaceID != DefaultWorkspaceID {
		t.Errorf("WorkspaceID = %q, want %q", components.WorkspaceID, DefaultWorkspaceID)
	}
}
