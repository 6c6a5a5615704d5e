package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jgarizk/brainpro/internal/config"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
version: 1
restrictions: [claude_limited_apply_patch]
global:
  deny: ["Bash(rm -rf:*)"]
groups:
  engineering:
    allow: ["Bash(go test:*)"]
agents:
  cleanup-agent:
    allow: ["Bash(rm:*)"]
    mode: accept-edits
subagents:
  main/explorer:
    allow_only: [Read, Glob, Grep]
    inherit: false
profiles:
  readonly:
    deny: [Write, Edit]
memberships:
  dev-bot: [engineering]
`

func TestParseFile_AppliesAllLevels(t *testing.T) {
	f, err := ParseFile([]byte(samplePolicy))
	require.NoError(t, err)

	s := NewStack()
	f.Apply(s)

	entries := s.Entries()
	require.Len(t, entries, 6)
	assert.Equal(t, LevelGlobal, entries[0].Level)
	assert.Equal(t, LevelProfile, entries[5].Level)

	assert.Equal(t, DecisionDeny, s.Resolve("", "Bash", args(t, map[string]any{"command": "rm -rf /"})).Decision)
	assert.Equal(t, DecisionAllow, s.Resolve("dev-bot", "Bash", args(t, map[string]any{"command": "go test ./..."})).Decision)
	assert.Equal(t, ModeAcceptEdits, s.EffectiveMode("cleanup-agent"))
	assert.Equal(t, DecisionDeny, s.Resolve("main/explorer", "Bash", nil).Decision)
	assert.Equal(t, DecisionDeny, s.Resolve("anyone", "Write", nil).Decision)

	s.SetModel("claude-sonnet-4")
	assert.Equal(t, DecisionDeny, s.Resolve("", "ApplyPatch", nil).Decision)
}

func TestParseFile_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":        "global: [",
		"bad version":     "version: 7",
		"bad pattern":     "global: {deny: [\"Bash(rm\"]}",
		"bad restriction": "restrictions: [nope]",
		"bad mode":        "agents: {a: {mode: yolo}}",
		"empty member":    "memberships: {bot: [\"\"]}",
		"empty model":     "global: {model_restrictions: [{model: \"\", tools: [X]}]}",
	}
	for name, doc := range cases {
		_, err := ParseFile([]byte(doc))
		assert.Error(t, err, name)
	}

	_, err := ParseFile([]byte("version: 7"))
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrInvalidInput))
}

func TestBuildStack_FromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0644))

	cfg := &config.Config{
		Permissions: config.PermissionsConfig{
			Mode:  "bypass",
			Allow: []string{"Read"},
		},
		Policy: config.PolicyConfig{File: path, BuiltinRestrictions: true},
	}

	s, err := BuildStack(cfg)
	require.NoError(t, err)

	s.SetModel("gpt-4o")
	v := s.Resolve("", "ApplyPatch", nil)
	assert.Equal(t, DecisionDeny, v.Decision)
	assert.Equal(t, "OpenAI models do not support ApplyPatch tool", v.Rule)

	assert.Equal(t, DecisionAllow, s.Resolve("", "Read", nil).Decision)
	assert.Equal(t, ModeBypassPermissions, s.EffectiveMode("main"))
	assert.Equal(t, DecisionAllow, s.Resolve("dev-bot", "Bash", args(t, map[string]any{"command": "go test"})).Decision)
}

func TestBuildStack_ConfigPermissionsOverrideFileGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global:\n  allow: [Bash, Write]\n  mode: bypass\n"), 0644))

	cfg := &config.Config{
		Permissions: config.PermissionsConfig{Mode: "accept-edits", Deny: []string{"Bash"}},
		Policy:      config.PolicyConfig{File: path},
	}
	s, err := BuildStack(cfg)
	require.NoError(t, err)

	v := s.Resolve("", "Bash", args(t, map[string]any{"command": "ls"}))
	assert.Equal(t, DecisionDeny, v.Decision)
	assert.Equal(t, "Bash", v.Rule)
	assert.Equal(t, DecisionAllow, s.Resolve("", "Write", nil).Decision, "file rules still apply where config is silent")
	assert.Equal(t, ModeAcceptEdits, s.EffectiveMode("main"))
}

func TestBuildStack_MissingFileKeepsConfigPermissions(t *testing.T) {
	cfg := &config.Config{
		Permissions: config.PermissionsConfig{Deny: []string{"Bash"}},
		Policy:      config.PolicyConfig{File: filepath.Join(t.TempDir(), "absent.yaml")},
	}
	s, err := BuildStack(cfg)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, s.Resolve("", "Bash", nil).Decision)
}

func TestBuildStack_MissingFileIsNotAnError(t *testing.T) {
	cfg := &config.Config{Policy: config.PolicyConfig{File: filepath.Join(t.TempDir(), "absent.yaml")}}

	s, err := BuildStack(cfg)
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
}

func TestBuildStack_BadModeIsConfigError(t *testing.T) {
	cfg := &config.Config{Permissions: config.PermissionsConfig{Mode: "sometimes"}}

	_, err := BuildStack(cfg)
	require.Error(t, err)
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrConfig))
}
