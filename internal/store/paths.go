package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jgarizk/brainpro/internal/pathutil"
)

// ResolveWorkspaceRootPath resolves configured workspace root path.
// If empty, it falls back to ~/.brainpro/workspaces.
func ResolveWorkspaceRootPath(workspaceRootPath string) (string, error) {
	if trimmed := strings.TrimSpace(workspaceRootPath); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".brainpro", "workspaces"), nil
}

// GetWorkspacePath returns the base path for a workspace.
func GetWorkspacePath(workspaceID string, workspaceRootPath string) (string, error) {
	root, err := ResolveWorkspaceRootPath(workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspaceID), nil
}

func workspaceSubdir(workspaceID, workspaceRootPath, name string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

// GetSessionsDir returns the sessions directory for a workspace.
func GetSessionsDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "sessions")
}

// GetTurnsDir returns the directory holding suspended turn snapshots.
func GetTurnsDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "turns")
}

// GetGovernanceDir returns the directory for the decision audit log.
func GetGovernanceDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "governance")
}

// GetRequestsPath returns the file remembering recent gateway request ids.
func GetRequestsPath(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "requests.json")
}

// GetLockPath returns the daemon lock file path for a workspace.
func GetLockPath(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "workspace.lock")
}

// GetSkillsDir returns the global skills directory.
func GetSkillsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".brainpro", "skills"), nil
}

// GetWorkspaceSkillsDir returns the workspace-specific skills directory.
func GetWorkspaceSkillsDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "skills")
}
