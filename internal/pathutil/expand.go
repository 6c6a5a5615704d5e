package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// Resolve expands p and anchors it at base when it is relative.
func Resolve(base, p string) (string, error) {
	expanded, err := Expand(p)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(expanded) || base == "" {
		return expanded, nil
	}
	return filepath.Join(base, expanded), nil
}

// Within reports whether p lies inside root after cleaning both.
func Within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
