package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveInWorkspace maps a model-supplied path to an absolute path inside root.
// Paths that escape root, directly or through a symlink, are rejected.
func resolveInWorkspace(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}
	if resolved, evalErr := filepath.EvalSymlinks(absRoot); evalErr == nil {
		absRoot = resolved
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(absRoot, full)
	}
	full = filepath.Clean(full)
	if !within(absRoot, full) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}

	// Walk up to the nearest existing ancestor and make sure symlinks keep us inside.
	existing := full
	for {
		if _, statErr := os.Lstat(existing); statErr == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	if resolved, evalErr := filepath.EvalSymlinks(existing); evalErr == nil && !within(absRoot, resolved) {
		return "", fmt.Errorf("path %q resolves outside the workspace", path)
	}

	rel, _ := filepath.Rel(absRoot, full)
	if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is inside .git", path)
	}
	return full, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
