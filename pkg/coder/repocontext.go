package coder

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/utils"
)

// MaxStructurePaths caps the file listing included in the prompt.
const MaxStructurePaths = 200

// RepoContext is what the agent is told about the repository up front.
type RepoContext struct {
	Language      string                 `json:"language"`
	TestFramework string                 `json:"test_framework,omitempty"`
	BuildSystem   string                 `json:"build_system,omitempty"`
	TestCommand   string                 `json:"test_command,omitempty"`
	BuildCommand  string                 `json:"build_command,omitempty"`
	LintCommand   string                 `json:"lint_command,omitempty"`
	Structure     []string               `json:"structure"`
	TotalFiles    int                    `json:"total_files"`
	Instructions  utils.RepoInstructions `json:"instructions"`
}

// Commands are the repository's configured commands; non-empty values override detection.
type Commands struct {
	Test  string
	Build string
	Lint  string
}

// skipDirs are never listed.
//
//nolint:gochecknoglobals // static lookup table
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"dist":         true,
}

// DetectRepoContext inspects marker files at the repository root and lists up to
// MaxStructurePaths files in sorted order.
func DetectRepoContext(root string, overrides Commands) RepoContext {
	rc := RepoContext{Language: "unknown"}

	has := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, name))
		return err == nil
	}

	switch {
	case has("go.mod"):
		rc.Language, rc.BuildSystem, rc.TestFramework = "go", "go", "go test"
		rc.TestCommand, rc.BuildCommand = "go test ./...", "go build ./..."
	case has("Cargo.toml"):
		rc.Language, rc.BuildSystem, rc.TestFramework = "rust", "cargo", "cargo test"
		rc.TestCommand, rc.BuildCommand = "cargo test", "cargo build"
	case has("package.json"):
		rc.Language, rc.BuildSystem = "javascript", "npm"
		if has("tsconfig.json") {
			rc.Language = "typescript"
		}
		pkg, _ := os.ReadFile(filepath.Join(root, "package.json"))
		switch {
		case has("jest.config.js") || strings.Contains(string(pkg), "jest"):
			rc.TestFramework = "jest"
		case strings.Contains(string(pkg), "vitest"):
			rc.TestFramework = "vitest"
		}
		rc.TestCommand, rc.BuildCommand = "npm test", "npm run build"
	case has("pyproject.toml") || has("requirements.txt"):
		rc.Language, rc.BuildSystem, rc.TestFramework = "python", "pip", "pytest"
		rc.TestCommand = "pytest"
	}

	if overrides.Test != "" {
		rc.TestCommand = overrides.Test
	}
	if overrides.Build != "" {
		rc.BuildCommand = overrides.Build
	}
	if overrides.Lint != "" {
		rc.LintCommand = overrides.Lint
	}

	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(paths)
	rc.TotalFiles = len(paths)
	if len(paths) > MaxStructurePaths {
		paths = paths[:MaxStructurePaths]
	}
	rc.Structure = paths

	return rc
}

// StructureSummary renders the file listing for the prompt.
func (rc *RepoContext) StructureSummary() string {
	if len(rc.Structure) == 0 {
		return "No files listed"
	}
	summary := strings.Join(rc.Structure, "\n")
	if rc.TotalFiles > len(rc.Structure) {
		summary += "\n... (" + strconv.Itoa(rc.TotalFiles-len(rc.Structure)) + " more files)"
	}
	return summary
}

// loadInstructions attaches the repository's .ticketsmith instruction files. Files that
// cannot be used are skipped with a warning.
func (rc *RepoContext) loadInstructions(root string, logger *logx.Logger) {
	instructions, err := utils.LoadRepoInstructions(root)
	if err != nil {
		logger.Warn("Ignoring repository instructions: %v", err)
	}
	rc.Instructions = instructions
}
