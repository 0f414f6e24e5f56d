package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// InstructionsDir is the directory inside a target repository that holds agent instructions.
	InstructionsDir = ".ticketsmith"

	// CommonInstructionsFile applies to every agent.
	CommonInstructionsFile = "COMMON.md"
	// CoderInstructionsFile applies to the coding agent.
	CoderInstructionsFile = "CODER.md"
	// PlannerInstructionsFile applies to plan generation and issue enrichment.
	PlannerInstructionsFile = "PLANNER.md"

	// InstructionsTokenLimit caps each file (2000 tokens ~ 8000 chars).
	InstructionsTokenLimit = 2000
	// InstructionsCharLimit is checked before tokenizing.
	InstructionsCharLimit = 8000
)

// InstructionsAudience selects which agent-specific file FormatRepoInstructions includes.
type InstructionsAudience string

// Audiences.
const (
	AudienceCoder   InstructionsAudience = "coder"
	AudiencePlanner InstructionsAudience = "planner"
)

// RepoInstructions holds the content of a repository's instruction files.
type RepoInstructions struct {
	Common  string `json:"common,omitempty"`
	Coder   string `json:"coder,omitempty"`
	Planner string `json:"planner,omitempty"`
}

// LoadRepoInstructions reads the instruction files under root/.ticketsmith. Missing files
// are empty. An unreadable file or one over the size limits is an error; the other files
// are still returned.
func LoadRepoInstructions(root string) (RepoInstructions, error) {
	var instructions RepoInstructions
	var errs []error

	for filename, target := range map[string]*string{
		CommonInstructionsFile:  &instructions.Common,
		CoderInstructionsFile:   &instructions.Coder,
		PlannerInstructionsFile: &instructions.Planner,
	} {
		content, err := os.ReadFile(filepath.Join(root, InstructionsDir, filename))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to read %s: %w", filename, err))
			}
			continue
		}

		text := strings.TrimSpace(string(content))
		if len(text) > InstructionsCharLimit {
			errs = append(errs, fmt.Errorf("%s exceeds character limit of %d (current: %d)", filename, InstructionsCharLimit, len(text)))
			continue
		}
		if tokens := CountTokensSimple(text); tokens > InstructionsTokenLimit {
			errs = append(errs, fmt.Errorf("%s exceeds token limit of %d (current: %d)", filename, InstructionsTokenLimit, tokens))
			continue
		}
		*target = text
	}

	return instructions, errors.Join(errs...)
}

// IsEmpty reports whether no instruction file had content.
func (r *RepoInstructions) IsEmpty() bool {
	return r == nil || (r.Common == "" && r.Coder == "" && r.Planner == "")
}

// FormatRepoInstructions renders the common file plus the audience's file for a prompt.
// Returns "" when there is nothing to add.
func FormatRepoInstructions(r *RepoInstructions, audience InstructionsAudience) string {
	if r.IsEmpty() {
		return ""
	}

	var parts []string
	if r.Common != "" {
		parts = append(parts, "## Repository Instructions\n"+r.Common)
	}
	specific := ""
	switch audience {
	case AudienceCoder:
		specific = r.Coder
	case AudiencePlanner:
		specific = r.Planner
	}
	if specific != "" {
		parts = append(parts, "## Agent-Specific Instructions\n"+specific)
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n---\n" + strings.Join(parts, "\n\n") + "\n"
}
