package coder

import (
	"fmt"
	"strings"
)

const (
	planExcerptBytes   = 4000
	verificationBytes  = 2000
	prTitleMaxRunes    = 100
	generatedByTrailer = "Generated by ticketsmith"
)

// Verification is the outcome of the post-run test command.
type Verification struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Passed reports whether the command exited cleanly.
func (v *Verification) Passed() bool {
	return v != nil && v.ExitCode == 0 && !v.TimedOut
}

func prTitle(title string) string {
	t := "Fix: " + strings.TrimSpace(title)
	if r := []rune(t); len(r) > prTitleMaxRunes {
		t = string(r[:prTitleMaxRunes-3]) + "..."
	}
	return t
}

func commitMessage(req *BuildRequest) string {
	var sb strings.Builder
	sb.WriteString(prTitle(req.Title))
	if req.IssueNumber > 0 {
		fmt.Fprintf(&sb, "\n\nFixes #%d", req.IssueNumber)
	}
	sb.WriteString("\n\n" + generatedByTrailer)
	return sb.String()
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n_(truncated)_"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// prBody assembles the pull request description.
func prBody(req *BuildRequest, res *BuildResult) string {
	var sb strings.Builder

	sb.WriteString("## Summary\n")
	if req.IssueNumber > 0 {
		fmt.Fprintf(&sb, "Fixes #%d\n\n", req.IssueNumber)
	}
	summary := strings.TrimSpace(res.Summary)
	if summary == "" {
		summary = "Implements the approved plan."
	}
	sb.WriteString(summary + "\n")

	sb.WriteString("\n## Plan\n")
	sb.WriteString(excerpt(req.PlanContent, planExcerptBytes) + "\n")

	sb.WriteString("\n## Verification\n")
	if v := res.Verification; v == nil {
		sb.WriteString("No test command configured.\n")
	} else {
		status := "PASSED"
		if !v.Passed() {
			status = "FAILED"
		}
		fmt.Fprintf(&sb, "- **Tests** (`%s`): %s (exit %d)\n", v.Command, status, v.ExitCode)
		if out := excerpt(v.Output, verificationBytes); out != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", out)
		}
	}

	sb.WriteString("\n## Agent\n")
	fmt.Fprintf(&sb, "- Rounds used: %d of %d\n", res.Rounds, res.MaxRounds)
	if len(res.ChangedFiles) > 0 {
		sb.WriteString("- Files changed:\n")
		for _, f := range res.ChangedFiles {
			fmt.Fprintf(&sb, "  - `%s`\n", f)
		}
	}
	if res.StoppedAtLimit {
		sb.WriteString("- ⚠️ The agent reached its step limit before signalling completion; review carefully.\n")
	}

	sb.WriteString("\n---\n" + generatedByTrailer + "\n")
	return sb.String()
}
