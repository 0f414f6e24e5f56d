package coder

import (
	"fmt"
	"strings"

	"ticketsmith/pkg/tools"
	"ticketsmith/pkg/utils"
)

const systemPrompt = `You are an autonomous software engineer working inside a fresh clone of a git repository.
You implement an approved plan by calling tools, exactly one tool per reply.

Rules:
- Inspect before you edit: read the files you are about to change.
- write_file replaces the whole file, so always write the complete new content.
- Keep changes minimal and follow the repository's existing conventions.
- Use run_bash to search the code, build and run tests. A non-zero exit code is information, not a failure of the tool.
- Do NOT start dev servers or anything interactive (npm run dev, next dev, watch modes). Commands are killed after a timeout.
- Do NOT commit, push or create branches; that is done for you afterwards.
- If no test framework exists, do not add one.
- When every step of the plan is implemented, call done with a short summary of what changed.`

// BuildPrompt renders the first user message of a build.
func BuildPrompt(req *BuildRequest, rc *RepoContext, provider *tools.ToolProvider, maxRounds int) string {
	var sb strings.Builder

	sb.WriteString("I need you to implement the following change.\n\n")
	sb.WriteString("# Ticket\n")
	fmt.Fprintf(&sb, "**Title:** %s\n", req.Title)
	if req.IssueNumber > 0 {
		fmt.Fprintf(&sb, "**Issue:** #%d\n", req.IssueNumber)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		fmt.Fprintf(&sb, "**Description:**\n%s\n", desc)
	}

	sb.WriteString("\n# Implementation Plan\n")
	sb.WriteString(strings.TrimSpace(req.PlanContent))
	sb.WriteString("\n\n# Repository\n")
	fmt.Fprintf(&sb, "- Language: %s\n", rc.Language)
	if rc.BuildSystem != "" {
		fmt.Fprintf(&sb, "- Build system: %s\n", rc.BuildSystem)
	}
	if rc.TestFramework != "" {
		fmt.Fprintf(&sb, "- Test framework: %s\n", rc.TestFramework)
	}
	for _, cmd := range []struct{ label, value string }{
		{"Test command", rc.TestCommand},
		{"Build command", rc.BuildCommand},
		{"Lint command", rc.LintCommand},
	} {
		if cmd.value != "" {
			fmt.Fprintf(&sb, "- %s: `%s`\n", cmd.label, cmd.value)
		}
	}
	sb.WriteString("\n## Files\n```\n")
	sb.WriteString(rc.StructureSummary())
	sb.WriteString("\n```\n")
	sb.WriteString(utils.FormatRepoInstructions(&rc.Instructions, utils.AudienceCoder))
	sb.WriteString("\n")

	if provider != nil {
		sb.WriteString(provider.GenerateToolDocumentation())
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "You have at most %d tool calls. Start now.\n", maxRounds)
	return sb.String()
}
