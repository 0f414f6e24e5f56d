// Package planner turns tickets into implementation plans and polishes issue text
// before it is filed.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/utils"
)

// MaxTitleRunes caps issue titles produced by enrichment.
const MaxTitleRunes = 80

// maxInputTokens bounds the ticket description fed to a single prompt.
const maxInputTokens = 6000

// IssueText is the title and markdown body of an issue.
type IssueText struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// PlanInput describes the ticket a plan is generated for.
type PlanInput struct {
	Title       string
	Description string
	Owner       string
	Repo        string
	Branch      string

	// Context is optional; without it the plan is based on the ticket alone.
	Context *coder.RepoContext
}

// Planner generates plans with the planning model and rewrites issue text with the
// utility model.
type Planner struct {
	planClient    llm.LLMClient
	utilityClient llm.LLMClient
	counter       *utils.TokenCounter
	logger        *logx.Logger
	temperature   float32
}

// New creates a planner. utilityClient may be nil, in which case planClient serves both.
func New(planClient, utilityClient llm.LLMClient) *Planner {
	if utilityClient == nil {
		utilityClient = planClient
	}
	counter, err := utils.NewTokenCounter(planClient.GetModelName())
	logger := logx.NewLogger("planner")
	if err != nil {
		logger.Warn("Token counter unavailable, using estimates: %v", err)
	}
	return &Planner{
		planClient:    planClient,
		utilityClient: utilityClient,
		counter:       counter,
		logger:        logger,
		temperature:   llm.TemperatureDefault,
	}
}

// WithTemperature returns a copy of the planner that samples plans at t.
func (p *Planner) WithTemperature(t float32) *Planner {
	clone := *p
	clone.temperature = t
	return &clone
}

// GeneratePlan makes one inference call and returns the plan markdown.
func (p *Planner) GeneratePlan(ctx context.Context, in *PlanInput) (string, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(planSystemPrompt),
		llm.NewUserMessage(p.planPrompt(in)),
	})
	req.MaxTokens = config.DefaultPlanMaxTokens
	req.Temperature = p.temperature

	resp, err := p.planClient.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("plan generation: %w", err)
	}
	plan := strings.TrimSpace(resp.Content)
	if plan == "" {
		return "", fmt.Errorf("plan generation: model returned no content")
	}
	p.logger.Info("Generated plan for %q (%d tokens)", in.Title, p.counter.CountTokens(plan))
	return plan, nil
}

func (p *Planner) planPrompt(in *PlanInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User Feedback:\n\n%s\n", in.Title)
	if desc := strings.TrimSpace(in.Description); desc != "" {
		sb.WriteString("\n" + p.counter.TruncateToTokenLimit(desc, maxInputTokens) + "\n")
	}

	branch := in.Branch
	if branch == "" {
		branch = "main"
	}
	fmt.Fprintf(&sb, "\n# Repository Context\n\nRepository: %s/%s\nBranch: %s\n", in.Owner, in.Repo, branch)
	if rc := in.Context; rc != nil {
		fmt.Fprintf(&sb, "Primary Language: %s\nTest Framework: %s\nBuild System: %s\n\n",
			rc.Language, orUnknown(rc.TestFramework), orUnknown(rc.BuildSystem))
		sb.WriteString("## Repository Structure\n```\n" + rc.StructureSummary() + "\n```\n")
		sb.WriteString(utils.FormatRepoInstructions(&rc.Instructions, utils.AudiencePlanner))
	}

	sb.WriteString(planInstructions)
	return sb.String()
}

// EnrichIssue rewrites the issue with repository context. Any failure returns the input
// unchanged.
func (p *Planner) EnrichIssue(ctx context.Context, in IssueText, rc *coder.RepoContext) IssueText {
	var sb strings.Builder
	sb.WriteString("You are enriching a GitHub issue with specific codebase context.\n\n")
	fmt.Fprintf(&sb, "**Original Issue Title:** %s\n\n", in.Title)
	fmt.Fprintf(&sb, "**Original Issue Description:**\n%s\n\n", p.counter.TruncateToTokenLimit(in.Description, maxInputTokens))
	if rc != nil {
		fmt.Fprintf(&sb, "**Repository Context:**\n- Primary Language: %s\n- Test Framework: %s\n- Build System: %s\n\n",
			rc.Language, orNotDetected(rc.TestFramework), orNotDetected(rc.BuildSystem))
		sb.WriteString("**Repository Structure:**\n```\n" + rc.StructureSummary() + "\n```\n\n")
	}
	sb.WriteString(enrichInstructions)

	return p.rewriteIssue(ctx, "enrich", enrichSystemPrompt, sb.String(), in)
}

// VerifyFormatting cleans the issue markdown. Any failure returns the input unchanged.
func (p *Planner) VerifyFormatting(ctx context.Context, in IssueText) IssueText {
	prompt := fmt.Sprintf("Title: %s\nDescription: %s\n\n%s", in.Title, in.Description, verifyInstructions)
	return p.rewriteIssue(ctx, "verify", jsonOnlySystemPrompt, prompt, in)
}

func (p *Planner) rewriteIssue(ctx context.Context, op, system, prompt string, fallback IssueText) IssueText {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(prompt),
	})
	req.MaxTokens = 1500
	req.Temperature = llm.TemperatureDeterministic

	resp, err := p.utilityClient.Complete(ctx, req)
	if err != nil {
		p.logger.Warn("⚠️ Issue %s failed, keeping original text: %v", op, err)
		return capTitle(fallback)
	}

	out, err := ParseIssueJSON(resp.Content)
	if err != nil {
		p.logger.Warn("⚠️ Issue %s returned unusable JSON, keeping original text: %v", op, err)
		return capTitle(fallback)
	}
	if out.Title == "" {
		out.Title = fallback.Title
	}
	if out.Description == "" {
		out.Description = fallback.Description
	}
	return capTitle(out)
}

// Classification is the ticket metadata derived from a feedback summary.
type Classification struct {
	Title         string `json:"title"`
	TicketType    string `json:"ticket_type"`
	SeverityScore int    `json:"severity_score"`
}

// Classify derives a title, ticket type and severity for a feedback summary with the
// utility model. Any failure falls back to the summary's first line as the title, a
// feature ticket and severity 0.
func (p *Planner) Classify(ctx context.Context, summary string) Classification {
	fallback := Classification{
		Title:      capTitle(IssueText{Title: firstLine(summary)}).Title,
		TicketType: persistence.TicketFeature,
	}

	prompt := fmt.Sprintf("Feedback summary:\n%s\n\n%s",
		p.counter.TruncateToTokenLimit(summary, maxInputTokens), classifyInstructions)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(jsonOnlySystemPrompt),
		llm.NewUserMessage(prompt),
	})
	req.MaxTokens = 300
	req.Temperature = llm.TemperatureDeterministic

	resp, err := p.utilityClient.Complete(ctx, req)
	if err != nil {
		p.logger.Warn("⚠️ Feedback classification failed, using defaults: %v", err)
		return fallback
	}
	var out Classification
	if err := decodeJSONObject(resp.Content, &out); err != nil {
		p.logger.Warn("⚠️ Feedback classification returned unusable JSON, using defaults: %v", err)
		return fallback
	}

	out.Title = capTitle(IssueText{Title: out.Title}).Title
	if out.Title == "" {
		out.Title = fallback.Title
	}
	out.TicketType = strings.ToLower(strings.TrimSpace(out.TicketType))
	if !persistence.IsValidTicketType(out.TicketType) {
		out.TicketType = fallback.TicketType
	}
	out.SeverityScore = min(max(out.SeverityScore, 0), MaxSeverityScore)
	return out
}

// MaxSeverityScore bounds classified severities. Scores above 100 are high priority.
const MaxSeverityScore = 200

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// decodeJSONObject decodes the first JSON object in raw, tolerating a surrounding
// markdown fence or prose.
func decodeJSONObject(raw string, v any) error {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	return nil
}

// ParseIssueJSON decodes a {"title","description"} object, tolerating a surrounding
// markdown fence or prose.
func ParseIssueJSON(raw string) (IssueText, error) {
	var out IssueText
	if err := decodeJSONObject(raw, &out); err != nil {
		return out, err
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Description = strings.TrimSpace(out.Description)
	return out, nil
}

func capTitle(in IssueText) IssueText {
	title := strings.Join(strings.Fields(in.Title), " ")
	if r := []rune(title); len(r) > MaxTitleRunes {
		title = strings.TrimSpace(string(r[:MaxTitleRunes]))
	}
	in.Title = title
	return in
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orNotDetected(s string) string {
	if s == "" {
		return "Not detected"
	}
	return s
}
