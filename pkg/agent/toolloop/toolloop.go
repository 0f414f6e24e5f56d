// Package toolloop runs the bounded tool-calling loop of the coding agent:
// one model decision and at most one executed tool per round.
package toolloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/tools"
)

// NudgeNoTool is sent back when the model answers without calling a tool.
const NudgeNoTool = "You must call exactly one tool in every reply. Continue with the plan, or call done if every step is implemented."

// ToolProvider interface defines what toolloop needs from a tool provider.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
	Definitions() []tools.ToolDefinition
}

// ToolLoop manages LLM interactions with tool calling.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a new ToolLoop instance.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	if logger == nil {
		logger = logx.NewLogger("toolloop")
	}
	return &ToolLoop{
		llmClient: llmClient,
		logger:    logger,
	}
}

// Config defines how the tool loop behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	SystemPrompt  string
	InitialPrompt string

	ToolProvider ToolProvider

	// MaxRounds is the hard ceiling on model calls.
	MaxRounds int

	// MaxTokens per LLM request.
	MaxTokens int

	Temperature float32

	// TranscriptTokens is the budget above which old tool results are compacted.
	TranscriptTokens int

	// OnStep is called after every executed round (optional).
	OnStep func(step Step)

	DebugLogging bool
}

// Run executes the loop until the model calls done, the round ceiling is reached,
// the model client fails, or ctx ends.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) Outcome {
	if cfg.ToolProvider == nil {
		return Outcome{Kind: OutcomeLLMError, Err: fmt.Errorf("ToolProvider is required")}
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 25
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	toolDefs := cfg.ToolProvider.Definitions()
	tr := newTranscript(cfg.SystemPrompt, cfg.InitialPrompt)
	out := Outcome{}

	for round := 1; ; round++ {
		if round > cfg.MaxRounds {
			tl.logger.Warn("⚠️  Maximum rounds (%d) reached", cfg.MaxRounds)
			tl.emit(cfg, Step{Kind: StepExhausted, Round: cfg.MaxRounds})
			out.Kind = OutcomeIterationLimit
			out.Err = ErrIterationLimit
			return out
		}
		if err := ctx.Err(); err != nil {
			out.Kind = OutcomeCancelled
			out.Err = fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
			return out
		}

		if n := tr.compact(cfg.TranscriptTokens); n > 0 {
			tl.logger.Info("🗜️  Compacted %d old tool results (transcript now ~%d tokens)", n, tr.total())
		}

		req := llm.CompletionRequest{
			Messages:    tr.snapshot(),
			Tools:       toolDefs,
			ToolChoice:  llm.ToolChoiceAny,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		tl.logger.Info("🔄 Round %d/%d: calling model '%s' with %d messages",
			round, cfg.MaxRounds, tl.llmClient.GetModelName(), len(req.Messages))
		if cfg.DebugLogging {
			tl.logMessages(req.Messages)
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		out.Rounds = round
		if err != nil {
			tl.logger.Error("❌ LLM call failed after %.3gs: %v", time.Since(start).Seconds(), err)
			if ctx.Err() != nil {
				out.Kind = OutcomeCancelled
				out.Err = fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
				return out
			}
			out.Kind = OutcomeLLMError
			out.Err = fmt.Errorf("LLM completion failed: %w", err)
			return out
		}

		step := tl.decide(round, &resp)
		tr.addAssistant(resp.Content, step.Call)

		if step.Call == nil {
			tl.logger.Info("Model replied without a tool call, nudging")
			tr.addNudge(NudgeNoTool)
			tl.emit(cfg, step)
			continue
		}

		result, err := tl.execute(ctx, cfg.ToolProvider, step.Call)
		if err != nil {
			out.Kind = OutcomeCancelled
			out.Err = fmt.Errorf("%w: %w", ErrGracefulShutdown, err)
			return out
		}
		out.ToolCalls++
		step.Result = result
		tr.addResult(step.Call.Name, result.Content)

		if result.ProcessEffect != nil && result.ProcessEffect.Signal == tools.SignalDone {
			step.Kind = StepDone
			tl.emit(cfg, step)
			tl.logger.Info("✅ Done signalled after %d rounds", round)
			out.Kind = OutcomeSuccess
			out.Data = result.ProcessEffect.Data
			return out
		}
		tl.emit(cfg, step)
	}
}

// decide turns a model reply into a Continue step. Only the first tool call of a
// reply is executed; the rest are dropped.
func (tl *ToolLoop) decide(round int, resp *llm.CompletionResponse) Step {
	if len(resp.ToolCalls) == 0 {
		return Continue(round, nil)
	}
	if len(resp.ToolCalls) > 1 {
		tl.logger.Warn("Model requested %d tool calls in one reply; executing only %s",
			len(resp.ToolCalls), resp.ToolCalls[0].Name)
	}
	call := resp.ToolCalls[0]
	return Continue(round, &call)
}

// execute runs one tool. Tool failures are returned to the model as data; only
// context cancellation aborts the loop.
func (tl *ToolLoop) execute(ctx context.Context, provider ToolProvider, call *llm.ToolCall) (*tools.ExecResult, error) {
	tool, err := provider.Get(call.Name)
	if err != nil {
		tl.logger.Error("Failed to get tool %s: %v", call.Name, err)
		return &tools.ExecResult{Content: fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())}, nil
	}

	start := time.Now()
	result, err := tool.Exec(ctx, call.Parameters)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		tl.logger.Error("Tool %s failed after %.3fs: %v", call.Name, duration.Seconds(), err)
		return &tools.ExecResult{Content: fmt.Sprintf(`{"success":false,"error":%q}`, "Tool failed: "+err.Error())}, nil
	}
	if result == nil {
		result = &tools.ExecResult{Content: `{"success":true}`}
	}
	tl.logger.Info("Tool %s completed in %.3fs", call.Name, duration.Seconds())
	return result, nil
}

func (tl *ToolLoop) emit(cfg *Config, step Step) {
	if cfg.OnStep != nil {
		cfg.OnStep(step)
	}
}

// logMessages logs detailed message information for debugging.
func (tl *ToolLoop) logMessages(messages []llm.CompletionMessage) {
	tl.logger.Info("📝 DEBUG - Messages sent to LLM:")
	for i := range messages {
		preview := messages[i].Content
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		tl.logger.Info("  [%d] Role: %s, Content: %q", i, messages[i].Role, preview)
	}
}
