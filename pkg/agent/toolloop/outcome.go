package toolloop

import (
	"fmt"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/tools"
)

// StepKind is the decision taken after one model reply.
type StepKind int

const (
	// StepContinue executes Call (or nudges the model when Call is nil) and starts another round.
	StepContinue StepKind = iota
	// StepDone means the model called the done tool.
	StepDone
	// StepExhausted means the round ceiling was reached.
	StepExhausted
)

// String returns human-readable name for StepKind.
func (k StepKind) String() string {
	switch k {
	case StepContinue:
		return "Continue"
	case StepDone:
		return "Done"
	case StepExhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("StepKind(%d)", k)
	}
}

// Step is the typed result of one round.
type Step struct {
	Kind   StepKind
	Round  int
	Call   *llm.ToolCall
	Result *tools.ExecResult
}

// Continue builds a Continue step for call. A nil call means the model replied without a tool.
func Continue(round int, call *llm.ToolCall) Step {
	return Step{Kind: StepContinue, Round: round, Call: call}
}

// OutcomeKind categorizes the result of a toolloop execution.
type OutcomeKind int

const (
	// OutcomeSuccess indicates the model signalled done. Data carries the done payload.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeIterationLimit indicates MaxRounds was reached without a done signal.
	OutcomeIterationLimit

	// OutcomeLLMError indicates the LLM client failed (network, API error, etc.).
	OutcomeLLMError

	// OutcomeCancelled indicates the context ended mid-loop.
	OutcomeCancelled
)

// String returns human-readable name for OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeIterationLimit:
		return "IterationLimit"
	case OutcomeLLMError:
		return "LLMError"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", k)
	}
}

// Outcome represents the result of a toolloop execution.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Outcome struct {
	Kind OutcomeKind

	// Data is the ProcessEffect payload of the done tool. Only set for OutcomeSuccess.
	Data map[string]any

	// Err is non-nil for every outcome except OutcomeSuccess.
	Err error

	// Rounds is the number of model calls made.
	Rounds int

	// ToolCalls is the number of tools executed, the done tool included.
	ToolCalls int
}

// Summary returns the done summary, if any.
func (o Outcome) Summary() string {
	s, _ := o.Data["summary"].(string)
	return s
}
