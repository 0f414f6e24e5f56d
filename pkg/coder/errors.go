package coder

import "fmt"

// Exhaustion reasons.
const (
	ReasonStepLimit = "step limit exceeded"
	ReasonNoChanges = "no changes produced"
)

// AgentExhaustedError is a terminal failure of one build attempt: the agent ran out of
// rounds without changing anything, or finished without producing a change.
type AgentExhaustedError struct {
	Reason string
	Rounds int
}

func (e *AgentExhaustedError) Error() string {
	return fmt.Sprintf("agent exhausted: %s after %d rounds", e.Reason, e.Rounds)
}
