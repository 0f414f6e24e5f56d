package lifecycle

import (
	"errors"
	"fmt"

	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/persistence"
)

// ErrNotFound is returned when a project, plan, repository or feedback record does not exist.
// It is the persistence sentinel, so errors.Is works on errors from either layer.
var ErrNotFound = persistence.ErrNotFound

// AgentExhaustedError is returned by ApprovePlan when the coding agent produced nothing
// deliverable.
type AgentExhaustedError = coder.AgentExhaustedError

// TransientCollaboratorError wraps a failed inference or forge call. Re-invoking the same
// operation is safe; no local state was corrupted.
type TransientCollaboratorError struct {
	Err error
	Op  string
}

func (e *TransientCollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientCollaboratorError) Unwrap() error {
	return e.Err
}

// PreconditionError reports a transition the state machine refused. Callers should
// re-fetch the project rather than retry.
type PreconditionError struct {
	ProjectID string
	Op        string
	Observed  Status
	Reason    string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s on project %s: %s (status %s)", e.Op, e.ProjectID, e.Reason, e.Observed)
	}
	return fmt.Sprintf("%s on project %s: not allowed from status %s", e.Op, e.ProjectID, e.Observed)
}

// ReasonInProgress is the reason given to the loser of a concurrent approval.
const ReasonInProgress = "already in progress"

// PersistenceError reports a durable write that failed after an irreversible external
// effect (an issue or pull request was created). Detail identifies the external object
// so it can be reconciled by hand.
type PersistenceError struct {
	Err       error
	ProjectID string
	Op        string
	Detail    string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s on project %s failed after %s: %v", e.Op, e.ProjectID, e.Detail, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsTransient reports whether err is a TransientCollaboratorError.
func IsTransient(err error) bool {
	var te *TransientCollaboratorError
	return errors.As(err, &te)
}
