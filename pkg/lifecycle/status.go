package lifecycle

import (
	"fmt"

	"ticketsmith/pkg/persistence"
)

// Status is a project's lifecycle state.
type Status string

// Lifecycle states, stored verbatim in the projects table.
const (
	StatusPending      Status = persistence.StatusPending
	StatusPlanning     Status = persistence.StatusPlanning
	StatusProvisioning Status = persistence.StatusProvisioning
	StatusExecuting    Status = persistence.StatusExecuting
	StatusCompleted    Status = persistence.StatusCompleted
	StatusFailed       Status = persistence.StatusFailed
	StatusClosed       Status = persistence.StatusClosed
)

// transitions is the only place allowed status changes are defined.
//
//nolint:gochecknoglobals // static transition table
var transitions = map[Status][]Status{
	StatusPending:      {StatusPlanning, StatusClosed},
	StatusPlanning:     {StatusProvisioning, StatusClosed},
	StatusProvisioning: {StatusExecuting, StatusClosed},
	StatusExecuting:    {StatusCompleted, StatusFailed, StatusClosed},
	StatusFailed:       {StatusProvisioning, StatusClosed},
	StatusCompleted:    nil,
	StatusClosed:       nil,
}

// progress is the coarse completion fraction reported for each state.
//
//nolint:gochecknoglobals // static lookup table
var progress = map[Status]float64{
	StatusPending:      0,
	StatusPlanning:     0.2,
	StatusProvisioning: 0.3,
	StatusExecuting:    0.6,
	StatusCompleted:    1,
	StatusFailed:       1,
	StatusClosed:       1,
}

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown project status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no core-driven transition leaves s. Failed is terminal for
// the build attempt; only an explicit plan approval moves it again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusClosed
}

// Progress returns the completion fraction shown by the coder status view.
func (s Status) Progress() float64 {
	return progress[s]
}

func (s Status) String() string {
	return string(s)
}
