package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPlanning, true},
		{StatusPending, StatusClosed, true},
		{StatusPending, StatusExecuting, false},
		{StatusPlanning, StatusProvisioning, true},
		{StatusPlanning, StatusPending, false},
		{StatusProvisioning, StatusExecuting, true},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusFailed, true},
		{StatusExecuting, StatusPlanning, false},
		{StatusFailed, StatusProvisioning, true},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusClosed, false},
		{StatusClosed, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusProgress(t *testing.T) {
	assert.InDelta(t, 0.0, StatusPending.Progress(), 1e-9)
	assert.InDelta(t, 0.6, StatusExecuting.Progress(), 1e-9)
	assert.InDelta(t, 1.0, StatusFailed.Progress(), 1e-9)
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusExecuting.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("executing")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	pe := &PreconditionError{ProjectID: "p1", Op: "approve plan", Observed: StatusCompleted}
	assert.True(t, IsPrecondition(pe))
	assert.Contains(t, pe.Error(), "completed")

	te := &TransientCollaboratorError{Op: "create issue", Err: errors.New("HTTP 502")}
	assert.True(t, IsTransient(te))
	assert.False(t, IsPrecondition(te))
	assert.ErrorContains(t, te, "HTTP 502")
}
