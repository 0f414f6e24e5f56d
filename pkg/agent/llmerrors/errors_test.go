package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("calling model: %w", NewErrorWithCause(ErrorTypeRateLimit, cause, "slow down"))

	assert.True(t, Is(err, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "LLM error (rate_limit): slow down")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrorTypeTransient, "").IsRetryable())
	assert.True(t, NewError(ErrorTypeEmptyResponse, "").IsRetryable())
	assert.False(t, NewError(ErrorTypeAuth, "").IsRetryable())
	assert.False(t, NewError(ErrorTypeBadPrompt, "").IsRetryable())
	assert.False(t, NewServiceUnavailableError(errors.New("x"), 3).IsRetryable())
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, ClassifyStatus(429))
	assert.Equal(t, ErrorTypeAuth, ClassifyStatus(401))
	assert.Equal(t, ErrorTypeBadPrompt, ClassifyStatus(400))
	assert.Equal(t, ErrorTypeTransient, ClassifyStatus(503))
	assert.Equal(t, ErrorTypeUnknown, ClassifyStatus(302))
}

func TestErrorMessageFallbacks(t *testing.T) {
	assert.Equal(t, "LLM error (transient): status 502", NewErrorWithStatus(ErrorTypeTransient, 502, "").Error())
	assert.Equal(t, "LLM error (auth): denied", (&Error{Type: ErrorTypeAuth, Err: errors.New("denied")}).Error())
	assert.True(t, IsServiceUnavailable(NewServiceUnavailableError(errors.New("x"), 2)))
}
