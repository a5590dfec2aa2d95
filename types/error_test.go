package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrUnknownWorkflowType, "unknown workflow type \"magic\"")
	assert.Equal(t, `[UNKNOWN_WORKFLOW_TYPE] unknown workflow type "magic"`, err.Error())

	cause := errors.New("boom")
	wrapped := NewError(ErrStoreError, "save run").WithCause(cause)
	assert.Contains(t, wrapped.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestError_Retryable(t *testing.T) {
	err := NewError(ErrOracleError, "upstream flaked").WithRetryable(true)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	err := NewErrorf(ErrGoalRejected, "goal is not suitable for workflow type %q", "planning")
	assert.Equal(t, ErrGoalRejected, GetErrorCode(err))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))

	// Codes survive a fmt.Errorf %w wrap via errors.As.
	wrapped := fmt.Errorf("create failed: %w", err)
	var te *Error
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, ErrGoalRejected, te.Code)
}
