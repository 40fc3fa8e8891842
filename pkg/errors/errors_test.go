package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncError_Error(t *testing.T) {
	cause := stderrors.New("i/o timeout")

	err := NewConnectError(ReasonTimeout, "dial web-1:22", cause)
	assert.Equal(t, "connect (timeout): dial web-1:22: i/o timeout", err.Error())

	v := NewValidationError("project id is required")
	assert.Equal(t, "validation: project id is required", v.Error())
}

func TestIsTypeAndReason(t *testing.T) {
	inner := NewExecError(ReasonNonZeroExit, "find exited with status 1", nil)
	outer := NewIndexError(ReasonListingFailed, "listing /srv/app", inner)
	wrapped := fmt.Errorf("mapping web-1:/srv/app: %w", outer)

	assert.True(t, IsType(wrapped, ErrTypeIndex))
	assert.True(t, IsType(wrapped, ErrTypeExec))
	assert.False(t, IsType(wrapped, ErrTypeConnect))
	assert.Equal(t, ReasonListingFailed, ReasonOf(wrapped))

	assert.False(t, IsType(stderrors.New("plain"), ErrTypeIndex))
	assert.Empty(t, ReasonOf(stderrors.New("plain")))
	assert.True(t, stderrors.Is(wrapped, inner))
}
