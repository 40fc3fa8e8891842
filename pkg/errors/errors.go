package errors

import (
	stderrors "errors"
	"fmt"
)

// SyncError represents a drift-detection error
type SyncError struct {
	Type    string
	Reason  string
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	prefix := e.Type
	if e.Reason != "" {
		prefix = fmt.Sprintf("%s (%s)", e.Type, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Error type constants
const (
	ErrTypeValidation  = "validation"
	ErrTypeConnect     = "connect"
	ErrTypeExec        = "exec"
	ErrTypeAcquisition = "acquisition"
	ErrTypeIndex       = "index"
	ErrTypeFileSystem  = "filesystem"
	ErrTypeBusy        = "busy"
	ErrTypeUnknown     = "unknown"
)

// Error reason constants
const (
	ReasonTimeout       = "timeout"
	ReasonAuthFailure   = "authFailure"
	ReasonNetworkError  = "networkError"
	ReasonNonZeroExit   = "nonZeroExit"
	ReasonCloneFailed   = "cloneFailed"
	ReasonInvalidURL    = "invalidUrl"
	ReasonListingFailed = "listingFailed"
)

// NewValidationError creates a new validation error
func NewValidationError(message string) *SyncError {
	return &SyncError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

// NewConnectError creates a new connect error
func NewConnectError(reason, message string, err error) *SyncError {
	return &SyncError{
		Type:    ErrTypeConnect,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// NewExecError creates a new remote command error
func NewExecError(reason, message string, err error) *SyncError {
	return &SyncError{
		Type:    ErrTypeExec,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// NewAcquisitionError creates a new repository acquisition error
func NewAcquisitionError(reason, message string, err error) *SyncError {
	return &SyncError{
		Type:    ErrTypeAcquisition,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// NewIndexError creates a new indexing error
func NewIndexError(reason, message string, err error) *SyncError {
	return &SyncError{
		Type:    ErrTypeIndex,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// NewFileSystemError creates a new filesystem error
func NewFileSystemError(message string, err error) *SyncError {
	return &SyncError{
		Type:    ErrTypeFileSystem,
		Message: message,
		Err:     err,
	}
}

// NewBusyError creates a new error for work that is already running
func NewBusyError(message string) *SyncError {
	return &SyncError{
		Type:    ErrTypeBusy,
		Message: message,
	}
}

// IsType reports whether any SyncError in err's chain has the given type.
func IsType(err error, errType string) bool {
	var se *SyncError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == errType {
			return true
		}
		err = se.Err
	}
	return false
}

// ReasonOf returns the reason of the outermost SyncError in err's chain.
func ReasonOf(err error) string {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Reason
	}
	return ""
}
