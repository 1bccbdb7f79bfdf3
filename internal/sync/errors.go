package sync

import "fmt"

// ErrorCode classifies sync failures for API mapping and logging.
type ErrorCode string

const (
	// ErrCodeConflict means a run is already in progress for the organization.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeOrgNotFound means the requested organization does not exist.
	ErrCodeOrgNotFound ErrorCode = "ORG_NOT_FOUND"
	// ErrCodeSourceUnavailable means the external system could not be reached
	// or rejected the request.
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	// ErrCodeInternal covers persistence and other unexpected failures.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is a structured sync failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a structured sync error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
