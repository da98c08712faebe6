package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentifier is returned when no user identifier can be resolved from a payload
	ErrMissingIdentifier = errors.New("missing user identifier")
	// ErrMalformedStorage marks persisted session data that cannot be decoded
	ErrMalformedStorage = errors.New("malformed session storage")
	// ErrCSRFMismatch is returned when the callback state does not match the issued state
	ErrCSRFMismatch = errors.New("csrf state mismatch")
	// ErrNoPendingState is returned when a callback arrives with no login in progress
	ErrNoPendingState = errors.New("no pending oauth state")
	// ErrNoSession is returned by operations that require a persisted session
	ErrNoSession = errors.New("no active broker session")
	// ErrUserMismatch is returned when an update names a different user than the active session
	ErrUserMismatch = errors.New("user does not match active session")
	// ErrProbeTimeout is recorded when a probe exceeds its deadline
	ErrProbeTimeout = errors.New("probe timed out")
	// ErrProbeConnectivity is recorded when a probe cannot reach its target
	ErrProbeConnectivity = errors.New("probe connectivity failure")
	// ErrInvalidPlan is returned when a verification plan cannot be run
	ErrInvalidPlan = errors.New("invalid verification plan")
)

// ValidationError describes a request or response that failed shape validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}
