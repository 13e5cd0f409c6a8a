package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration core. Every failure path surfaces
// exactly one of these (possibly wrapped) as the session's terminal reason.
var (
	// ErrDuplicateSession is returned by the registry when an identity already
	// has an active session. The existing session is never silently replaced.
	ErrDuplicateSession = errors.New("an active session already exists for this identity")

	// ErrInvalidTransition is returned when an input arrives in a state that
	// does not expect it. The session state is left untouched.
	ErrInvalidTransition = errors.New("input not valid in the current session state")

	// ErrSolverUnavailable is returned when no solver credential is configured.
	ErrSolverUnavailable = errors.New("challenge solver unavailable: no API key configured")

	// ErrChallengeUnsolvable is the terminal reason when the solver reports
	// the challenge cannot be solved.
	ErrChallengeUnsolvable = errors.New("challenge reported unsolvable by solver")

	// ErrChallengeTimedOut is the terminal reason when the poll budget is
	// exhausted while the solver still reports the challenge as pending.
	ErrChallengeTimedOut = errors.New("challenge resolution timed out")

	// ErrSessionExpired is the terminal reason for inactivity timeouts.
	ErrSessionExpired = errors.New("session expired due to inactivity")

	// ErrSessionCancelled is the terminal reason for explicit cancellation.
	ErrSessionCancelled = errors.New("session cancelled by user")

	// ErrActionFailed is the terminal reason when the primary terminal action
	// could not be performed.
	ErrActionFailed = errors.New("terminal action failed")

	// ErrInvalidCode is reported by the flow when the page explicitly
	// indicates the submitted OTP or second-factor code is wrong.
	ErrInvalidCode = errors.New("invalid code")
)

// DriverErrorKind classifies a failed driver operation.
type DriverErrorKind string

const (
	DriverElementNotFound DriverErrorKind = "element_not_found"
	DriverTimeout         DriverErrorKind = "timeout"
	DriverScriptError     DriverErrorKind = "script_error"
)

// DriverError wraps a failure reported by the driver adapter. The core never
// retries driver operations; the error is classified at the point of
// occurrence and surfaced verbatim as the session's failure reason.
type DriverError struct {
	Kind DriverErrorKind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver %s failed (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("driver %s failed (%s)", e.Op, e.Kind)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError builds a classified driver failure for the named operation.
func NewDriverError(kind DriverErrorKind, op string, err error) *DriverError {
	return &DriverError{Kind: kind, Op: op, Err: err}
}

// AsDriverError unwraps err into a *DriverError if one is in its chain.
func AsDriverError(err error) (*DriverError, bool) {
	var de *DriverError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
