package schemas

import "time"

// SessionState identifies where a verification session currently sits in its
// lifecycle. Transitions move strictly forward through the happy path;
// StateFailed and StateExpired are reachable from any non-terminal state.
type SessionState string

const (
	StateCreated          SessionState = "CREATED"
	StateEmailSubmitted   SessionState = "EMAIL_SUBMITTED"
	StateChallengePending SessionState = "CHALLENGE_PENDING"
	StateOTPPending       SessionState = "OTP_PENDING"
	StateTwoFactorPending SessionState = "TWOFA_PENDING"
	StateActionPending    SessionState = "ACTION_PENDING"
	StateCompleted        SessionState = "COMPLETED"
	StateFailed           SessionState = "FAILED"
	StateExpired          SessionState = "EXPIRED"
)

// Terminal reports whether the state ends the session. Once a session reaches
// a terminal state its driver handle has been (or is about to be) released and
// no further input is accepted.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// InputKind enumerates the user-originated inputs a session accepts.
type InputKind string

const (
	InputSubmitEmail     InputKind = "submit_email"
	InputSubmitOTP       InputKind = "submit_otp"
	InputSubmitTwoFactor InputKind = "submit_twofactor"
)

// Input is a single user-supplied message routed to a session's worker.
// Cancellation is deliberately not an Input: it must preempt in-flight work
// rather than queue behind it, so it travels out-of-band.
type Input struct {
	Kind InputKind
	Text string
}

// Result is the terminal outcome of a session.
type Result struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Event is one entry in the ordered stream of per-session notifications
// delivered to the front-end adapter.
type Event struct {
	// Identity is the opaque user key the session belongs to.
	Identity string
	// SessionID is the unique ID of the session instance.
	SessionID string
	// State is the session state after the event.
	State SessionState
	// Reason carries a human-readable explanation on failures and rejections.
	Reason string
	// Rejected marks an input that arrived in a non-matching state. The
	// session state is unchanged when Rejected is set.
	Rejected bool
	// Result is populated exactly once, on the terminal event.
	Result *Result
	// At is the event timestamp.
	At time.Time
}
