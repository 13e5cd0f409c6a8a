package schemas

import (
	"context"
	"time"
)

// -- Driver Adapter (consumed) --

// Driver is the capability surface the core requires from a remote, stateful
// automation handle. Elements are addressed by selector; a selector that has
// been waited on acts as the handle for subsequent operations. Every
// operation may fail with a *DriverError of kind ElementNotFound, Timeout or
// ScriptError, and all of them are synchronous from the caller's perspective.
//
// A Driver is exclusively owned by one session. Close releases the underlying
// resources and is safe to call more than once.
type Driver interface {
	// Navigate loads the given URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching the selector is visible, or
	// the timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Fill clears the matched element and types text into it.
	Fill(ctx context.Context, selector, text string) error
	// Click clicks the matched element.
	Click(ctx context.Context, selector string) error
	// RunScript evaluates a JavaScript expression in the page and decodes the
	// result into out. Pass nil to discard the result.
	RunScript(ctx context.Context, script string, out interface{}) error
	// GetAttribute returns the value of an attribute on the matched element.
	GetAttribute(ctx context.Context, selector, name string) (string, error)
	// GetCookie returns the value of the named cookie, or "" if absent.
	GetCookie(ctx context.Context, name string) (string, error)
	// SetCookie sets a cookie on the given domain.
	SetCookie(ctx context.Context, name, value, domain string) error
	// CaptureArtifact captures a proof-of-completion artifact (a screenshot)
	// and returns an opaque reference to it.
	CaptureArtifact(ctx context.Context) (string, error)
	// Close releases the driver handle. Idempotent.
	Close(ctx context.Context) error
}

// DriverFactory allocates a fresh driver handle for a new session. The handle
// is bound to the provided context: cancelling it aborts in-flight operations
// and tears the handle down.
type DriverFactory func(ctx context.Context) (Driver, error)

// -- Verification flow (consumed by the FSM) --

// Flow drives the site-specific page logic of the verification sequence on
// top of a Driver. The FSM knows the shape of the sequence; the Flow knows
// which pages and elements implement it.
type Flow interface {
	// BeginLogin navigates to the target, opens the login form and fills in
	// the email. If a bot-verification challenge is detected it is returned
	// without submitting the form; otherwise the form is submitted, the OTP
	// prompt is awaited, and (nil, nil) is returned.
	BeginLogin(ctx context.Context, email string) (*Challenge, error)
	// FinishLogin submits the login form and awaits the OTP prompt. Called
	// after a detected challenge has been resolved and injected.
	FinishLogin(ctx context.Context) error
	// SubmitOTP enters the one-time code and reports whether the page asks
	// for a second factor. A page-reported wrong code surfaces as
	// ErrInvalidCode.
	SubmitOTP(ctx context.Context, code string) (twoFactorRequired bool, err error)
	// SubmitTwoFactor enters the authenticator code. A page-reported wrong
	// code surfaces as ErrInvalidCode.
	SubmitTwoFactor(ctx context.Context, code string) error
}

// FlowFactory binds a Flow implementation to a session's driver handle.
type FlowFactory func(drv Driver) Flow

// -- Challenge resolution (consumed by the FSM) --

// ChallengeResolver converts a detected challenge into a terminal outcome:
// solved (token already injected into the page via the driver), unsolvable,
// or timed out. The FSM never sees the polling loop or the injection
// mechanics.
type ChallengeResolver interface {
	Resolve(ctx context.Context, drv Driver, ch *Challenge) (ChallengeOutcome, error)
}

// -- Action executor (consumed by the FSM) --

// ActionExecutor performs the terminal action once verification completes.
// A primary-step failure is reported inside the Result with Success false;
// the error return is reserved for context cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, drv Driver) (*Result, error)
}

// -- Front-end contract (provided) --

// Notifier receives the ordered stream of state-change events for delivery
// to the user. Implementations must not block for long: events are emitted
// from session workers.
type Notifier interface {
	Notify(ev Event)
}

// OutcomeSink persists terminal session outcomes. Implementations may be
// no-ops when persistence is not configured.
type OutcomeSink interface {
	SaveOutcome(ctx context.Context, rec Outcome) error
}

// Outcome is the persisted record of a finished session.
type Outcome struct {
	SessionID   string
	Identity    string
	State       SessionState
	Reason      string
	ArtifactRef string
	CreatedAt   time.Time
	FinishedAt  time.Time
}
