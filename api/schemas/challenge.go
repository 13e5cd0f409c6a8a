package schemas

// ChallengeKind enumerates the bot-verification challenge variants observed
// on live targets.
type ChallengeKind string

const (
	// ChallengeRecaptchaV2 is a script challenge whose solved token is written
	// into a DOM-bound response field before the form is submitted.
	ChallengeRecaptchaV2 ChallengeKind = "recaptcha_v2"
	// ChallengeManagedJS is a managed JS challenge whose solved token is
	// delivered as a cookie; the page must be reloaded afterwards.
	ChallengeManagedJS ChallengeKind = "managed_js"
)

// Challenge describes a bot-verification obstacle encountered mid-flow.
// A Challenge exists only while its session is in StateChallengePending and
// is discarded, never retried, once resolved or abandoned.
type Challenge struct {
	Kind ChallengeKind

	// SiteKey is set for ChallengeRecaptchaV2.
	SiteKey string

	// Key, IV and Context form the opaque parameter tuple for
	// ChallengeManagedJS.
	Key     string
	IV      string
	Context string

	// PageURL is the page the challenge was issued on.
	PageURL string

	// RequestID is the identifier returned by the solver on submission.
	RequestID string
}

// ChallengeStatus classifies a solver response.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeSolved     ChallengeStatus = "solved"
	ChallengeUnsolvable ChallengeStatus = "unsolvable"
	ChallengeTimedOut   ChallengeStatus = "timed_out"
)

// ChallengeOutcome is the result of resolving a challenge. Token is set only
// when Status is ChallengeSolved.
type ChallengeOutcome struct {
	Status ChallengeStatus
	Token  string
}
