// File: internal/captcha/resolver.go
package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/retry"
)

// recaptchaInjectScript writes a solved token into the standard response
// field and invokes the page's registered callback so the widget proceeds as
// if solved interactively.
const recaptchaInjectScript = `(function(token) {
	var el = document.querySelector("textarea[name='g-recaptcha-response']") ||
		document.getElementById("g-recaptcha-response");
	if (el) {
		el.style.display = "";
		el.value = token;
	}
	try {
		if (window.___grecaptcha_cfg) {
			var clients = window.___grecaptcha_cfg.clients || {};
			for (var id in clients) {
				var client = clients[id];
				for (var key in client) {
					var obj = client[key];
					if (obj && typeof obj === "object") {
						for (var sub in obj) {
							var cand = obj[sub];
							if (cand && typeof cand.callback === "function") {
								cand.callback(token);
								return true;
							}
						}
					}
				}
			}
		}
	} catch (e) { /* no callback registered */ }
	return el !== null;
})(%q)`

// Resolver ties the solver protocol and the token-injection mechanics
// together behind the single Resolve call the state machine consumes.
type Resolver struct {
	solver SolverClient
	policy retry.Policy
	target config.TargetConfig
	logger *zap.Logger
}

var _ schemas.ChallengeResolver = (*Resolver)(nil)

// NewResolver builds a Resolver around a solver client and a bounded polling
// policy.
func NewResolver(solver SolverClient, policy retry.Policy, target config.TargetConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		solver: solver,
		policy: policy,
		target: target,
		logger: logger.Named("resolver"),
	}
}

// Resolve submits the challenge, polls the solver under the bounded policy,
// and injects a solved token into the page via the driver. The returned
// outcome is one of Solved, Unsolvable or TimedOut; errors are reserved for
// solver misconfiguration, transport failures, failed injection and
// cancellation.
func (r *Resolver) Resolve(ctx context.Context, drv schemas.Driver, ch *schemas.Challenge) (schemas.ChallengeOutcome, error) {
	requestID, err := r.solver.Submit(ctx, ch)
	if err != nil {
		return schemas.ChallengeOutcome{}, err
	}
	ch.RequestID = requestID

	log := r.logger.With(
		zap.String("kind", string(ch.Kind)),
		zap.String("request_id", requestID))
	log.Info("Polling solver for challenge result.",
		zap.Duration("interval", r.policy.Interval()),
		zap.Int("max_attempts", r.policy.MaxAttempts()))

	var token string
	err = r.policy.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		outcome, pollErr := r.solver.Poll(ctx, requestID)
		if pollErr != nil {
			return false, pollErr
		}
		switch outcome.Status {
		case schemas.ChallengeSolved:
			token = outcome.Token
			return true, nil
		case schemas.ChallengeUnsolvable:
			// Stop immediately; no further polling.
			return false, schemas.ErrChallengeUnsolvable
		default:
			log.Debug("Challenge still pending.", zap.Int("attempt", attempt))
			return false, nil
		}
	})

	switch {
	case err == nil:
		// Solved; fall through to injection.
	case errors.Is(err, schemas.ErrChallengeUnsolvable):
		log.Warn("Solver reported challenge unsolvable.")
		return schemas.ChallengeOutcome{Status: schemas.ChallengeUnsolvable}, nil
	case errors.Is(err, retry.ErrBudgetExhausted):
		log.Warn("Challenge poll budget exhausted.")
		return schemas.ChallengeOutcome{Status: schemas.ChallengeTimedOut}, nil
	default:
		return schemas.ChallengeOutcome{}, err
	}

	if err := r.inject(ctx, drv, ch, token); err != nil {
		return schemas.ChallengeOutcome{}, fmt.Errorf("failed to inject solved token: %w", err)
	}

	log.Info("Challenge solved and token injected.")
	return schemas.ChallengeOutcome{Status: schemas.ChallengeSolved, Token: token}, nil
}

// inject delivers the solved token to the page. The mechanism is a property
// of the challenge kind: script challenges write into a DOM-bound response
// field and fire the page callback; managed challenges set a cookie and
// reload the page.
func (r *Resolver) inject(ctx context.Context, drv schemas.Driver, ch *schemas.Challenge, token string) error {
	switch ch.Kind {
	case schemas.ChallengeRecaptchaV2:
		return drv.RunScript(ctx, fmt.Sprintf(recaptchaInjectScript, token), nil)
	case schemas.ChallengeManagedJS:
		if err := drv.SetCookie(ctx, r.target.ManagedCookieName, token, r.target.CookieDomain); err != nil {
			return err
		}
		// The managed token only takes effect on a fresh page load.
		return drv.Navigate(ctx, ch.PageURL)
	default:
		return fmt.Errorf("unsupported challenge kind %q", ch.Kind)
	}
}
