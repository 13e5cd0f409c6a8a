// File: internal/browser/flow.go
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

// verdict labels returned by the page-side classifier script.
const (
	verdictInvalid   = "invalid"
	verdictTwoFactor = "twofa"
	verdictOK        = "ok"
)

// classifyScript polls the page for whichever indicator appears first after a
// code submission: an explicit error message, the second-factor prompt, or
// the logged-in marker. Resolves "" when none appears before the deadline.
const classifyScript = `new Promise((resolve) => {
	const selectors = { invalid: %q, twofa: %q, ok: %q };
	const deadline = Date.now() + %d;
	const check = () => {
		for (const label of ["invalid", "twofa", "ok"]) {
			if (selectors[label] && document.querySelector(selectors[label])) {
				resolve(label);
				return;
			}
		}
		if (Date.now() > deadline) {
			resolve("");
			return;
		}
		setTimeout(check, 250);
	};
	check();
})`

// managedParams is the parameter tuple a managed-JS challenge exposes via a
// page global.
type managedParams struct {
	Key     string `json:"key"`
	IV      string `json:"iv"`
	Context string `json:"context"`
}

// Flow implements the site-specific verification sequence on top of a
// Driver, with all page addressing pulled from configuration.
type Flow struct {
	drv    schemas.Driver
	target config.TargetConfig
	wait   time.Duration
	logger *zap.Logger
}

var _ schemas.Flow = (*Flow)(nil)

// NewFlowFactory returns a FlowFactory binding flows to the configured
// target.
func NewFlowFactory(target config.TargetConfig, browserCfg config.BrowserConfig, logger *zap.Logger) schemas.FlowFactory {
	return func(drv schemas.Driver) schemas.Flow {
		return NewFlow(drv, target, browserCfg.WaitTimeout, logger)
	}
}

// NewFlow builds a Flow over an existing driver handle.
func NewFlow(drv schemas.Driver, target config.TargetConfig, wait time.Duration, logger *zap.Logger) *Flow {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &Flow{
		drv:    drv,
		target: target,
		wait:   wait,
		logger: logger.Named("flow"),
	}
}

// BeginLogin opens the login form and fills in the email. When a challenge
// is present it is returned unsubmitted; otherwise the form is submitted and
// the OTP prompt awaited.
func (f *Flow) BeginLogin(ctx context.Context, email string) (*schemas.Challenge, error) {
	sel := f.target.Selectors

	if err := f.drv.Navigate(ctx, f.target.URL); err != nil {
		return nil, err
	}
	if err := f.drv.WaitFor(ctx, sel.LoginButton, f.wait); err != nil {
		return nil, err
	}
	if err := f.drv.Click(ctx, sel.LoginButton); err != nil {
		return nil, err
	}
	if err := f.drv.WaitFor(ctx, sel.EmailField, f.wait); err != nil {
		return nil, err
	}
	if err := f.drv.Fill(ctx, sel.EmailField, email); err != nil {
		return nil, err
	}

	ch, err := f.detectChallenge(ctx)
	if err != nil {
		return nil, err
	}
	if ch != nil {
		f.logger.Info("Bot-verification challenge detected.", zap.String("kind", string(ch.Kind)))
		return ch, nil
	}

	return nil, f.FinishLogin(ctx)
}

// FinishLogin submits the login form and awaits the OTP prompt.
func (f *Flow) FinishLogin(ctx context.Context) error {
	sel := f.target.Selectors
	if err := f.drv.Click(ctx, sel.SubmitButton); err != nil {
		return err
	}
	if err := f.drv.WaitFor(ctx, sel.OTPPrompt, f.wait); err != nil {
		return fmt.Errorf("OTP prompt did not appear: %w", err)
	}
	f.logger.Info("Login submitted; OTP prompt reached.")
	return nil
}

// SubmitOTP enters the one-time code and classifies the page's reaction.
func (f *Flow) SubmitOTP(ctx context.Context, code string) (bool, error) {
	sel := f.target.Selectors
	if err := f.drv.Fill(ctx, sel.OTPField, code); err != nil {
		return false, err
	}
	if err := f.drv.Click(ctx, sel.OTPSubmit); err != nil {
		return false, err
	}

	verdict, err := f.classify(ctx, sel.InvalidCode, sel.TwoFactorPrompt, sel.LoggedIn)
	if err != nil {
		return false, err
	}
	switch verdict {
	case verdictInvalid:
		return false, schemas.ErrInvalidCode
	case verdictTwoFactor:
		return true, nil
	case verdictOK:
		return false, nil
	default:
		return false, schemas.NewDriverError(schemas.DriverTimeout, "verify otp",
			fmt.Errorf("no verification indicator appeared within %s", f.wait))
	}
}

// SubmitTwoFactor enters the authenticator code and awaits the logged-in
// marker.
func (f *Flow) SubmitTwoFactor(ctx context.Context, code string) error {
	sel := f.target.Selectors
	if err := f.drv.Fill(ctx, sel.TwoFactorField, code); err != nil {
		return err
	}
	if err := f.drv.Click(ctx, sel.TwoFactorSubmit); err != nil {
		return err
	}

	verdict, err := f.classify(ctx, sel.InvalidCode, "", sel.LoggedIn)
	if err != nil {
		return err
	}
	switch verdict {
	case verdictInvalid:
		return schemas.ErrInvalidCode
	case verdictOK:
		return nil
	default:
		return schemas.NewDriverError(schemas.DriverTimeout, "verify twofactor",
			fmt.Errorf("no verification indicator appeared within %s", f.wait))
	}
}

// classify runs the page-side indicator poll and returns the first matched
// verdict label, or "" on deadline.
func (f *Flow) classify(ctx context.Context, invalidSel, twofaSel, okSel string) (string, error) {
	script := fmt.Sprintf(classifyScript, invalidSel, twofaSel, okSel, f.wait.Milliseconds())
	var verdict string
	if err := f.drv.RunScript(ctx, script, &verdict); err != nil {
		return "", err
	}
	return verdict, nil
}

// detectChallenge checks for the two known challenge variants on the current
// page: a reCAPTCHA v2 widget, then a managed-JS challenge parameter global.
func (f *Flow) detectChallenge(ctx context.Context) (*schemas.Challenge, error) {
	pageURL, err := f.currentURL(ctx)
	if err != nil {
		return nil, err
	}

	var hasRecaptcha bool
	if err := f.drv.RunScript(ctx,
		`document.querySelector("iframe[src*='recaptcha']") !== null`, &hasRecaptcha); err != nil {
		return nil, err
	}
	if hasRecaptcha {
		siteKey, err := f.drv.GetAttribute(ctx, f.target.Selectors.RecaptchaSite, "data-sitekey")
		if err != nil {
			return nil, err
		}
		if siteKey == "" {
			return nil, schemas.NewDriverError(schemas.DriverElementNotFound, "detectChallenge",
				fmt.Errorf("recaptcha widget present but sitekey missing"))
		}
		return &schemas.Challenge{
			Kind:    schemas.ChallengeRecaptchaV2,
			SiteKey: siteKey,
			PageURL: pageURL,
		}, nil
	}

	var params *managedParams
	if err := f.drv.RunScript(ctx, f.target.ManagedParamsScript, &params); err != nil {
		return nil, err
	}
	if params != nil && params.Key != "" {
		return &schemas.Challenge{
			Kind:    schemas.ChallengeManagedJS,
			Key:     params.Key,
			IV:      params.IV,
			Context: params.Context,
			PageURL: pageURL,
		}, nil
	}

	return nil, nil
}

func (f *Flow) currentURL(ctx context.Context) (string, error) {
	var href string
	if err := f.drv.RunScript(ctx, "window.location.href", &href); err != nil {
		return "", err
	}
	return href, nil
}
