// File: internal/captcha/resolver_test.go
package captcha_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/captcha"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/retry"
)

const pollInterval = 5 * time.Second

// scriptedSolver returns a fixed submit ID and a scripted sequence of poll
// outcomes.
type scriptedSolver struct {
	submitErr error
	polls     []schemas.ChallengeOutcome
	pollErr   error

	mu    sync.Mutex
	calls int
}

func (s *scriptedSolver) Submit(ctx context.Context, ch *schemas.Challenge) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "req-1", nil
}

func (s *scriptedSolver) Poll(ctx context.Context, requestID string) (schemas.ChallengeOutcome, error) {
	if s.pollErr != nil {
		return schemas.ChallengeOutcome{}, s.pollErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.polls) {
		i = len(s.polls) - 1
	}
	return s.polls[i], nil
}

func (s *scriptedSolver) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// injectionDriver records the driver calls the resolver uses for token
// delivery.
type injectionDriver struct {
	mu        sync.Mutex
	scripts   []string
	cookies   map[string]string
	navigated []string
}

func newInjectionDriver() *injectionDriver {
	return &injectionDriver{cookies: make(map[string]string)}
}

func (d *injectionDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}
func (d *injectionDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (d *injectionDriver) Fill(ctx context.Context, selector, text string) error { return nil }
func (d *injectionDriver) Click(ctx context.Context, selector string) error      { return nil }
func (d *injectionDriver) RunScript(ctx context.Context, script string, out interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = append(d.scripts, script)
	return nil
}
func (d *injectionDriver) GetAttribute(ctx context.Context, selector, name string) (string, error) {
	return "", nil
}
func (d *injectionDriver) GetCookie(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (d *injectionDriver) SetCookie(ctx context.Context, name, value, domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies[name] = value
	return nil
}
func (d *injectionDriver) CaptureArtifact(ctx context.Context) (string, error) { return "", nil }
func (d *injectionDriver) Close(ctx context.Context) error                     { return nil }

type resolveResult struct {
	outcome schemas.ChallengeOutcome
	err     error
}

// resolveAsync runs Resolve in a goroutine and steps the fake clock through
// n poll intervals.
func resolveAsync(t *testing.T, r *captcha.Resolver, drv *injectionDriver, ch *schemas.Challenge, clock *clockwork.FakeClock, n int) resolveResult {
	t.Helper()
	results := make(chan resolveResult, 1)
	go func() {
		outcome, err := r.Resolve(context.Background(), drv, ch)
		results <- resolveResult{outcome, err}
	}()
	for i := 0; i < n; i++ {
		clock.BlockUntil(1)
		clock.Advance(pollInterval)
	}
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return")
		return resolveResult{}
	}
}

func newResolver(t *testing.T, solver captcha.SolverClient, clock *clockwork.FakeClock, maxAttempts int) *captcha.Resolver {
	t.Helper()
	policy, err := retry.NewPolicy(pollInterval, maxAttempts, clock)
	require.NoError(t, err)
	target := config.TargetConfig{
		ManagedCookieName: "aws-waf-token",
		CookieDomain:      "example.com",
	}
	return captcha.NewResolver(solver, policy, target, zaptest.NewLogger(t))
}

func TestResolver_SolvedOnThirdPollInjectsToken(t *testing.T) {
	solver := &scriptedSolver{polls: []schemas.ChallengeOutcome{
		{Status: schemas.ChallengePending},
		{Status: schemas.ChallengePending},
		{Status: schemas.ChallengeSolved, Token: "tok-abc"},
	}}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 10)
	drv := newInjectionDriver()
	ch := &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2, SiteKey: "k", PageURL: "https://example.com/login"}

	res := resolveAsync(t, r, drv, ch, clock, 3)
	require.NoError(t, res.err)
	assert.Equal(t, schemas.ChallengeSolved, res.outcome.Status)
	assert.Equal(t, "tok-abc", res.outcome.Token)
	assert.Equal(t, "req-1", ch.RequestID)
	assert.Equal(t, 3, solver.pollCount())

	require.Len(t, drv.scripts, 1)
	assert.Contains(t, drv.scripts[0], "tok-abc")
	assert.Contains(t, drv.scripts[0], "g-recaptcha-response")
}

func TestResolver_ManagedTokenSetsCookieAndReloads(t *testing.T) {
	solver := &scriptedSolver{polls: []schemas.ChallengeOutcome{
		{Status: schemas.ChallengeSolved, Token: "waf-tok"},
	}}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 10)
	drv := newInjectionDriver()
	ch := &schemas.Challenge{Kind: schemas.ChallengeManagedJS, Key: "k", PageURL: "https://example.com/login"}

	res := resolveAsync(t, r, drv, ch, clock, 1)
	require.NoError(t, res.err)
	assert.Equal(t, schemas.ChallengeSolved, res.outcome.Status)
	assert.Equal(t, "waf-tok", drv.cookies["aws-waf-token"])
	assert.Equal(t, []string{"https://example.com/login"}, drv.navigated)
}

func TestResolver_UnsolvableStopsPolling(t *testing.T) {
	solver := &scriptedSolver{polls: []schemas.ChallengeOutcome{
		{Status: schemas.ChallengeUnsolvable},
	}}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 10)
	drv := newInjectionDriver()
	ch := &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2, SiteKey: "k"}

	res := resolveAsync(t, r, drv, ch, clock, 1)
	require.NoError(t, res.err)
	assert.Equal(t, schemas.ChallengeUnsolvable, res.outcome.Status)
	assert.Equal(t, 1, solver.pollCount())
	assert.Empty(t, drv.scripts)
}

func TestResolver_BudgetExhaustedTimesOut(t *testing.T) {
	solver := &scriptedSolver{polls: []schemas.ChallengeOutcome{
		{Status: schemas.ChallengePending},
	}}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 2)
	drv := newInjectionDriver()
	ch := &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2, SiteKey: "k"}

	res := resolveAsync(t, r, drv, ch, clock, 2)
	require.NoError(t, res.err)
	assert.Equal(t, schemas.ChallengeTimedOut, res.outcome.Status)
	assert.Equal(t, 2, solver.pollCount())
}

func TestResolver_SubmitErrorSurfaces(t *testing.T) {
	solver := &scriptedSolver{submitErr: schemas.ErrSolverUnavailable}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 10)
	drv := newInjectionDriver()

	_, err := r.Resolve(context.Background(), drv, &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2})
	assert.ErrorIs(t, err, schemas.ErrSolverUnavailable)
}

func TestResolver_PollTransportErrorSurfaces(t *testing.T) {
	transportErr := errors.New("connection reset")
	solver := &scriptedSolver{pollErr: transportErr}
	clock := clockwork.NewFakeClock()
	r := newResolver(t, solver, clock, 10)
	drv := newInjectionDriver()
	ch := &schemas.Challenge{Kind: schemas.ChallengeRecaptchaV2, SiteKey: "k"}

	res := resolveAsync(t, r, drv, ch, clock, 1)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, transportErr)
}
