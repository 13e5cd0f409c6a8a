// File: internal/session/fakes_test.go
package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/session"
)

// fakeDriver satisfies schemas.Driver and counts Close calls so tests can
// assert exactly-once release.
type fakeDriver struct {
	closeCount atomic.Int32
	artifact   string
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }
func (d *fakeDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (d *fakeDriver) Fill(ctx context.Context, selector, text string) error { return nil }
func (d *fakeDriver) Click(ctx context.Context, selector string) error      { return nil }
func (d *fakeDriver) RunScript(ctx context.Context, script string, out interface{}) error {
	return nil
}
func (d *fakeDriver) GetAttribute(ctx context.Context, selector, name string) (string, error) {
	return "", nil
}
func (d *fakeDriver) GetCookie(ctx context.Context, name string) (string, error) { return "", nil }
func (d *fakeDriver) SetCookie(ctx context.Context, name, value, domain string) error {
	return nil
}
func (d *fakeDriver) CaptureArtifact(ctx context.Context) (string, error) {
	return d.artifact, nil
}
func (d *fakeDriver) Close(ctx context.Context) error {
	d.closeCount.Add(1)
	return nil
}

// fakeFlow scripts the page-level legs of the verification sequence.
type fakeFlow struct {
	challenge  *schemas.Challenge
	beginErr   error
	finishErr  error
	otpErr     error
	twoFactor  bool
	twoFAErr   error
	finishedCh atomic.Int32
}

func (f *fakeFlow) BeginLogin(ctx context.Context, email string) (*schemas.Challenge, error) {
	return f.challenge, f.beginErr
}
func (f *fakeFlow) FinishLogin(ctx context.Context) error {
	f.finishedCh.Add(1)
	return f.finishErr
}
func (f *fakeFlow) SubmitOTP(ctx context.Context, code string) (bool, error) {
	return f.twoFactor, f.otpErr
}
func (f *fakeFlow) SubmitTwoFactor(ctx context.Context, code string) error { return f.twoFAErr }

// fakeResolver returns a scripted challenge outcome.
type fakeResolver struct {
	outcome schemas.ChallengeOutcome
	err     error
}

func (r *fakeResolver) Resolve(ctx context.Context, drv schemas.Driver, ch *schemas.Challenge) (schemas.ChallengeOutcome, error) {
	return r.outcome, r.err
}

// fakeExecutor returns a scripted action result.
type fakeExecutor struct {
	result *schemas.Result
	err    error
}

func (e *fakeExecutor) Execute(ctx context.Context, drv schemas.Driver) (*schemas.Result, error) {
	return e.result, e.err
}

// recordingNotifier collects the ordered event stream and signals terminal
// events on a channel.
type recordingNotifier struct {
	mu       sync.Mutex
	events   []schemas.Event
	terminal chan schemas.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{terminal: make(chan schemas.Event, 4)}
}

func (n *recordingNotifier) Notify(ev schemas.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	if ev.State.Terminal() && !ev.Rejected {
		n.terminal <- ev
	}
}

func (n *recordingNotifier) states() []schemas.SessionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]schemas.SessionState, 0, len(n.events))
	for _, ev := range n.events {
		if !ev.Rejected {
			out = append(out, ev.State)
		}
	}
	return out
}

func (n *recordingNotifier) rejections() []schemas.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []schemas.Event
	for _, ev := range n.events {
		if ev.Rejected {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) waitTerminal(t *testing.T) schemas.Event {
	t.Helper()
	select {
	case ev := <-n.terminal:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return schemas.Event{}
	}
}

// recordingSink captures persisted outcomes.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []schemas.Outcome
}

func (s *recordingSink) SaveOutcome(ctx context.Context, rec schemas.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, rec)
	return nil
}

func (s *recordingSink) all() []schemas.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Outcome(nil), s.outcomes...)
}

// harness bundles a registry with its fakes for one test.
type harness struct {
	registry *session.Registry
	driver   *fakeDriver
	flow     *fakeFlow
	resolver *fakeResolver
	executor *fakeExecutor
	notifier *recordingNotifier
	sink     *recordingSink
	clock    *clockwork.FakeClock
}

func defaultSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Timeout:       15 * time.Minute,
		SweepInterval: 30 * time.Second,
		InputBuffer:   8,
	}
}

func newHarness(t *testing.T, mutate func(*harness)) *harness {
	t.Helper()
	h := &harness{
		driver:   &fakeDriver{artifact: "/tmp/proof_1.png"},
		flow:     &fakeFlow{},
		resolver: &fakeResolver{outcome: schemas.ChallengeOutcome{Status: schemas.ChallengeSolved, Token: "tok"}},
		executor: &fakeExecutor{result: &schemas.Result{Success: true, Message: "done", ArtifactRef: "/tmp/proof_1.png"}},
		notifier: newRecordingNotifier(),
		sink:     &recordingSink{},
		clock:    clockwork.NewFakeClock(),
	}
	if mutate != nil {
		mutate(h)
	}
	h.registry = session.NewRegistry(defaultSessionConfig(), session.Deps{
		NewDriver: func(ctx context.Context) (schemas.Driver, error) { return h.driver, nil },
		NewFlow:   func(drv schemas.Driver) schemas.Flow { return h.flow },
		Resolver:  h.resolver,
		Executor:  h.executor,
		Notifier:  h.notifier,
		Sink:      h.sink,
	}, zaptest.NewLogger(t), h.clock)
	return h
}
