// File: internal/session/fsm.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
)

// releaseGrace bounds cleanup work done after a session reaches a terminal
// state (driver teardown, outcome persistence).
const releaseGrace = 10 * time.Second

// Session is one user's verification state machine. All inputs are processed
// serially by a single worker goroutine; cancellation and expiry travel
// out-of-band through the session context so they preempt in-flight waits.
type Session struct {
	id       string
	identity string
	logger   *zap.Logger
	clock    clockwork.Clock

	drv      schemas.Driver
	flow     schemas.Flow
	resolver schemas.ChallengeResolver
	executor schemas.ActionExecutor
	notifier schemas.Notifier
	sink     schemas.OutcomeSink

	ctx    context.Context
	cancel context.CancelFunc

	inputs chan schemas.Input
	done   chan struct{}

	mu           sync.Mutex
	state        schemas.SessionState
	email        string
	challenge    *schemas.Challenge
	createdAt    time.Time
	lastActivity time.Time
	result       *schemas.Result
	abortState   schemas.SessionState
	abortReason  string

	releaseOnce sync.Once
	onClose     func()
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Identity returns the opaque user key the session belongs to.
func (s *Session) Identity() string { return s.identity }

// State returns a snapshot of the current state.
func (s *Session) State() schemas.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the most recent user input.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Done is closed once the worker has terminated and the driver handle has
// been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue queues a user input for serial processing. It fails when the
// session has already terminated or when the input queue is full.
func (s *Session) Enqueue(in schemas.Input) error {
	if s.State().Terminal() {
		return schemas.ErrInvalidTransition
	}
	select {
	case <-s.ctx.Done():
		return schemas.ErrInvalidTransition
	case s.inputs <- in:
		return nil
	default:
		return fmt.Errorf("session %s is busy, input dropped", s.id)
	}
}

// Cancel requests termination with reason Cancelled. It preempts in-flight
// driver waits and solver polling; the worker completes the terminal
// transition within one scheduling step.
func (s *Session) Cancel() {
	s.markAbort(schemas.StateFailed, schemas.ErrSessionCancelled.Error())
	s.cancel()
}

// expire requests termination with reason Expired. Invoked by the registry's
// supervising sweeper.
func (s *Session) expire() {
	s.markAbort(schemas.StateExpired, schemas.ErrSessionExpired.Error())
	s.cancel()
}

func (s *Session) markAbort(state schemas.SessionState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortState == "" && !s.state.Terminal() {
		s.abortState = state
		s.abortReason = reason
	}
}

func (s *Session) abortInfo() (schemas.SessionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortState, s.abortReason
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// run is the session worker. It owns the driver handle: the handle is
// released on every exit path, including panics.
func (s *Session) run() {
	defer close(s.done)
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session worker panicked.", zap.Any("panic", r))
			s.terminate(schemas.StateFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.finishAborted()
			return
		case in := <-s.inputs:
			s.touch()
			s.handle(in)
		}
		if s.State().Terminal() {
			return
		}
	}
}

// handle dispatches one input. An input arriving in a non-matching state is
// rejected without mutating the session.
func (s *Session) handle(in schemas.Input) {
	state := s.State()
	switch in.Kind {
	case schemas.InputSubmitEmail:
		if state != schemas.StateCreated {
			s.reject(in, state)
			return
		}
		s.handleEmail(in.Text)
	case schemas.InputSubmitOTP:
		if state != schemas.StateOTPPending {
			s.reject(in, state)
			return
		}
		s.handleOTP(in.Text)
	case schemas.InputSubmitTwoFactor:
		if state != schemas.StateTwoFactorPending {
			s.reject(in, state)
			return
		}
		s.handleTwoFactor(in.Text)
	default:
		s.reject(in, state)
	}
}

// handleEmail runs the email submission leg, including optional challenge
// resolution.
func (s *Session) handleEmail(email string) {
	s.mu.Lock()
	s.email = email
	s.mu.Unlock()
	s.transition(schemas.StateEmailSubmitted)

	ch, err := s.flow.BeginLogin(s.ctx, email)
	if err != nil {
		s.fail(err)
		return
	}

	if ch != nil {
		s.mu.Lock()
		s.challenge = ch
		s.mu.Unlock()
		s.transition(schemas.StateChallengePending)

		outcome, err := s.resolver.Resolve(s.ctx, s.drv, ch)

		// The challenge record lives only while the state is pending; it is
		// discarded, never retried, whatever the outcome.
		s.mu.Lock()
		s.challenge = nil
		s.mu.Unlock()

		if err != nil {
			s.fail(err)
			return
		}
		switch outcome.Status {
		case schemas.ChallengeSolved:
			if err := s.flow.FinishLogin(s.ctx); err != nil {
				s.fail(err)
				return
			}
		case schemas.ChallengeUnsolvable:
			s.fail(schemas.ErrChallengeUnsolvable)
			return
		default:
			s.fail(schemas.ErrChallengeTimedOut)
			return
		}
	}

	s.transition(schemas.StateOTPPending)
}

func (s *Session) handleOTP(code string) {
	twoFactor, err := s.flow.SubmitOTP(s.ctx, code)
	if err != nil {
		s.fail(err)
		return
	}
	if twoFactor {
		s.transition(schemas.StateTwoFactorPending)
		return
	}
	s.executeAction()
}

func (s *Session) handleTwoFactor(code string) {
	if err := s.flow.SubmitTwoFactor(s.ctx, code); err != nil {
		s.fail(err)
		return
	}
	s.executeAction()
}

// executeAction invokes the action executor once verification is complete.
func (s *Session) executeAction() {
	s.transition(schemas.StateActionPending)

	result, err := s.executor.Execute(s.ctx, s.drv)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()

	if !result.Success {
		s.terminate(schemas.StateFailed, result.Message)
		return
	}
	s.terminate(schemas.StateCompleted, "")
}

// fail moves the session to its terminal failure state. If an out-of-band
// abort (cancel/expire) caused the underlying operation to unwind, the abort
// reason wins over the operation error.
func (s *Session) fail(err error) {
	if state, reason := s.abortInfo(); state != "" {
		s.terminate(state, reason)
		return
	}
	s.terminate(schemas.StateFailed, failureReason(err))
}

// finishAborted completes an abort observed while the worker was idle.
func (s *Session) finishAborted() {
	state, reason := s.abortInfo()
	if state == "" {
		// Parent context cancelled, e.g. service shutdown.
		state, reason = schemas.StateFailed, "session aborted by shutdown"
	}
	s.terminate(state, reason)
}

// transition advances to a non-terminal state and emits a notification.
func (s *Session) transition(next schemas.SessionState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.logger.Info("Session state changed.", zap.String("state", string(next)))
	s.notify(schemas.Event{State: next})
}

// terminate performs the terminal transition exactly once: record the
// result, emit the terminal event, and persist the outcome.
func (s *Session) terminate(state schemas.SessionState, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	if s.result == nil {
		s.result = &schemas.Result{
			Success:     state == schemas.StateCompleted,
			Message:     reason,
			CompletedAt: s.clock.Now(),
		}
	}
	result := s.result
	createdAt := s.createdAt
	s.mu.Unlock()

	if state == schemas.StateCompleted {
		s.logger.Info("Session completed.", zap.String("artifact", result.ArtifactRef))
	} else {
		s.logger.Warn("Session terminated.", zap.String("state", string(state)), zap.String("reason", reason))
	}

	s.notify(schemas.Event{State: state, Reason: reason, Result: result})

	if s.sink != nil {
		// Persist with a background context so shutdown or cancellation of
		// the session itself cannot lose the terminal record.
		persistCtx, cancel := context.WithTimeout(context.Background(), releaseGrace)
		defer cancel()
		rec := schemas.Outcome{
			SessionID:   s.id,
			Identity:    s.identity,
			State:       state,
			Reason:      reason,
			ArtifactRef: result.ArtifactRef,
			CreatedAt:   createdAt,
			FinishedAt:  s.clock.Now(),
		}
		if err := s.sink.SaveOutcome(persistCtx, rec); err != nil {
			s.logger.Error("Failed to persist session outcome.", zap.Error(err))
		}
	}
}

// reject refuses an input that arrived in a non-matching state.
func (s *Session) reject(in schemas.Input, state schemas.SessionState) {
	s.logger.Warn("Input rejected in current state.",
		zap.String("input", string(in.Kind)),
		zap.String("state", string(state)))
	s.notify(schemas.Event{
		State:    state,
		Rejected: true,
		Reason:   fmt.Sprintf("%v: %s not accepted while %s", schemas.ErrInvalidTransition, in.Kind, state),
	})
}

func (s *Session) notify(ev schemas.Event) {
	if s.notifier == nil {
		return
	}
	ev.Identity = s.identity
	ev.SessionID = s.id
	ev.At = s.clock.Now()
	s.notifier.Notify(ev)
}

// release closes the driver handle exactly once and deregisters the session.
// It runs on every exit path of the worker.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), releaseGrace)
		defer cancel()
		if err := s.drv.Close(cleanupCtx); err != nil {
			s.logger.Warn("Error closing driver handle.", zap.Error(err))
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session resources released.")
	})
}

// failureReason renders an error as the session's human-readable terminal
// reason. Driver and solver failures are surfaced verbatim, never guessed at.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown failure"
	case errors.Is(err, schemas.ErrInvalidCode):
		return "invalid code"
	case errors.Is(err, schemas.ErrSolverUnavailable):
		return schemas.ErrSolverUnavailable.Error()
	case errors.Is(err, schemas.ErrChallengeUnsolvable):
		return schemas.ErrChallengeUnsolvable.Error()
	case errors.Is(err, schemas.ErrChallengeTimedOut):
		return schemas.ErrChallengeTimedOut.Error()
	default:
		return err.Error()
	}
}

// newSessionID returns a fresh unique session identifier.
func newSessionID() string { return uuid.New().String() }
