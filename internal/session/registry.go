// File: internal/session/registry.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

// ErrNoActiveSession is returned when an input or cancel arrives for an
// identity with no live session.
var ErrNoActiveSession = errors.New("no active session for identity")

// Deps bundles the collaborators a registry injects into each session.
type Deps struct {
	NewDriver schemas.DriverFactory
	NewFlow   schemas.FlowFactory
	Resolver  schemas.ChallengeResolver
	Executor  schemas.ActionExecutor
	Notifier  schemas.Notifier
	Sink      schemas.OutcomeSink
}

// Registry owns the identity -> session map. Each identity has at most one
// live session; a new one can only be created after the previous one has
// fully released its driver handle.
type Registry struct {
	cfg    config.SessionConfig
	deps   Deps
	logger *zap.Logger
	clock  clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.SessionConfig, deps Deps, logger *zap.Logger, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("registry"),
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// SetNotifier wires the event sink after construction. The front-end and the
// registry reference each other, so one of the two links is set late. Must be
// called before the first Create.
func (r *Registry) SetNotifier(n schemas.Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Notifier = n
}

// Create reserves the identity, allocates a driver handle, and starts the
// session worker. The identity slot is reserved before the (slow) driver
// launch so concurrent creates for the same identity cannot both succeed.
func (r *Registry) Create(ctx context.Context, identity string) (*Session, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	now := r.clock.Now()
	s := &Session{
		id:           newSessionID(),
		identity:     identity,
		clock:        r.clock,
		resolver:     r.deps.Resolver,
		executor:     r.deps.Executor,
		notifier:     r.deps.Notifier,
		sink:         r.deps.Sink,
		ctx:          sessCtx,
		cancel:       cancel,
		inputs:       make(chan schemas.Input, r.cfg.InputBuffer),
		done:         make(chan struct{}),
		state:        schemas.StateCreated,
		createdAt:    now,
		lastActivity: now,
	}
	s.logger = r.logger.With(zap.String("identity", identity), zap.String("session_id", s.id))

	r.mu.Lock()
	if _, exists := r.sessions[identity]; exists {
		r.mu.Unlock()
		cancel()
		return nil, schemas.ErrDuplicateSession
	}
	r.sessions[identity] = s
	r.mu.Unlock()

	drv, err := r.deps.NewDriver(sessCtx)
	if err != nil {
		r.remove(identity, s)
		cancel()
		return nil, fmt.Errorf("failed to allocate driver handle: %w", err)
	}
	s.drv = drv
	s.flow = r.deps.NewFlow(drv)

	r.wg.Add(1)
	s.onClose = func() {
		r.remove(identity, s)
		r.wg.Done()
	}

	s.logger.Info("Session created.")
	go s.run()
	s.notify(schemas.Event{State: schemas.StateCreated})
	return s, nil
}

// Get returns the live session for an identity, if any.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Submit routes a user input to the identity's live session.
func (r *Registry) Submit(identity string, in schemas.Input) error {
	s, ok := r.Get(identity)
	if !ok {
		return ErrNoActiveSession
	}
	return s.Enqueue(in)
}

// Cancel terminates the identity's live session with reason Cancelled. It is
// a no-op when no session exists.
func (r *Registry) Cancel(identity string) error {
	s, ok := r.Get(identity)
	if !ok {
		return ErrNoActiveSession
	}
	s.Cancel()
	return nil
}

// Remove discards the identity's session, releasing its driver handle first.
// Removing an absent identity is a no-op.
func (r *Registry) Remove(identity string) {
	if s, ok := r.Get(identity); ok {
		s.Cancel()
	}
}

// remove deletes the map entry only if it still points at the given session,
// so a replacement created after release is never clobbered.
func (r *Registry) remove(identity string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[identity]; ok && cur == s {
		delete(r.sessions, identity)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper expires sessions whose inactivity exceeds the configured
// timeout. It blocks until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := r.clock.Now().Add(-r.cfg.Timeout)

	r.mu.Lock()
	stale := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.logger.Info("Expiring inactive session.")
		s.expire()
	}
}

// Shutdown cancels every live session and waits for all workers to release
// their driver handles, up to the context deadline.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Cancel()
	}

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		r.logger.Info("All sessions released.", zap.Int("count", len(live)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for %d sessions to release: %w", len(live), ctx.Err())
	}
}
