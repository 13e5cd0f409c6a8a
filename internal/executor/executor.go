// File: internal/executor/executor.go

// Package executor performs the terminal action of a verified session: click
// the target control, best-effort dismiss any confirmation dialog, and
// capture a proof artifact.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

// confirmWait bounds the wait for the optional confirmation dialog. Its
// absence is the common case.
const confirmWait = 5 * time.Second

// BestEffortStatus is the typed outcome of the optional secondary step. It
// can never fail the overall action, but its result is always observable.
type BestEffortStatus string

const (
	BestEffortPerformed     BestEffortStatus = "performed"
	BestEffortSkipped       BestEffortStatus = "skipped_not_present"
	BestEffortFailedIgnored BestEffortStatus = "failed_ignored"
)

// Executor implements schemas.ActionExecutor against the configured target.
type Executor struct {
	target config.TargetConfig
	wait   time.Duration
	logger *zap.Logger
}

var _ schemas.ActionExecutor = (*Executor)(nil)

// New builds an Executor. wait bounds the primary-step element waits.
func New(target config.TargetConfig, wait time.Duration, logger *zap.Logger) *Executor {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &Executor{
		target: target,
		wait:   wait,
		logger: logger.Named("executor"),
	}
}

// Execute performs the terminal action. A primary-step failure is reported
// inside the Result with Success false; the error return is reserved for
// caller cancellation.
func (e *Executor) Execute(ctx context.Context, drv schemas.Driver) (*schemas.Result, error) {
	if err := e.performPrimary(ctx, drv); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Primary action failed.", zap.Error(err))
		return &schemas.Result{
			Success:     false,
			Message:     fmt.Sprintf("action failed: %v", err),
			CompletedAt: time.Now().UTC(),
		}, nil
	}

	confirm := e.dismissConfirmation(ctx, drv)
	e.logger.Info("Best-effort confirmation step finished.", zap.String("status", string(confirm)))

	result := &schemas.Result{
		Success:     true,
		Message:     "action completed",
		CompletedAt: time.Now().UTC(),
	}

	ref, err := drv.CaptureArtifact(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The action itself succeeded; a lost screenshot does not undo it.
		e.logger.Warn("Failed to capture proof artifact.", zap.Error(err))
		result.Message = "action completed (proof capture failed)"
		return result, nil
	}
	result.ArtifactRef = ref
	return result, nil
}

// performPrimary navigates to the action page and clicks the target control.
func (e *Executor) performPrimary(ctx context.Context, drv schemas.Driver) error {
	sel := e.target.Selectors
	if err := drv.Navigate(ctx, e.target.ActionURL); err != nil {
		return err
	}
	if err := drv.WaitFor(ctx, sel.ActionButton, e.wait); err != nil {
		return err
	}
	// Bring the control into view before clicking; some targets refuse
	// clicks on off-screen elements.
	scroll := fmt.Sprintf(
		`(function(){var el=document.querySelector(%q); if(el){el.scrollIntoView(true);} return el!==null;})()`,
		sel.ActionButton)
	if err := drv.RunScript(ctx, scroll, nil); err != nil {
		return err
	}
	return drv.Click(ctx, sel.ActionButton)
}

// dismissConfirmation clicks through an optional confirmation dialog with a
// short bounded wait. Failure here is logged and ignored.
func (e *Executor) dismissConfirmation(ctx context.Context, drv schemas.Driver) BestEffortStatus {
	sel := e.target.Selectors
	if sel.ConfirmButton == "" {
		return BestEffortSkipped
	}

	if err := drv.WaitFor(ctx, sel.ConfirmButton, confirmWait); err != nil {
		if de, ok := schemas.AsDriverError(err); ok &&
			(de.Kind == schemas.DriverTimeout || de.Kind == schemas.DriverElementNotFound) {
			return BestEffortSkipped
		}
		e.logger.Debug("Confirmation wait failed.", zap.Error(err))
		return BestEffortFailedIgnored
	}
	if err := drv.Click(ctx, sel.ConfirmButton); err != nil {
		e.logger.Debug("Confirmation click failed.", zap.Error(err))
		return BestEffortFailedIgnored
	}
	return BestEffortPerformed
}
