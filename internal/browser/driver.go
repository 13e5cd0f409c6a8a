// File: internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

// Driver implements schemas.Driver on top of a dedicated Chrome tab via
// chromedp. One Driver is exclusively owned by one session; Close is
// idempotent and tears down both the tab and its allocator.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ schemas.Driver = (*Driver)(nil)

// NewFactory returns a DriverFactory that launches one browser instance per
// session, bound to the session's context.
func NewFactory(cfg config.BrowserConfig, logger *zap.Logger) schemas.DriverFactory {
	return func(ctx context.Context) (schemas.Driver, error) {
		return NewDriver(ctx, cfg, logger)
	}
}

// NewDriver launches a browser and connects a fresh tab. The returned driver
// aborts in-flight operations and shuts down when parent is cancelled.
func NewDriver(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		name, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:         cfg,
		logger:      logger.Named("driver"),
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
	}

	// Force the browser process to start and the CDP connection to come up.
	if err := chromedp.Run(tabCtx); err != nil {
		d.Close(context.Background())
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d.logger.Debug("Browser driver launched.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// Navigate loads the URL and waits for the document body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return d.classify("navigate", err, opCtx, ctx)
}

// WaitFor blocks until an element matching selector is visible or the
// timeout elapses.
func (d *Driver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := d.opContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	return d.classify("waitFor", err, opCtx, ctx)
}

// Fill clears the matched element and types text into it.
func (d *Driver) Fill(ctx context.Context, selector, text string) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	return d.classify("fill", err, opCtx, ctx)
}

// Click clicks the matched element.
func (d *Driver) Click(ctx context.Context, selector string) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
	return d.classify("click", err, opCtx, ctx)
}

// RunScript evaluates a JavaScript expression in the page. Promises are
// awaited, so callers may hand over async page-side logic.
func (d *Driver) RunScript(ctx context.Context, script string, out interface{}) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.Evaluate(script, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	return d.classify("runScript", err, opCtx, ctx)
}

// GetAttribute returns an attribute value from the matched element; a
// present element with an absent attribute yields "".
func (d *Driver) GetAttribute(ctx context.Context, selector, name string) (string, error) {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	var value string
	var ok bool
	err := chromedp.Run(opCtx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	if err := d.classify("getAttribute", err, opCtx, ctx); err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

// GetCookie returns the named cookie's value, or "" if the browser does not
// hold it.
func (d *Driver) GetCookie(ctx context.Context, name string) (string, error) {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	var value string
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		cookies, err := network.GetCookies().Do(c)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			if ck.Name == name {
				value = ck.Value
				return nil
			}
		}
		return nil
	}))
	if err := d.classify("getCookie", err, opCtx, ctx); err != nil {
		return "", err
	}
	return value, nil
}

// SetCookie sets a cookie on the given domain.
func (d *Driver) SetCookie(ctx context.Context, name, value, domain string) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookie(name, value).
			WithDomain(domain).
			WithPath("/").
			Do(c)
	}))
	return d.classify("setCookie", err, opCtx, ctx)
}

// CaptureArtifact screenshots the current page into the artifact directory
// and returns the file path as the opaque artifact reference.
func (d *Driver) CaptureArtifact(ctx context.Context) (string, error) {
	opCtx, cancel := d.opContext(ctx, d.cfg.WaitTimeout)
	defer cancel()

	var buf []byte
	err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf))
	if err := d.classify("captureArtifact", err, opCtx, ctx); err != nil {
		return "", err
	}

	if err := os.MkdirAll(d.cfg.ArtifactDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	ref := filepath.Join(d.cfg.ArtifactDir,
		fmt.Sprintf("proof_%d_%s.png", time.Now().Unix(), uuid.NewString()[:8]))
	if err := os.WriteFile(ref, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	d.logger.Info("Proof artifact captured.", zap.String("artifact", ref))
	return ref, nil
}

// Close tears down the tab and the browser process. Safe to call more than
// once and from error paths.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Debug("Closing browser driver.")
	d.cancel()
	d.allocCancel()
	return nil
}

// opContext derives an operation context from the tab context, bounded by
// the caller's context and an optional timeout. chromedp actions must run on
// the tab's context chain, so the caller context is bridged via AfterFunc.
func (d *Driver) opContext(caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(d.ctx)
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(d.ctx, timeout)
	}
	stop := context.AfterFunc(caller, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// classify maps a chromedp failure onto the driver error taxonomy. The
// caller's cancellation is reported as-is so the state machine can tell a
// cancelled session apart from a step failure.
func (d *Driver) classify(op string, err error, opCtx, caller context.Context) error {
	if err == nil {
		return nil
	}
	if caller.Err() != nil {
		return caller.Err()
	}

	var exc *runtime.ExceptionDetails
	switch {
	case errors.As(err, &exc):
		return schemas.NewDriverError(schemas.DriverScriptError, op, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return schemas.NewDriverError(schemas.DriverTimeout, op, err)
	case strings.Contains(err.Error(), "could not find node") ||
		strings.Contains(err.Error(), "waiting for selector"):
		return schemas.NewDriverError(schemas.DriverElementNotFound, op, err)
	default:
		return schemas.NewDriverError(schemas.DriverScriptError, op, err)
	}
}
