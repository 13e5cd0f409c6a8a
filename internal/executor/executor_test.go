// File: internal/executor/executor_test.go
package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/executor"
)

// actionDriver scripts the driver calls the executor makes.
type actionDriver struct {
	waitErrs    map[string]error
	clickErrs   map[string]error
	artifact    string
	artifactErr error

	navigated []string
	clicked   []string
	scripts   int
	captured  int
}

func newActionDriver() *actionDriver {
	return &actionDriver{
		waitErrs:  make(map[string]error),
		clickErrs: make(map[string]error),
		artifact:  "/tmp/proof_99.png",
	}
}

func (d *actionDriver) Navigate(ctx context.Context, url string) error {
	d.navigated = append(d.navigated, url)
	return nil
}
func (d *actionDriver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return d.waitErrs[selector]
}
func (d *actionDriver) Fill(ctx context.Context, selector, text string) error { return nil }
func (d *actionDriver) Click(ctx context.Context, selector string) error {
	d.clicked = append(d.clicked, selector)
	return d.clickErrs[selector]
}
func (d *actionDriver) RunScript(ctx context.Context, script string, out interface{}) error {
	d.scripts++
	return nil
}
func (d *actionDriver) GetAttribute(ctx context.Context, selector, name string) (string, error) {
	return "", nil
}
func (d *actionDriver) GetCookie(ctx context.Context, name string) (string, error) { return "", nil }
func (d *actionDriver) SetCookie(ctx context.Context, name, value, domain string) error {
	return nil
}
func (d *actionDriver) CaptureArtifact(ctx context.Context) (string, error) {
	d.captured++
	return d.artifact, d.artifactErr
}
func (d *actionDriver) Close(ctx context.Context) error { return nil }

func actionTarget(confirm string) config.TargetConfig {
	return config.TargetConfig{
		ActionURL: "https://example.com/vote",
		Selectors: config.Selectors{
			ActionButton:  "#vote",
			ConfirmButton: confirm,
		},
	}
}

func newTestExecutor(t *testing.T, confirm string) *executor.Executor {
	t.Helper()
	return executor.New(actionTarget(confirm), 5*time.Second, zaptest.NewLogger(t))
}

func TestExecutor_SuccessWithArtifact(t *testing.T) {
	drv := newActionDriver()
	ex := newTestExecutor(t, "#confirm")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "/tmp/proof_99.png", result.ArtifactRef)
	assert.Equal(t, "action completed", result.Message)

	assert.Equal(t, []string{"https://example.com/vote"}, drv.navigated)
	assert.Equal(t, []string{"#vote", "#confirm"}, drv.clicked)
	assert.Equal(t, 1, drv.captured)
}

func TestExecutor_MissingConfirmDialogIsIgnored(t *testing.T) {
	drv := newActionDriver()
	drv.waitErrs["#confirm"] = schemas.NewDriverError(schemas.DriverTimeout, "waitFor",
		errors.New("deadline exceeded"))
	ex := newTestExecutor(t, "#confirm")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"#vote"}, drv.clicked)
}

func TestExecutor_ConfirmClickFailureIsIgnored(t *testing.T) {
	drv := newActionDriver()
	drv.clickErrs["#confirm"] = schemas.NewDriverError(schemas.DriverScriptError, "click",
		errors.New("node detached"))
	ex := newTestExecutor(t, "#confirm")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecutor_NoConfirmSelectorSkipsDialog(t *testing.T) {
	drv := newActionDriver()
	ex := newTestExecutor(t, "")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"#vote"}, drv.clicked)
}

func TestExecutor_PrimaryFailureReportsResult(t *testing.T) {
	drv := newActionDriver()
	drv.waitErrs["#vote"] = schemas.NewDriverError(schemas.DriverElementNotFound, "waitFor",
		errors.New("could not find node"))
	ex := newTestExecutor(t, "#confirm")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "action failed")
	// No proof is attempted for a failed action.
	assert.Equal(t, 0, drv.captured)
}

func TestExecutor_ArtifactFailureStillSucceeds(t *testing.T) {
	drv := newActionDriver()
	drv.artifactErr = schemas.NewDriverError(schemas.DriverScriptError, "captureArtifact",
		errors.New("screenshot failed"))
	ex := newTestExecutor(t, "")

	result, err := ex.Execute(context.Background(), drv)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.ArtifactRef)
	assert.Equal(t, "action completed (proof capture failed)", result.Message)
}

func TestExecutor_CancellationSurfacesAsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	drv := newActionDriver()
	drv.waitErrs["#vote"] = context.Canceled
	ex := newTestExecutor(t, "")

	_, err := ex.Execute(ctx, drv)
	assert.ErrorIs(t, err, context.Canceled)
}
