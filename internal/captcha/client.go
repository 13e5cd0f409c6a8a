// File: internal/captcha/client.go
package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Solver response markers from the remote service's protocol.
const (
	responseNotReady   = "CAPCHA_NOT_READY"
	responseUnsolvable = "ERROR_CAPTCHA_UNSOLVABLE"
)

// SolverClient is the wire-level contract with the external challenge
// solver: submit a challenge, then poll its request ID.
type SolverClient interface {
	Submit(ctx context.Context, ch *schemas.Challenge) (string, error)
	Poll(ctx context.Context, requestID string) (schemas.ChallengeOutcome, error)
}

// Client talks to a 2captcha-compatible solver over HTTP. The service has its
// own rate limits, so every call passes through a local limiter. The client
// is safe for concurrent use across sessions.
type Client struct {
	cfg        config.SolverConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ SolverClient = (*Client)(nil)

// NewClient builds a solver client from configuration.
func NewClient(cfg config.SolverConfig, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1.", zap.Error(err))
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.Named("solver"),
	}
}

// solverResponse is the wire shape shared by the submit and poll endpoints.
type solverResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit registers a challenge with the solver and returns the external
// request ID. Fails with schemas.ErrSolverUnavailable when no API key is
// configured.
func (c *Client) Submit(ctx context.Context, ch *schemas.Challenge) (string, error) {
	if c.cfg.APIKey == "" {
		return "", schemas.ErrSolverUnavailable
	}

	form := url.Values{}
	form.Set("key", c.cfg.APIKey)
	form.Set("json", "1")
	form.Set("pageurl", ch.PageURL)

	switch ch.Kind {
	case schemas.ChallengeRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", ch.SiteKey)
	case schemas.ChallengeManagedJS:
		form.Set("method", "aws_waf")
		form.Set("sitekey", ch.Key)
		form.Set("iv", ch.IV)
		form.Set("context", ch.Context)
	default:
		return "", fmt.Errorf("unsupported challenge kind %q", ch.Kind)
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/in.php", form)
	if err != nil {
		return "", fmt.Errorf("challenge submission failed: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("solver rejected challenge: %s", resp.Request)
	}

	c.logger.Debug("Challenge submitted to solver.",
		zap.String("kind", string(ch.Kind)),
		zap.String("request_id", resp.Request))
	return resp.Request, nil
}

// Poll asks the solver for the state of a previously submitted request and
// classifies the answer into pending, solved, or unsolvable.
func (c *Client) Poll(ctx context.Context, requestID string) (schemas.ChallengeOutcome, error) {
	if c.cfg.APIKey == "" {
		return schemas.ChallengeOutcome{}, schemas.ErrSolverUnavailable
	}

	query := url.Values{}
	query.Set("key", c.cfg.APIKey)
	query.Set("action", "get")
	query.Set("id", requestID)
	query.Set("json", "1")

	resp, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return schemas.ChallengeOutcome{}, fmt.Errorf("solver poll failed: %w", err)
	}

	if resp.Status == 1 {
		return schemas.ChallengeOutcome{Status: schemas.ChallengeSolved, Token: resp.Request}, nil
	}

	switch resp.Request {
	case responseNotReady:
		return schemas.ChallengeOutcome{Status: schemas.ChallengePending}, nil
	case responseUnsolvable:
		return schemas.ChallengeOutcome{Status: schemas.ChallengeUnsolvable}, nil
	default:
		return schemas.ChallengeOutcome{}, fmt.Errorf("solver returned error: %s", resp.Request)
	}
}

// do issues one rate-limited request and decodes the solver's JSON envelope.
func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) (*solverResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build solver request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solver returned HTTP %d", httpResp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read solver response: %w", err)
	}

	var resp solverResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode solver response: %w", err)
	}
	return &resp, nil
}
