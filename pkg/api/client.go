// Package api implements the authenticated client for the NYKNYC backend:
// transaction and sign-request creation and status polling, OAuth token
// exchange and refresh, and the single-retry-on-401 policy every call is
// wrapped in.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nyknyc/nyknyc-go/pkg/idx"
	"github.com/nyknyc/nyknyc-go/pkg/slogx"
)

// Default polling tuning. Transaction and sign waits poll at a fixed
// interval; network failures back off exponentially up to maxBackoff.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 150 // ~5 minutes at the default interval

	maxBackoff = 10 * time.Second
)

// Default client-side pacing. Generous enough that interactive flows never
// queue, while runaway polling loops stay below the backend's own limits.
const (
	defaultRateLimit = rate.Limit(20) // requests per second
	defaultRateBurst = 50
)

// Config carries the client construction parameters.
type Config struct {
	// BaseURL is the backend API root, e.g. "https://api.nyknyc.app".
	BaseURL string

	// AppID identifies the dApp to the OAuth endpoints.
	AppID string

	// HTTPClient overrides the default 30s-timeout client.
	HTTPClient *http.Client

	// Limiter paces outbound calls client-side. When nil, a default of 20
	// requests per second with a burst of 50 is applied.
	Limiter *rate.Limiter

	// PollInterval and PollAttempts tune the wait-for-* primitives.
	PollInterval time.Duration
	PollAttempts int

	Logger *slog.Logger
}

// Client is the authenticated NYKNYC backend client.
type Client struct {
	baseURL      string
	appID        string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	pollAttempts int
	logger       *slog.Logger
}

// New creates a backend client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(defaultRateLimit, defaultRateBurst)
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		appID:        cfg.AppID,
		httpClient:   httpClient,
		limiter:      limiter,
		pollInterval: interval,
		pollAttempts: attempts,
		logger:       logger,
	}
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// AppID returns the configured application id.
func (c *Client) AppID() string { return c.appID }

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.baseURL + path
}

// RefreshFunc obtains a fresh access token after a 401. It is invoked at
// most once per call.
type RefreshFunc func(ctx context.Context) (string, error)

// doRequest performs one HTTP request, honoring the client-side rate
// limiter and tagging both the wire call and the context logger with a
// fresh request correlation id.
func (c *Client) doRequest(
	ctx context.Context,
	method, path, token string,
	body io.Reader,
	contentType string,
) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqID := idx.New().String()
	ctx = slogx.WithRequestID(ctx, c.logger, reqID)
	logger := slogx.FromContext(ctx, c.logger)

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}

	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger.Debug("api: request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: send request: %w", err)
	}

	return resp, nil
}

// WithAuth executes fn with the given token. If the response maps to a 401
// and onUnauthorized is supplied, it is invoked exactly once to obtain a new
// token and fn is retried exactly once with it; whatever that retry returns
// is propagated. It never loops beyond the single retry.
func (c *Client) WithAuth(
	ctx context.Context,
	token string,
	onUnauthorized RefreshFunc,
	fn func(ctx context.Context, token string) error,
) error {
	err := fn(ctx, token)
	if err == nil || onUnauthorized == nil || !IsUnauthorized(err) {
		return err
	}

	c.logger.Debug("api: 401, refreshing token and retrying once")
	newToken, refreshErr := onUnauthorized(ctx)
	if refreshErr != nil {
		return fmt.Errorf("api: token refresh after 401 failed: %w", refreshErr)
	}

	return fn(ctx, newToken)
}

// getJSON performs an authenticated GET and decodes the 200 body into out.
func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, token, nil, "")
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, http.StatusOK)
}

// postJSON performs an authenticated POST with a JSON body and decodes the
// 2xx response into out.
func (c *Client) postJSON(ctx context.Context, path, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("api: marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, path, token,
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, http.StatusOK)
}

// decodeJSON decodes a JSON response into target, mapping non-2xx statuses
// to typed errors first. A 201 is accepted wherever a 200 is expected.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus && resp.StatusCode != http.StatusCreated {
		return responseError(resp.StatusCode, bodyBytes)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return nil
}

// backoffDelay returns the exponential backoff delay for the given retry
// count, capped at maxBackoff.
func (c *Client) backoffDelay(networkFailures int) time.Duration {
	delay := c.pollInterval << networkFailures
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

// sleep suspends until the delay elapses or ctx is done.
func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
