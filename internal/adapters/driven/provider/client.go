package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// Defaults for retrying provider calls.
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 30 * time.Second

	// maxResponseBody bounds how much of a response is read into memory.
	maxResponseBody = 64 << 20
)

// Client sends JSON requests to a provider with rate limiting and retries.
// Transient failures (network errors, timeouts, 408, 429, 5xx) are retried
// with exponential backoff; other 4xx responses and quota exhaustion fail
// immediately.
type Client struct {
	name        string
	http        *http.Client
	timeout     time.Duration
	limiter     *RateLimiter
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	headers     map[string]string
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. It applies to a copy of the
// HTTP client, so a client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit limits the request rate.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(c *Client) {
		c.limiter = NewRateLimiter(cfg)
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the first retry delay and the delay cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseBackoff = base
		}
		if maxDelay > 0 {
			c.maxBackoff = maxDelay
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// NewClient creates a client for the named provider.
func NewClient(name string, opts ...Option) *Client {
	c := &Client{
		name:        name,
		http:        &http.Client{Timeout: 60 * time.Second},
		limiter:     NewRateLimiter(RateLimitConfig{}),
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		headers:     make(map[string]string),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

// Name returns the provider name used in errors and metrics.
func (c *Client) Name() string {
	return c.name
}

// PostJSON sends in as JSON to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, op, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &domain.FatalProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	body, err := c.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.FatalProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Get issues a GET and discards the body. Used for health checks.
func (c *Client) Get(ctx context.Context, op, url string) error {
	_, err := c.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	})
	return err
}

// Do sends the request built by newReq, retrying transient failures.
// newReq is called once per attempt so request bodies can be replayed.
// A cancelled ctx returns ctx.Err() unwrapped; an expired deadline is
// reported as a TransientProviderError.
//
//nolint:gocyclo // retry loop with per-outcome handling
func (c *Client) Do(ctx context.Context, op string, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt, wait)); err != nil {
				return nil, c.contextError(ctx, op, attempt, lastErr)
			}
		}
		wait = 0

		if err := c.limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return nil, c.contextError(ctx, op, attempt, lastErr)
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, &domain.FatalProviderError{Provider: c.name, Op: op, Err: fmt.Errorf("create request: %w", err)}
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ObserveProvider(c.name, op, metrics.OutcomeTransient, time.Since(start))
			if ctx.Err() != nil {
				return nil, c.contextError(ctx, op, attempt+1, err)
			}
			lastErr = &domain.TransientProviderError{Provider: c.name, Op: op, Err: err}
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			metrics.ObserveProvider(c.name, op, metrics.OutcomeTransient, time.Since(start))
			lastErr = &domain.TransientProviderError{
				Provider: c.name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err),
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.ObserveProvider(c.name, op, metrics.OutcomeOK, time.Since(start))
			return body, nil
		}

		err = classify(c.name, op, resp.StatusCode, body)
		if domain.IsFatal(err) {
			metrics.ObserveProvider(c.name, op, metrics.OutcomeFatal, time.Since(start))
			return nil, err
		}

		metrics.ObserveProvider(c.name, op, metrics.OutcomeTransient, time.Since(start))
		if resp.StatusCode == http.StatusTooManyRequests {
			wait = retryAfter(resp.Header, time.Now())
			c.limiter.RecordRateLimit(wait)
		}
		lastErr = err
	}

	return nil, lastErr
}

// backoff returns the delay before the given retry attempt (1-based).
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := c.baseBackoff
	for i := 1; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

// contextError reports why the caller's context stopped the call.
// Cancellation passes through untouched; deadlines are transient.
func (c *Client) contextError(ctx context.Context, op string, attempts int, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	err := ctx.Err()
	if err == nil {
		err = context.DeadlineExceeded
	}
	if cause != nil {
		err = fmt.Errorf("%w after %d attempt(s): %v", err, attempts, cause)
	}
	return &domain.TransientProviderError{Provider: c.name, Op: op, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
