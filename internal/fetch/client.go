// Package fetch funnels all outbound HTTP requests through one admission
// gate: a shared token bucket enforcing the request budget, a concurrency
// cap, and jittered retries on transient failures.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/listkeeper/listkeeper/internal/metrics"
)

// maxBodyBytes caps response bodies; API payloads and reachability probes
// never need more.
const maxBodyBytes = 2 << 20

// Config captures every knob of the shared client.
type Config struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// DefaultConfig returns conservative defaults suitable for public APIs.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     10,
		RequestsPerWindow: 60,
		Window:            time.Minute,
		MaxRetries:        3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
		Timeout:           15 * time.Second,
		UserAgent:         "listkeeper/1.0 (+https://github.com/listkeeper/listkeeper)",
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = d.RequestsPerWindow
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
}

// Response is the outcome of a completed request. Non-2xx statuses below
// the retry threshold (404, 410, ...) come back as a normal Response for
// the caller to interpret.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RequestOptions carries per-request extras.
type RequestOptions struct {
	Header http.Header
}

// FetchError reports a request that failed after exhausting its retries,
// carrying the last observed status or transport error.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v (after %d attempt(s))", e.URL, e.Err, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: status %d (after %d attempt(s))", e.URL, e.StatusCode, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client is the process-wide gate around outbound HTTP calls. The budget
// and concurrency cap live in the client, so they hold globally no matter
// how many goroutines call Do.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	policy     retryPolicy
	timeout    time.Duration
	userAgent  string
	logger     *zap.Logger
}

// New constructs a Client from config. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Window / time.Duration(cfg.RequestsPerWindow)
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		policy: retryPolicy{
			maxRetries:  cfg.MaxRetries,
			backoffBase: cfg.BackoffBase,
			backoffMax:  cfg.BackoffMax,
		},
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Do issues one logical request, blocking until the concurrency cap and the
// request budget admit it. Transient failures (transport errors, 5xx, 429)
// are retried with capped jittered backoff; exhausting retries returns a
// *FetchError.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	host := hostOf(rawURL)
	var lastStatus int
	var lastErr error

	attempts := 0
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch canceled: %w", err)
		}

		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		if waited := time.Since(waitStart); waited > time.Millisecond {
			metrics.ObserveRateLimitDelay(host, waited)
		}

		attempts++
		resp, status, err := c.attempt(ctx, method, rawURL, opts)
		metrics.ObserveRequest(host, status)
		if err == nil && !transient(status) {
			return resp, nil
		}

		lastStatus = status
		lastErr = err
		if !c.policy.shouldRetry(err, status, attempt) {
			break
		}

		delay := c.policy.backoff(attempt)
		if resp != nil {
			if ra := retryAfter(resp.Header); ra > delay {
				delay = ra
			}
		}
		metrics.ObserveRetry(host)
		c.logger.Debug("retrying request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, &FetchError{URL: rawURL, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

// attempt performs one HTTP round trip with a per-attempt deadline.
func (c *Client) attempt(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if opts != nil {
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, resp.StatusCode, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Hostname()
}
