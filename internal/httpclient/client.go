package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client wraps http.Client with rate limiting and retries
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay
	InitialInterval time.Duration
}

// Options holds options for creating a new Client
type Options struct {
	Timeout         time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// New creates a rate-limited client
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 20 * time.Second
	}
	return &Client{
		HTTPClient:      &http.Client{Timeout: opts.Timeout},
		Limiter:         rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		MaxElapsed:      opts.MaxRetryTimeout,
		InitialInterval: 500 * time.Millisecond,
	}
}

// HTTPStatusError is returned for a non-2xx response
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d (%s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the status is worth another attempt
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Do runs build+send until it succeeds, the error is permanent or the retry
// budget is spent. build is called per attempt so request bodies are fresh.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	operation := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := build(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
			if statusErr.Retryable() {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body = data
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		strategy.InitialInterval = c.InitialInterval
	}
	strategy.MaxElapsedTime = c.MaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
