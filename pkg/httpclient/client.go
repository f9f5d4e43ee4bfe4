package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Getter issues GET requests. Both Client and Breaker satisfy it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Config controls timeouts and retries for upstream fetches.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultConfig returns the settings used for remote catalog fetches.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: 250 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// Client fetches JSON documents, retrying network errors and 5xx answers
// with jittered exponential backoff.
type Client struct {
	http   *http.Client
	cfg    Config
	jitter func(time.Duration) time.Duration
}

// New creates a client with its own transport.
func New(cfg Config) *Client {
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		cfg:    cfg,
		jitter: jitter,
	}
}

// Get fetches url. Once retries are exhausted the last 5xx response is
// returned unread so the caller can inspect it.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	for attempt := 0; ; attempt++ {
		resp, err := c.http.Do(req)
		if ctx.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return nil, ctx.Err()
		}
		if attempt >= c.cfg.MaxRetries || !retryable(resp, err) {
			if err != nil {
				return nil, fmt.Errorf("get failed after %d attempt(s): %w", attempt+1, err)
			}
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err := sleep(ctx, c.jitter(c.backoff(attempt))); err != nil {
			return nil, err
		}
	}
}

// backoff doubles RetryWaitMin per attempt, capped at RetryWaitMax.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.cfg.RetryWaitMin << attempt
	if wait <= 0 || wait > c.cfg.RetryWaitMax {
		return c.cfg.RetryWaitMax
	}
	return wait
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		var netErr net.Error
		return errors.As(err, &netErr)
	}
	return resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented
}

// jitter picks a duration in [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
