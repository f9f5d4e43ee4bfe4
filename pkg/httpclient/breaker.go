package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned, wrapped, while a breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig mirrors the CB_* environment settings.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // trial requests allowed while half-open
	Interval     time.Duration // closed-state count reset period; 0 never resets
	Timeout      time.Duration // open duration before half-open
	FailureRatio float64
	MinRequests  uint32
}

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	breakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_breaker_rejected_total",
			Help: "Calls rejected without reaching the upstream",
		},
		[]string{"upstream"},
	)
)

// UpstreamError is a 5xx answer. It counts as a breaker failure.
type UpstreamError struct {
	Upstream string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Upstream, e.Status)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Upstream, e.Status, e.Body)
}

// Breaker guards a Getter with a gobreaker circuit breaker. Transport errors
// and 5xx answers trip it; caller cancellation does not.
type Breaker struct {
	next   Getter
	cb     *gobreaker.CircuitBreaker[*http.Response]
	name   string
	logger *slog.Logger
}

// NewBreaker wraps next.
func NewBreaker(next Getter, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Breaker{next: next, name: cfg.Name, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream breaker state change",
				slog.String("upstream", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	breakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))
	return b
}

// Get fetches url unless the breaker is open. 4xx answers are returned to
// the caller and count as successes.
func (b *Breaker) Get(ctx context.Context, url string) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &UpstreamError{
				Upstream: b.name,
				Status:   resp.StatusCode,
				Body:     strings.TrimSpace(string(body)),
			}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerRejected.WithLabelValues(b.name).Inc()
		b.logger.WarnContext(ctx, "upstream call rejected by breaker", slog.String("upstream", b.name))
		return nil, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
