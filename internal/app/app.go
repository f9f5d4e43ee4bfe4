package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
)

// rateLimitVisitorTTL is how long an idle client's token bucket is kept.
const rateLimitVisitorTTL = 3 * time.Minute

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	catalog        *catalog.Catalog
	sessions       *session.Manager
	rateLimiter    *middleware.RateLimiter
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "storefront",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Load the catalog. Remote catalogs go through the circuit breaker client.
	catalogOpts := catalog.Options{
		URL:    cfg.CatalogURL,
		Path:   cfg.CatalogPath,
		Logger: logger,
	}
	if cfg.CatalogURL != "" {
		catalogOpts.Client = httpclient.NewBreaker(
			httpclient.New(httpclient.DefaultConfig()),
			catalogBreakerConfig(cfg),
			logger,
		)
	}
	cat, err := catalog.Load(ctx, catalogOpts)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("load catalog: %w", err), shutdownTracer(tracerShutdown))
	}

	// Session options. Analytics events are attached per session when enabled.
	var (
		producer    *pkgkafka.Producer
		sessionOpts []session.Option
	)
	if cfg.EventsEnabled {
		kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
		// Publishing runs inside cart and checkout listeners and must not block them.
		kafkaCfg.Async = true
		producer = pkgkafka.NewProducer(kafkaCfg, logger)
		if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		sessionOpts = append(sessionOpts, session.WithAttach(event.NewProducer(producer, logger).Attach))
	}

	sessions := session.NewManager(session.Config{
		IdleTTL:            cfg.SessionIdleTTL,
		DismissAfter:       cfg.DismissAfter,
		ClearCartOnProceed: cfg.ClearCartOnProceed,
	}, logger, sessionOpts...)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("catalog", func(ctx context.Context) error {
		if cat.Len() == 0 {
			return errors.New("catalog is empty")
		}
		return nil
	})
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, rateLimitVisitorTTL, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	// Open event streams end as soon as shutdown starts so the drain can finish.
	streamsDone := make(chan struct{})

	router := handler.NewRouter(handler.RouterConfig{
		Sessions:    sessions,
		Catalog:     cat,
		Health:      healthHandler,
		RateLimiter: rateLimiter,
		CORS:        corsCfg,
		Shutdown:    streamsDone,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(func() { close(streamsDone) })

	return &App{
		cfg:            cfg,
		logger:         logger,
		catalog:        cat,
		sessions:       sessions,
		rateLimiter:    rateLimiter,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Handler returns the HTTP handler serving the storefront API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and background jobs, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	// Expire idle sessions and evict idle rate limit buckets.
	go a.sessions.Run(bgCtx, a.cfg.SessionSweepInterval)
	go a.rateLimiter.Run(bgCtx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopBackground()
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests, end event streams)
// 2. Sessions (cancel dismiss timers, publish session.ended)
// 3. Kafka producer (flush pending events)
// 4. Tracer (flush pending spans)
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.sessions.CloseAll(context.Background())

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := shutdownTracer(a.tracerShutdown); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func shutdownTracer(shutdown func(context.Context) error) error {
	if shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return shutdown(ctx)
}

// pingKafkaWithRetry attempts to reach the brokers with exponential backoff
// (3 attempts, 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempts, lastErr)
}

// catalogBreakerConfig maps the CB_* settings onto the catalog breaker.
func catalogBreakerConfig(cfg *config.Config) httpclient.BreakerConfig {
	return httpclient.BreakerConfig{
		Name:         "catalog",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     cfg.CBInterval,
		Timeout:      cfg.CBTimeout,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
}
