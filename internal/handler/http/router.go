package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// RouterConfig carries the router's dependencies. RateLimiter and Shutdown
// may be nil.
type RouterConfig struct {
	Sessions    SessionStore
	Catalog     Catalog
	Health      *health.Handler
	RateLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
	KeepAlive   time.Duration
	Shutdown    <-chan struct{}
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	catalogHandler := NewCatalogHandler(cfg.Catalog, cfg.Sessions, logger)
	sessionHandler := NewSessionHandler(cfg.Sessions, logger)
	cartHandler := NewCartHandler(cfg.Catalog, logger)
	checkoutHandler := NewCheckoutHandler(logger)
	eventsHandler := NewEventsHandler(cfg.KeepAlive, cfg.Shutdown, logger)
	requireSession := RequireSession(cfg.Sessions, logger)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		// Streams are long-lived and must not be compressed or timed out.
		r.With(requireSession).Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Compress(5))
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(ContentTypeJSON)

			r.Get("/catalog", catalogHandler.ListCatalog)

			r.Post("/sessions", sessionHandler.CreateSession)
			r.Delete("/sessions/{sessionId}", sessionHandler.EndSession)

			r.Group(func(r chi.Router) {
				r.Use(requireSession)

				r.Get("/cart", cartHandler.GetCart)
				r.Post("/cart/items", cartHandler.AddItem)
				r.Put("/cart/items/{name}", cartHandler.UpdateItemQuantity)
				r.Delete("/cart/items/{name}", cartHandler.RemoveItem)
				r.Post("/cart/items/{name}/increment", cartHandler.IncrementItem)
				r.Post("/cart/items/{name}/decrement", cartHandler.DecrementItem)

				r.Get("/checkout", checkoutHandler.GetCheckout)
				r.Post("/checkout", checkoutHandler.StartCheckout)
				r.Post("/checkout/proceed", checkoutHandler.Proceed)
				r.Post("/checkout/cancel", checkoutHandler.Cancel)
			})
		})
	})

	return r
}
