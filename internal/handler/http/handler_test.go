package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ============================================================================
// Test helpers
// ============================================================================

type fakeCatalog struct {
	categories []domain.Category
}

func (c fakeCatalog) Categories() []domain.Category {
	return c.categories
}

func (c fakeCatalog) Lookup(name string) (domain.CatalogEntry, error) {
	for _, cat := range c.categories {
		for _, p := range cat.Plants {
			if p.Name == name {
				return p, nil
			}
		}
	}
	return domain.CatalogEntry{}, apperrors.NotFound("plant", name)
}

func testCatalog() fakeCatalog {
	return fakeCatalog{categories: []domain.Category{
		{Category: "Air Purifying Plants", Plants: []domain.CatalogEntry{
			{Name: "Boston Fern", Image: "images/boston-fern.jpg", Description: "Humid.", Cost: "$20.25"},
			{Name: "Snake Plant", Image: "images/snake-plant.jpg", Description: "Hardy.", Cost: "$15.00"},
		}},
		{Category: "Curiosities", Plants: []domain.CatalogEntry{
			{Name: "Mystery Plant", Image: "images/mystery.jpg", Description: "Priceless.", Cost: "free"},
		}},
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	router   http.Handler
	sessions *session.Manager
}

func newTestEnv(t *testing.T, opts ...func(*RouterConfig)) *testEnv {
	t.Helper()
	logger := testLogger()
	mgr := session.NewManager(session.Config{IdleTTL: time.Hour, DismissAfter: time.Hour}, logger)
	t.Cleanup(func() { mgr.CloseAll(context.Background()) })

	cfg := RouterConfig{
		Sessions:  mgr,
		Catalog:   testCatalog(),
		Health:    health.NewHandler(),
		CORS:      middleware.DefaultCORSConfig(),
		KeepAlive: time.Hour,
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &testEnv{router: NewRouter(cfg), sessions: mgr}
}

func (e *testEnv) newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := e.sessions.Create(context.Background())
	require.NoError(t, err)
	return s
}

func (e *testEnv) do(method, path, sessionID, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Data  T                       `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	env := decode[any](t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, code, env.Error.Code)
}

// ============================================================================
// Sessions
// ============================================================================

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/sessions", "", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[sessionResponse](t, rec)
	_, err := uuid.Parse(body.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, body.Data.ID, rec.Header().Get(middleware.SessionHeader))
	assert.False(t, body.Data.CreatedAt.IsZero())
	assert.Equal(t, 1, env.sessions.Len())
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodDelete, "/api/v1/sessions/"+s.ID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.sessions.Len())

	rec = env.do(http.MethodDelete, "/api/v1/sessions/"+s.ID, "", "")
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = env.do(http.MethodDelete, "/api/v1/sessions/not-a-uuid", "", "")
	requireErrorCode(t, rec, http.StatusBadRequest, "INVALID_PARAMETER")
}

func TestRequireSession(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		sessionID string
		status    int
		code      string
	}{
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"malformed header", "abc", http.StatusBadRequest, "INVALID_PARAMETER"},
		{"unknown session", uuid.NewString(), http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/v1/cart", "/api/v1/checkout", "/api/v1/events"} {
				rec := env.do(http.MethodGet, path, tt.sessionID, "")
				requireErrorCode(t, rec, tt.status, tt.code)
			}
		})
	}
}

// ============================================================================
// Catalog
// ============================================================================

func TestListCatalog_InCartFlag(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodGet, "/api/v1/catalog", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[[]categoryResponse](t, rec)
	require.Len(t, anon.Data, 2)
	assert.Equal(t, "Air Purifying Plants", anon.Data[0].Category)
	assert.Equal(t, "air-purifying-plants", anon.Data[0].ID)
	assert.Equal(t, "$20.25", anon.Data[0].Plants[0].Cost)
	assert.False(t, anon.Data[0].Plants[0].InCart)

	rec = env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Boston Fern"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/catalog", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	withSession := decode[[]categoryResponse](t, rec)
	assert.True(t, withSession.Data[0].Plants[0].InCart)
	assert.False(t, withSession.Data[0].Plants[1].InCart)

	// An unknown session only loses the flags.
	rec = env.do(http.MethodGet, "/api/v1/catalog", uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[[]categoryResponse](t, rec).Data[0].Plants[0].InCart)
}

// ============================================================================
// Cart
// ============================================================================

func TestCart_EmptyOnCreate(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodGet, "/api/v1/cart", s.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[cartResponse](t, rec)
	assert.Empty(t, body.Data.Items)
	assert.Equal(t, 0, body.Data.ItemCount)
	assert.Equal(t, "$0.00", body.Data.Total)
}

func TestCart_LineLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	const item = "/api/v1/cart/items/Boston%20Fern"

	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Boston Fern"}`)
	rec := env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Boston Fern"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[cartResponse](t, rec)
	require.Len(t, body.Data.Items, 1)
	assert.Equal(t, cartItemResponse{
		Name:      "Boston Fern",
		Image:     "images/boston-fern.jpg",
		UnitPrice: "$20.25",
		Quantity:  2,
		Subtotal:  "$40.50",
	}, body.Data.Items[0])
	assert.Equal(t, 2, body.Data.ItemCount)
	assert.Equal(t, "$40.50", body.Data.Total)
	assert.Equal(t, 2, body.Data.Version)

	rec = env.do(http.MethodPut, item, s.ID, `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[cartResponse](t, rec).Data.Items[0].Quantity)

	rec = env.do(http.MethodPost, item+"/increment", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[cartResponse](t, rec).Data.Items[0].Quantity)

	rec = env.do(http.MethodPost, item+"/decrement", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[cartResponse](t, rec)
	assert.Equal(t, 3, body.Data.Items[0].Quantity)
	assert.Equal(t, "$60.75", body.Data.Total)

	env.do(http.MethodPut, item, s.ID, `{"quantity":1}`)
	rec = env.do(http.MethodPost, item+"/decrement", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cartResponse](t, rec).Data.Items, "decrement at quantity one removes the line")

	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Snake Plant"}`)
	rec = env.do(http.MethodDelete, "/api/v1/cart/items/Snake%20Plant", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[cartResponse](t, rec).Data.Items)
}

func TestCart_UnknownItemIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Snake Plant"}`)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodDelete, "/api/v1/cart/items/Cactus", ""},
		{http.MethodPut, "/api/v1/cart/items/Cactus", `{"quantity":2}`},
		{http.MethodPost, "/api/v1/cart/items/Cactus/decrement", ""},
		{http.MethodPost, "/api/v1/cart/items/Cactus/increment", ""},
	} {
		rec := env.do(tc.method, tc.path, s.ID, tc.body)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		body := decode[cartResponse](t, rec)
		assert.Equal(t, 1, body.Data.Version, tc.path)
		assert.Equal(t, 1, body.Data.ItemCount, tc.path)
	}
}

func TestCart_ItemNamesWithReservedCharacters(t *testing.T) {
	catalog := fakeCatalog{categories: []domain.Category{
		{Category: "Moss", Plants: []domain.CatalogEntry{
			{Name: "Moss 100%", Image: "images/moss.jpg", Description: "Soft.", Cost: "$5.00"},
			{Name: "Fern/Palm", Image: "images/fern-palm.jpg", Description: "Tall.", Cost: "$7.50"},
		}},
	}}
	env := newTestEnv(t, func(cfg *RouterConfig) { cfg.Catalog = catalog })
	s := env.newSession(t)

	for _, tc := range []struct{ name, path string }{
		{"Moss 100%", "/api/v1/cart/items/Moss%20100%25"},
		{"Fern/Palm", "/api/v1/cart/items/Fern%2FPalm"},
	} {
		rec := env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"`+tc.name+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, tc.name)

		rec = env.do(http.MethodPut, tc.path, s.ID, `{"quantity":3}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, s.Cart.Contains(tc.name), tc.name)
		for _, item := range decode[cartResponse](t, rec).Data.Items {
			if item.Name == tc.name {
				assert.Equal(t, 3, item.Quantity, tc.name)
			}
		}
	}
}

func TestCart_AddItemErrors(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Cactus"}`)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[any](t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "name")

	rec = env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":`)
	requireErrorCode(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("name=Fern"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.SessionHeader, s.ID)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	requireErrorCode(t, rr, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE")

	assert.Equal(t, 0, s.Cart.ItemCount())
}

func TestCart_UpdateQuantityValidation(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Snake Plant"}`)

	rec := env.do(http.MethodPut, "/api/v1/cart/items/Snake%20Plant", s.ID, `{"quantity":0}`)

	requireErrorCode(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, 1, s.Cart.ItemCount())
}

func TestCart_MalformedPriceIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	// Adding never fails; computing the total does.
	rec := env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Mystery Plant"}`)
	requireErrorCode(t, rec, http.StatusUnprocessableEntity, "UNPROCESSABLE")
	assert.True(t, s.Cart.Contains("Mystery Plant"))

	rec = env.do(http.MethodGet, "/api/v1/cart", s.ID, "")
	requireErrorCode(t, rec, http.StatusUnprocessableEntity, "UNPROCESSABLE")
}

// ============================================================================
// Checkout
// ============================================================================

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodPost, "/api/v1/checkout", s.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[checkoutResponse](t, rec)
	assert.Equal(t, checkout.PhaseNotifyVisible, body.Data.Phase)
	assert.Equal(t, checkout.MessageEmptyCart, body.Data.Notification)
	assert.Empty(t, body.Data.PendingTotal)
	require.NotNil(t, body.Data.ExpiresAt)
}

func TestCheckout_ConfirmAndProceed(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Boston Fern"}`)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Boston Fern"}`)

	rec := env.do(http.MethodGet, "/api/v1/checkout", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkout.PhaseIdle, decode[checkoutResponse](t, rec).Data.Phase)

	rec = env.do(http.MethodPost, "/api/v1/checkout", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[checkoutResponse](t, rec)
	assert.Equal(t, checkout.PhaseConfirmPending, body.Data.Phase)
	assert.Equal(t, "$40.50", body.Data.PendingTotal)
	assert.Nil(t, body.Data.ExpiresAt)

	rec = env.do(http.MethodPost, "/api/v1/checkout", s.ID, "")
	requireErrorCode(t, rec, http.StatusConflict, "INVALID_TRANSITION")

	rec = env.do(http.MethodPost, "/api/v1/checkout/proceed", s.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[checkoutResponse](t, rec)
	assert.Equal(t, checkout.PhaseNotifyVisible, body.Data.Phase)
	assert.Equal(t, "Thank you for your purchase! Your card will be charged $40.50.", body.Data.Notification)

	rec = env.do(http.MethodPost, "/api/v1/checkout/cancel", s.ID, "")
	requireErrorCode(t, rec, http.StatusConflict, "INVALID_TRANSITION")

	assert.Equal(t, 2, s.Cart.ItemCount(), "cart is kept after proceed by default")
}

func TestCheckout_Cancel(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Snake Plant"}`)

	env.do(http.MethodPost, "/api/v1/checkout", s.ID, "")
	rec := env.do(http.MethodPost, "/api/v1/checkout/cancel", s.ID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[checkoutResponse](t, rec)
	assert.Equal(t, checkout.PhaseNotifyVisible, body.Data.Phase)
	assert.Equal(t, checkout.MessageCanceled, body.Data.Notification)
}

func TestCheckout_ProceedFromIdleRejected(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)

	rec := env.do(http.MethodPost, "/api/v1/checkout/proceed", s.ID, "")

	requireErrorCode(t, rec, http.StatusConflict, "INVALID_TRANSITION")
	assert.Equal(t, checkout.PhaseIdle, s.Checkout.State().Phase)
}

func TestCheckout_MalformedPriceLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	s := env.newSession(t)
	env.do(http.MethodPost, "/api/v1/cart/items", s.ID, `{"name":"Mystery Plant"}`)

	rec := env.do(http.MethodPost, "/api/v1/checkout", s.ID, "")

	requireErrorCode(t, rec, http.StatusUnprocessableEntity, "UNPROCESSABLE")
	assert.Equal(t, checkout.PhaseIdle, s.Checkout.State().Phase)
}

// ============================================================================
// Ambient routes
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(http.MethodGet, "/api/v1/catalog", "", "")
	rec = env.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRouter_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = middleware.NewRateLimiter(0.001, 1, time.Minute, testLogger())
	})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/catalog", "", "").Code)
	rec := env.do(http.MethodGet, "/api/v1/catalog", "", "")
	requireErrorCode(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health/live", "", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart", nil)
	req.Header.Set("Origin", "https://nursery.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.SessionHeader)
}

func TestRouter_CORSRestrictedOrigins(t *testing.T) {
	env := newTestEnv(t, func(cfg *RouterConfig) {
		cfg.CORS = middleware.CORSConfig{AllowedOrigins: []string{"https://shop.example"}}
	})

	for _, tc := range []struct {
		origin string
		want   int
	}{
		{"https://shop.example", http.StatusNoContent},
		{"https://evil.example", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/items/Snake%20Plant", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		req.Header.Set("Access-Control-Request-Headers", "content-type, x-session-id")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, tc.want, rec.Code, tc.origin)
		if tc.want == http.StatusNoContent {
			assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.SessionHeader)
		}
	}
}

func TestCartHandler_MissingSessionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := NewCartHandler(testCatalog(), logger)

	rec := httptest.NewRecorder()
	h.GetCart(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	requireErrorCode(t, rec, http.StatusInternalServerError, "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "session missing from request context")
}
