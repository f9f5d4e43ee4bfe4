package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/pkg/httputil"
)

// CheckoutHandler handles HTTP requests for the checkout flow. Every route
// runs behind RequireSession.
type CheckoutHandler struct {
	logger *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{logger: logger}
}

// GetCheckout handles GET /api/v1/checkout
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}
	httputil.WriteData(w, http.StatusOK, newCheckoutResponse(s.Checkout.State()))
}

// StartCheckout handles POST /api/v1/checkout
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Flow).Checkout)
}

// Proceed handles POST /api/v1/checkout/proceed
func (h *CheckoutHandler) Proceed(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Flow).Proceed)
}

// Cancel handles POST /api/v1/checkout/cancel
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*checkout.Flow).Cancel)
}

func (h *CheckoutHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(*checkout.Flow, context.Context) (checkout.State, error),
) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	st, err := op(s.Checkout, r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCheckoutResponse(st))
}
