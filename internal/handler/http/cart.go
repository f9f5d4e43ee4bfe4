package http

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// CartHandler handles HTTP requests for cart endpoints. Every route runs
// behind RequireSession.
type CartHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(catalog Catalog, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}
	h.writeCart(w, r, s.Cart.Snapshot())
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	var req AddItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.catalog.Lookup(req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeCart(w, r, s.Cart.AddItem(r.Context(), entry))
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{name}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	name, err := itemName(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req UpdateQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.writeCart(w, r, s.Cart.UpdateQuantity(r.Context(), name, req.Quantity))
}

// IncrementItem handles POST /api/v1/cart/items/{name}/increment
func (h *CartHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	name, err := itemName(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeCart(w, r, s.Cart.Increment(r.Context(), name))
}

// DecrementItem handles POST /api/v1/cart/items/{name}/decrement. A line at
// quantity one is removed.
func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	name, err := itemName(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeCart(w, r, s.Cart.Decrement(r.Context(), name))
}

// RemoveItem handles DELETE /api/v1/cart/items/{name}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	name, err := itemName(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeCart(w, r, s.Cart.RemoveItem(r.Context(), name))
}

func (h *CartHandler) writeCart(w http.ResponseWriter, r *http.Request, c domain.Cart) {
	resp, err := newCartResponse(c)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, resp)
}

// itemName returns the decoded {name} path parameter. Plant names carry
// spaces, so clients send them percent-encoded.
// itemName returns the decoded {name} parameter. chi routes on RawPath when
// the request carries one, and only then is the parameter still escaped.
func itemName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			return "", apperrors.InvalidInput("invalid item name")
		}
	}
	if name == "" {
		return "", apperrors.InvalidInput("invalid item name")
	}
	return name, nil
}
