package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
)

// CatalogHandler serves the product catalog.
type CatalogHandler struct {
	catalog  Catalog
	sessions SessionStore
	logger   *slog.Logger
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(catalog Catalog, sessions SessionStore, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog:  catalog,
		sessions: sessions,
		logger:   logger,
	}
}

// ListCatalog handles GET /api/v1/catalog. The session header is optional;
// when it names a live session each entry reports whether it is in the cart.
func (h *CatalogHandler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	inCart := func(string) bool { return false }

	if raw := r.Header.Get(middleware.SessionHeader); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			if s, err := h.sessions.Get(r.Context(), id.String()); err == nil {
				inCart = s.Cart.Contains
			}
		}
	}

	httputil.WriteData(w, http.StatusOK, newCatalogResponse(h.catalog.Categories(), inCart))
}
