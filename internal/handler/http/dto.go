package http

import (
	"time"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/pricing"
	"github.com/utafrali/storefront/pkg/slug"
)

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding a catalog entry to the cart.
type AddItemRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// UpdateQuantityRequest is the JSON request body for setting a line quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=1"`
}

// --- Response DTOs ---

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type catalogEntryResponse struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	Cost        string `json:"cost"`
	InCart      bool   `json:"in_cart"`
}

type categoryResponse struct {
	ID       string                 `json:"id"`
	Category string                 `json:"category"`
	Plants   []catalogEntryResponse `json:"plants"`
}

type cartItemResponse struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type cartResponse struct {
	Items     []cartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Total     string             `json:"total"`
	Version   int                `json:"version"`
}

type checkoutResponse struct {
	Phase        checkout.Phase `json:"phase"`
	PendingTotal string         `json:"pending_total,omitempty"`
	Notification string         `json:"notification,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Seq          int            `json:"seq"`
}

func newCatalogResponse(categories []domain.Category, inCart func(name string) bool) []categoryResponse {
	out := make([]categoryResponse, len(categories))
	for i, cat := range categories {
		plants := make([]catalogEntryResponse, len(cat.Plants))
		for j, p := range cat.Plants {
			plants[j] = catalogEntryResponse{
				Name:        p.Name,
				Image:       p.Image,
				Description: p.Description,
				Cost:        p.Cost,
				InCart:      inCart(p.Name),
			}
		}
		out[i] = categoryResponse{ID: slug.Generate(cat.Category), Category: cat.Category, Plants: plants}
	}
	return out
}

func newCartResponse(c domain.Cart) (cartResponse, error) {
	items := make([]cartItemResponse, len(c.Items))
	for i, item := range c.Items {
		sub, err := item.Subtotal()
		if err != nil {
			return cartResponse{}, err
		}
		items[i] = cartItemResponse{
			Name:      item.Name,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  pricing.Format(sub),
		}
	}

	total, err := c.Total()
	if err != nil {
		return cartResponse{}, err
	}

	return cartResponse{
		Items:     items,
		ItemCount: c.ItemCount(),
		Total:     pricing.Format(total),
		Version:   c.Version,
	}, nil
}

func newCheckoutResponse(st checkout.State) checkoutResponse {
	resp := checkoutResponse{
		Phase:        st.Phase,
		Notification: st.Notification,
		Seq:          st.Seq,
	}
	if st.Phase == checkout.PhaseConfirmPending {
		resp.PendingTotal = pricing.Format(st.PendingTotal)
	}
	if !st.ExpiresAt.IsZero() {
		at := st.ExpiresAt
		resp.ExpiresAt = &at
	}
	return resp
}
