package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/pricing"
)

// LineItem is one product in the cart. Name is the cart-wide unique key and
// UnitPrice keeps the catalog's currency-prefixed string.
type LineItem struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Subtotal returns the unit price times quantity, rounded to cents.
func (li LineItem) Subtotal() (decimal.Decimal, error) {
	return pricing.Subtotal(li.UnitPrice, li.Quantity)
}

// Cart is an insertion-ordered list of line items. Version increases on every
// mutation so consumers can tell snapshots apart.
type Cart struct {
	Items   []LineItem `json:"items"`
	Version int        `json:"version"`
}

// FindItemIndex returns the index of the item with the given name, or -1.
func (c *Cart) FindItemIndex(name string) int {
	for i := range c.Items {
		if c.Items[i].Name == name {
			return i
		}
	}
	return -1
}

// Contains reports whether an item with the given name is in the cart.
func (c *Cart) Contains(name string) bool {
	return c.FindItemIndex(name) >= 0
}

// ItemCount returns the sum of all quantities.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Total sums the per-line subtotals and rounds the result. The first
// malformed unit price aborts the sum.
func (c *Cart) Total() (decimal.Decimal, error) {
	subtotals := make([]decimal.Decimal, 0, len(c.Items))
	for _, item := range c.Items {
		st, err := item.Subtotal()
		if err != nil {
			return decimal.Zero, fmt.Errorf("subtotal for %q: %w", item.Name, err)
		}
		subtotals = append(subtotals, st)
	}
	return pricing.Sum(subtotals...), nil
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a deep copy whose Items slice does not alias c.
func (c Cart) Clone() Cart {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items, Version: c.Version}
}
