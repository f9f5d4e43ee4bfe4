// Package cart holds the per-session cart state container.
package cart

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ItemAdded       ChangeKind = "item_added"
	QuantityUpdated ChangeKind = "quantity_updated"
	ItemRemoved     ChangeKind = "item_removed"
	CartCleared     ChangeKind = "cart_cleared"
)

// Change is delivered to listeners after every effective mutation. Cart is a
// private copy; listeners may keep it.
type Change struct {
	Kind ChangeKind
	Item string
	Cart domain.Cart
}

// Listener receives cart changes. It is called without the store lock held,
// so it may read the store but must tolerate out-of-order delivery when
// mutations race; compare Cart.Version to discard stale changes.
type Listener func(Change)

type subscription struct {
	id int
	fn Listener
}

// Store owns one visitor's cart. All methods are safe for concurrent use.
// Mutations on unknown names are no-ops: the version is not bumped and no
// listener is notified.
type Store struct {
	mu        sync.Mutex
	cart      domain.Cart
	listeners []subscription
	nextID    int
	logger    *slog.Logger
}

// NewStore creates an empty cart store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cart:   domain.Cart{Items: []domain.LineItem{}},
		logger: logger,
	}
}

// AddItem increments the quantity of an existing line with the entry's name,
// or appends a new line with quantity 1.
func (s *Store) AddItem(ctx context.Context, entry domain.CatalogEntry) domain.Cart {
	s.mu.Lock()
	if idx := s.cart.FindItemIndex(entry.Name); idx >= 0 {
		s.cart.Items[idx].Quantity++
	} else {
		s.cart.Items = append(s.cart.Items, domain.LineItem{
			Name:      entry.Name,
			Image:     entry.Image,
			UnitPrice: entry.Cost,
			Quantity:  1,
		})
	}
	change := s.commitLocked(ItemAdded, entry.Name)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("item", entry.Name),
		slog.Int("version", change.Cart.Version),
	)
	s.notify(change)
	return change.Cart
}

// UpdateQuantity sets the quantity of the named line. The value is stored
// as given; callers validate the range.
func (s *Store) UpdateQuantity(ctx context.Context, name string, qty int) domain.Cart {
	s.mu.Lock()
	change, ok := s.updateLocked(name, qty)
	if !ok {
		snap := s.cart.Clone()
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "quantity update ignored, item not in cart", slog.String("item", name))
		return snap
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "cart quantity updated",
		slog.String("item", name),
		slog.Int("quantity", qty),
		slog.Int("version", change.Cart.Version),
	)
	s.notify(change)
	return change.Cart
}

// RemoveItem deletes the named line, keeping the order of the others.
func (s *Store) RemoveItem(ctx context.Context, name string) domain.Cart {
	s.mu.Lock()
	change, ok := s.removeLocked(name)
	if !ok {
		snap := s.cart.Clone()
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "remove ignored, item not in cart", slog.String("item", name))
		return snap
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("item", name),
		slog.Int("version", change.Cart.Version),
	)
	s.notify(change)
	return change.Cart
}

// Decrement lowers the named line by one. A line at quantity 1 is removed
// instead, so the result is either a quantity update or a removal.
func (s *Store) Decrement(ctx context.Context, name string) domain.Cart {
	s.mu.Lock()
	idx := s.cart.FindItemIndex(name)
	if idx < 0 {
		snap := s.cart.Clone()
		s.mu.Unlock()
		return snap
	}

	var change Change
	if qty := s.cart.Items[idx].Quantity; qty > 1 {
		change, _ = s.updateLocked(name, qty-1)
	} else {
		change, _ = s.removeLocked(name)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "cart item decremented",
		slog.String("item", name),
		slog.String("result", string(change.Kind)),
		slog.Int("version", change.Cart.Version),
	)
	s.notify(change)
	return change.Cart
}

// Increment raises the named line by one.
func (s *Store) Increment(ctx context.Context, name string) domain.Cart {
	s.mu.Lock()
	idx := s.cart.FindItemIndex(name)
	if idx < 0 {
		snap := s.cart.Clone()
		s.mu.Unlock()
		return snap
	}
	change, _ := s.updateLocked(name, s.cart.Items[idx].Quantity+1)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "cart quantity incremented",
		slog.String("item", name),
		slog.Int("version", change.Cart.Version),
	)
	s.notify(change)
	return change.Cart
}

// Clear removes every line. Clearing an empty cart still bumps the version.
func (s *Store) Clear(ctx context.Context) domain.Cart {
	s.mu.Lock()
	s.cart.Items = []domain.LineItem{}
	change := s.commitLocked(CartCleared, "")
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "cart cleared", slog.Int("version", change.Cart.Version))
	s.notify(change)
	return change.Cart
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Contains reports whether the named item is in the cart.
func (s *Store) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Contains(name)
}

// ItemCount returns the sum of all quantities.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ItemCount()
}

// Total returns the rounded sum of line subtotals.
func (s *Store) Total() (decimal.Decimal, error) {
	snap := s.Snapshot()
	return snap.Total()
}

// ItemSubtotal returns the subtotal of the named line.
func (s *Store) ItemSubtotal(name string) (decimal.Decimal, error) {
	s.mu.Lock()
	idx := s.cart.FindItemIndex(name)
	if idx < 0 {
		s.mu.Unlock()
		return decimal.Zero, apperrors.NotFound("cart item", name)
	}
	item := s.cart.Items[idx]
	s.mu.Unlock()
	return item.Subtotal()
}

// Subscribe registers fn for every future change and returns a function that
// removes it. The returned function is idempotent.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) updateLocked(name string, qty int) (Change, bool) {
	idx := s.cart.FindItemIndex(name)
	if idx < 0 {
		return Change{}, false
	}
	s.cart.Items[idx].Quantity = qty
	return s.commitLocked(QuantityUpdated, name), true
}

func (s *Store) removeLocked(name string) (Change, bool) {
	idx := s.cart.FindItemIndex(name)
	if idx < 0 {
		return Change{}, false
	}
	s.cart.Items = append(s.cart.Items[:idx:idx], s.cart.Items[idx+1:]...)
	return s.commitLocked(ItemRemoved, name), true
}

// commitLocked bumps the version and builds the change to deliver. The caller
// holds s.mu.
func (s *Store) commitLocked(kind ChangeKind, item string) Change {
	s.cart.Version++
	cartMutations.WithLabelValues(string(kind)).Inc()
	return Change{Kind: kind, Item: item, Cart: s.cart.Clone()}
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	subs := make([]subscription, len(s.listeners))
	copy(subs, s.listeners)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(change)
	}
}
