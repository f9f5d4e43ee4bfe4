// Package session keeps one cart and one checkout flow per visitor and
// expires visitors that go idle.
package session

import (
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
)

// Session binds a visitor's cart to its checkout surface.
type Session struct {
	ID        string
	Cart      *cart.Store
	Checkout  *checkout.Flow
	CreatedAt time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	detach    []func()
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastSeen returns the time of the most recent lookup.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// close tears the checkout surface down and runs detach callbacks in reverse
// registration order.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	_ = s.Checkout.Close()
	for i := len(detach) - 1; i >= 0; i-- {
		detach[i]()
	}
}
