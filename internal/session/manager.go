package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Config controls session lifetime and the checkout policy applied to every
// new session.
type Config struct {
	IdleTTL            time.Duration
	DismissAfter       time.Duration
	ClearCartOnProceed bool
}

// AttachFunc wires a new session to an external component and returns the
// function that undoes it. It runs once per session, before Create returns.
type AttachFunc func(s *Session) (detach func())

// Option configures a Manager.
type Option func(*Manager)

// WithAttach registers fn for every new session.
func WithAttach(fn AttachFunc) Option {
	return func(m *Manager) { m.attach = append(m.attach, fn) }
}

// WithScheduler sets the dismiss timer source of new checkout flows.
func WithScheduler(s checkout.Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns all live sessions. It is safe for concurrent use.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	attach    []AttachFunc
	scheduler checkout.Scheduler
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates an empty manager.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DismissAfter <= 0 {
		cfg.DismissAfter = checkout.DefaultDismissAfter
	}
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		scheduler: checkout.RealScheduler{},
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a session with an empty cart and an idle checkout flow.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	now := m.now()
	id := uuid.NewString()
	store := cart.NewStore(m.logger.With(slog.String("session_id", id)))

	s := &Session{
		ID:        id,
		Cart:      store,
		CreatedAt: now,
		lastSeen:  now,
		done:      make(chan struct{}),
	}

	flowOpts := []checkout.Option{
		checkout.WithScheduler(m.scheduler),
		checkout.WithDismissAfter(m.cfg.DismissAfter),
		checkout.WithLogger(m.logger.With(slog.String("session_id", id))),
		checkout.WithClock(m.now),
	}
	if m.cfg.ClearCartOnProceed {
		flowOpts = append(flowOpts, checkout.WithPurchaseHook(func(ctx context.Context, _ decimal.Decimal) {
			store.Clear(ctx)
		}))
	}
	s.Checkout = checkout.NewFlow(store, flowOpts...)

	for _, fn := range m.attach {
		if detach := fn(s); detach != nil {
			s.detach = append(s.detach, detach)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.close()
		return nil, apperrors.ServiceUnavailable("session manager is shutting down")
	}
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	activeSessions.Set(float64(n))
	sessionsCreated.Inc()
	m.logger.InfoContext(ctx, "session created", slog.String("session_id", id))
	return s, nil
}

// Get returns the live session and refreshes its idle deadline. Sessions
// past their TTL are reported missing even before the sweeper runs.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}

	now := m.now()
	if m.expired(s, now) {
		m.remove(ctx, id, "expired")
		return nil, apperrors.NotFound("session", id)
	}
	s.touch(now)
	return s, nil
}

// End tears a session down. Ending an unknown session returns NotFound.
func (m *Manager) End(ctx context.Context, id string) error {
	if !m.remove(ctx, id, "ended") {
		return apperrors.NotFound("session", id)
	}
	return nil
}

// Sweep removes every session idle for longer than the TTL and returns how
// many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if m.expired(s, now) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if m.remove(ctx, id, "expired") {
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.InfoContext(ctx, "idle sessions expired", slog.Int("count", n))
			}
		}
	}
}

// CloseAll tears down every session and rejects further Create calls.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	activeSessions.Set(0)
	m.logger.InfoContext(ctx, "all sessions closed", slog.Int("count", len(all)))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.cfg.IdleTTL > 0 && now.Sub(s.LastSeen()) > m.cfg.IdleTTL
}

func (m *Manager) remove(ctx context.Context, id, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.close()
	activeSessions.Set(float64(n))
	sessionsRemoved.WithLabelValues(reason).Inc()
	m.logger.InfoContext(ctx, "session removed",
		slog.String("session_id", id),
		slog.String("reason", reason),
	)
	return true
}
