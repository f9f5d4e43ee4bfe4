package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
)

// CartReader gives the flow read access to the visitor's cart.
type CartReader interface {
	Snapshot() domain.Cart
}

// PurchaseHook runs after a successful Proceed, outside the flow lock, with
// the total that was confirmed.
type PurchaseHook func(ctx context.Context, total decimal.Decimal)

// Listener receives every new State. It runs without the flow lock held;
// compare Seq to discard stale deliveries.
type Listener func(State)

// Option configures a Flow.
type Option func(*Flow)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(f *Flow) { f.scheduler = s }
}

// WithDismissAfter sets how long notifications stay visible.
func WithDismissAfter(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.dismissAfter = d
		}
	}
}

// WithPurchaseHook registers fn to run after Proceed.
func WithPurchaseHook(fn PurchaseHook) Option {
	return func(f *Flow) { f.onPurchase = fn }
}

// WithLogger sets the flow's logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides time.Now for ExpiresAt.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

type subscription struct {
	id int
	fn Listener
}

// Flow is one visitor's checkout state machine. At most one dismiss timer is
// outstanding, and only while the phase is notify_visible.
type Flow struct {
	cart         CartReader
	scheduler    Scheduler
	dismissAfter time.Duration
	onPurchase   PurchaseHook
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	state     State
	timer     Timer
	gen       uint64
	closed    bool
	listeners []subscription
	nextID    int
}

// NewFlow creates a flow in the idle phase.
func NewFlow(cart CartReader, opts ...Option) *Flow {
	f := &Flow{
		cart:         cart,
		scheduler:    RealScheduler{},
		dismissAfter: DefaultDismissAfter,
		logger:       slog.Default(),
		now:          time.Now,
		state:        State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type transition struct {
	from State
	to   State
}

// Checkout opens the confirmation dialog for the cart's current total, or
// shows the empty-cart notification. From notify_visible the pending dismiss
// is cancelled first. A cart whose total cannot be computed leaves the state
// unchanged and returns the parse error.
func (f *Flow) Checkout(ctx context.Context) (State, error) {
	f.mu.Lock()
	if err := f.checkLocked("checkout", PhaseIdle, PhaseNotifyVisible); err != nil {
		st := f.state
		f.mu.Unlock()
		return st, err
	}

	snap := f.cart.Snapshot()
	total, err := snap.Total()
	if err != nil {
		st := f.state
		f.mu.Unlock()
		return st, fmt.Errorf("checkout: %w", err)
	}

	var tr transition
	if snap.IsEmpty() || total.IsZero() {
		tr = f.notifyLocked(MessageEmptyCart)
	} else {
		f.stopTimerLocked()
		tr = f.setLocked(State{Phase: PhaseConfirmPending, PendingTotal: total})
	}
	f.mu.Unlock()

	f.publish(ctx, "checkout", tr)
	return tr.to, nil
}

// Proceed confirms the purchase at the total captured by Checkout.
func (f *Flow) Proceed(ctx context.Context) (State, error) {
	f.mu.Lock()
	if err := f.checkLocked("proceed", PhaseConfirmPending); err != nil {
		st := f.state
		f.mu.Unlock()
		return st, err
	}

	total := f.state.PendingTotal
	tr := f.notifyLocked(PurchaseMessage(total))
	hook := f.onPurchase
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, total)
	}
	f.publish(ctx, "proceed", tr)
	return tr.to, nil
}

// Cancel dismisses the confirmation dialog.
func (f *Flow) Cancel(ctx context.Context) (State, error) {
	f.mu.Lock()
	if err := f.checkLocked("cancel", PhaseConfirmPending); err != nil {
		st := f.state
		f.mu.Unlock()
		return st, err
	}

	tr := f.notifyLocked(MessageCanceled)
	f.mu.Unlock()

	f.publish(ctx, "cancel", tr)
	return tr.to, nil
}

// State returns the current snapshot.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe registers fn for every future transition and returns an
// idempotent unsubscribe function.
func (f *Flow) Subscribe(fn Listener) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners = append(f.listeners, subscription{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, sub := range f.listeners {
				if sub.id == id {
					f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Close stops any outstanding dismiss timer and drops all listeners. It is
// idempotent; afterwards every operation returns ErrClosed.
func (f *Flow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.stopTimerLocked()
	f.listeners = nil
	return nil
}

// Pending reports whether a dismiss timer is outstanding.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timer != nil
}

func (f *Flow) checkLocked(op string, allowed ...Phase) error {
	if f.closed {
		return ErrClosed
	}
	for _, p := range allowed {
		if f.state.Phase == p {
			return nil
		}
	}
	rejectedOps.WithLabelValues(op, string(f.state.Phase)).Inc()
	return fmt.Errorf("%s from %s: %w", op, f.state.Phase, ErrInvalidTransition)
}

// notifyLocked enters notify_visible with msg, replacing any outstanding
// timer with a fresh one.
func (f *Flow) notifyLocked(msg string) transition {
	f.stopTimerLocked()

	gen := f.gen
	f.timer = f.scheduler.AfterFunc(f.dismissAfter, func() { f.dismiss(gen) })

	return f.setLocked(State{
		Phase:        PhaseNotifyVisible,
		Notification: msg,
		ExpiresAt:    f.now().Add(f.dismissAfter),
	})
}

func (f *Flow) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	// A callback already running for the old timer sees a stale generation.
	f.gen++
}

func (f *Flow) setLocked(next State) transition {
	from := f.state
	next.Seq = from.Seq + 1
	f.state = next
	transitions.WithLabelValues(string(next.Phase)).Inc()
	return transition{from: from, to: next}
}

// dismiss is the timer callback. Timers superseded or stopped after they
// started firing carry an old generation and do nothing.
func (f *Flow) dismiss(gen uint64) {
	f.mu.Lock()
	if f.closed || gen != f.gen || f.state.Phase != PhaseNotifyVisible {
		f.mu.Unlock()
		return
	}
	f.timer = nil
	tr := f.setLocked(State{Phase: PhaseIdle})
	f.mu.Unlock()

	f.publish(context.Background(), "dismiss", tr)
}

func (f *Flow) publish(ctx context.Context, op string, tr transition) {
	f.logger.InfoContext(ctx, "checkout transition",
		slog.String("op", op),
		slog.String("from", string(tr.from.Phase)),
		slog.String("to", string(tr.to.Phase)),
		slog.Int("seq", tr.to.Seq),
	)

	f.mu.Lock()
	subs := make([]subscription, len(f.listeners))
	copy(subs, f.listeners)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.fn(tr.to)
	}
}
