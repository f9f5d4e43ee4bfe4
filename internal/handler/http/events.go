package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/pkg/logger"
)

// DefaultKeepAlive is the interval between SSE comment frames on an idle
// stream.
const DefaultKeepAlive = 15 * time.Second

// EventsHandler streams a session's cart and checkout state as Server-Sent
// Events. Every frame carries the full current snapshot, so a client that
// misses frames only needs the latest one.
type EventsHandler struct {
	keepAlive time.Duration
	shutdown  <-chan struct{}
	logger    *slog.Logger
}

// NewEventsHandler creates a new SSE handler. keepAlive <= 0 selects
// DefaultKeepAlive. Open streams end when shutdown is closed; a nil channel
// never ends them.
func NewEventsHandler(keepAlive time.Duration, shutdown <-chan struct{}, logger *slog.Logger) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &EventsHandler{
		keepAlive: keepAlive,
		shutdown:  shutdown,
		logger:    logger,
	}
}

// Stream handles GET /api/v1/events. It sends a "cart" and a "checkout"
// frame on connect and again after every change, and ends the stream with
// an "end" frame when the session is torn down or the server shuts down.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := requestSession(w, r, h.logger)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.ErrorContext(r.Context(), "response writer does not support flushing")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The server write timeout would otherwise cut long-lived streams.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.DebugContext(r.Context(), "failed to clear stream write deadline",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	cartChanged := make(chan struct{}, 1)
	flowChanged := make(chan struct{}, 1)
	unsubCart := s.Cart.Subscribe(func(cart.Change) { signal(cartChanged) })
	defer unsubCart()
	unsubFlow := s.Checkout.Subscribe(func(checkout.State) { signal(flowChanged) })
	defer unsubFlow()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	l := logger.FromContext(r.Context())
	l.InfoContext(r.Context(), "event stream opened", slog.String("session_id", s.ID))
	defer l.InfoContext(r.Context(), "event stream closed", slog.String("session_id", s.ID))

	sendCart := func() error {
		resp, err := newCartResponse(s.Cart.Snapshot())
		if err != nil {
			l.WarnContext(r.Context(), "skipping cart frame", slog.String("error", err.Error()))
			return nil
		}
		return writeEvent(w, "cart", resp)
	}
	sendCheckout := func() error {
		return writeEvent(w, "checkout", newCheckoutResponse(s.Checkout.State()))
	}

	if err := sendCart(); err != nil {
		return
	}
	if err := sendCheckout(); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-s.Done():
			_ = writeEvent(w, "end", map[string]string{"session_id": s.ID, "reason": "session_ended"})
			flusher.Flush()
			return
		case <-h.shutdown:
			_ = writeEvent(w, "end", map[string]string{"session_id": s.ID, "reason": "shutdown"})
			flusher.Flush()
			return
		case <-cartChanged:
			err = sendCart()
		case <-flowChanged:
			err = sendCheckout()
		case <-ticker.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// signal performs a non-blocking send so listeners never stall a mutation.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
