// Package event publishes storefront analytics events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/pricing"
	"github.com/utafrali/storefront/internal/session"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// Kafka topics for storefront events. The event type equals the topic.
var (
	TopicCartUpdated      = pkgkafka.Topic("cart", "updated")
	TopicCheckoutNotified = pkgkafka.Topic("checkout", "notified")
	TopicSessionEnded     = pkgkafka.Topic("session", "ended")
)

// AggregateTypeSession keys every event by visitor session.
const AggregateTypeSession = "session"

// SourceStorefront identifies events produced by this service.
const SourceStorefront = "storefront"

const publishTimeout = 5 * time.Second

// CartUpdatedData is the payload for a cart.updated event. Total is empty
// when a line price could not be parsed.
type CartUpdatedData struct {
	SessionID string         `json:"session_id"`
	Change    string         `json:"change"`
	Item      string         `json:"item,omitempty"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Total     string         `json:"total,omitempty"`
	Version   int            `json:"version"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// CheckoutNotifiedData is the payload for a checkout.notified event.
type CheckoutNotifiedData struct {
	SessionID    string    `json:"session_id"`
	Notification string    `json:"notification"`
	ExpiresAt    time.Time `json:"expires_at"`
	Seq          int       `json:"seq"`
}

// SessionEndedData is the payload for a session.ended event.
type SessionEndedData struct {
	SessionID string `json:"session_id"`
	ItemCount int    `json:"item_count"`
}

// Producer turns cart and checkout changes into Kafka events. Publish
// failures are logged and never reach the visitor.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// Attach subscribes the producer to a session's cart and checkout flow. It
// is a session.AttachFunc.
func (p *Producer) Attach(s *session.Session) func() {
	id := s.ID
	unsubCart := s.Cart.Subscribe(func(c cart.Change) {
		p.logFailure(id, TopicCartUpdated, p.PublishCartUpdated(context.Background(), id, c))
	})
	unsubFlow := s.Checkout.Subscribe(func(st checkout.State) {
		if st.Phase != checkout.PhaseNotifyVisible {
			return
		}
		p.logFailure(id, TopicCheckoutNotified, p.PublishCheckoutNotified(context.Background(), id, st))
	})

	return func() {
		unsubCart()
		unsubFlow()
		p.logFailure(id, TopicSessionEnded, p.PublishSessionEnded(context.Background(), id, s.Cart.ItemCount()))
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, sessionID string, c cart.Change) error {
	items := make([]CartItemData, len(c.Cart.Items))
	for i, item := range c.Cart.Items {
		items[i] = CartItemData{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}

	data := CartUpdatedData{
		SessionID: sessionID,
		Change:    string(c.Kind),
		Item:      c.Item,
		Items:     items,
		ItemCount: c.Cart.ItemCount(),
		Version:   c.Cart.Version,
	}
	if total, err := c.Cart.Total(); err == nil {
		data.Total = pricing.Format(total)
	}

	return p.publish(ctx, TopicCartUpdated, sessionID, data)
}

// PublishCheckoutNotified publishes a checkout.notified event.
func (p *Producer) PublishCheckoutNotified(ctx context.Context, sessionID string, st checkout.State) error {
	return p.publish(ctx, TopicCheckoutNotified, sessionID, CheckoutNotifiedData{
		SessionID:    sessionID,
		Notification: st.Notification,
		ExpiresAt:    st.ExpiresAt,
		Seq:          st.Seq,
	})
}

// PublishSessionEnded publishes a session.ended event.
func (p *Producer) PublishSessionEnded(ctx context.Context, sessionID string, itemCount int) error {
	return p.publish(ctx, TopicSessionEnded, sessionID, SessionEndedData{
		SessionID: sessionID,
		ItemCount: itemCount,
	})
}

func (p *Producer) publish(ctx context.Context, topic, sessionID string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	event, err := pkgkafka.NewEvent(topic, sessionID, AggregateTypeSession, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("session_id", sessionID),
	)
	return nil
}

func (p *Producer) logFailure(sessionID, topic string, err error) {
	if err == nil {
		return
	}
	p.logger.Error("failed to publish event",
		slog.String("topic", topic),
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}
