package event

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

type published struct {
	topic string
	event *pkgkafka.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{topic: topic, event: event})
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.topic
	}
	return out
}

func (f *fakePublisher) at(i int) published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

func newTestLogger(buf io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var fern = domain.CatalogEntry{Name: "Boston Fern", Image: "fern.jpg", Cost: "$20.00"}

func TestTopics(t *testing.T) {
	assert.Equal(t, "storefront.cart.updated", TopicCartUpdated)
	assert.Equal(t, "storefront.checkout.notified", TopicCheckoutNotified)
	assert.Equal(t, "storefront.session.ended", TopicSessionEnded)
}

func TestPublishCartUpdated_BuildsEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, newTestLogger(io.Discard))

	c := domain.Cart{
		Items:   []domain.LineItem{{Name: "Boston Fern", UnitPrice: "$20.25", Quantity: 2}},
		Version: 3,
	}
	err := p.PublishCartUpdated(context.Background(), "sess-1", cart.Change{Kind: cart.ItemAdded, Item: "Boston Fern", Cart: c})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	got := pub.at(0)
	assert.Equal(t, TopicCartUpdated, got.topic)
	assert.Equal(t, TopicCartUpdated, got.event.EventType)
	assert.Equal(t, "sess-1", got.event.AggregateID)
	assert.Equal(t, AggregateTypeSession, got.event.AggregateType)
	assert.Equal(t, SourceStorefront, got.event.Source)

	var data CartUpdatedData
	require.NoError(t, got.event.UnmarshalData(&data))
	assert.Equal(t, "sess-1", data.SessionID)
	assert.Equal(t, "item_added", data.Change)
	assert.Equal(t, "Boston Fern", data.Item)
	assert.Equal(t, 2, data.ItemCount)
	assert.Equal(t, "$40.50", data.Total)
	assert.Equal(t, 3, data.Version)
	require.Len(t, data.Items, 1)
	assert.Equal(t, CartItemData{Name: "Boston Fern", UnitPrice: "$20.25", Quantity: 2}, data.Items[0])
}

func TestPublishCartUpdated_UnparsablePriceOmitsTotal(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub, nil)

	c := domain.Cart{Items: []domain.LineItem{{Name: "Broken", UnitPrice: "free", Quantity: 1}}, Version: 1}
	require.NoError(t, p.PublishCartUpdated(context.Background(), "sess-1", cart.Change{Kind: cart.ItemAdded, Item: "Broken", Cart: c}))

	var data CartUpdatedData
	require.NoError(t, pub.at(0).event.UnmarshalData(&data))
	assert.Empty(t, data.Total)
	assert.Equal(t, 1, data.ItemCount)
}

func TestPublish_WrapsPublisherError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewProducer(pub, nil)

	err := p.PublishSessionEnded(context.Background(), "sess-1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish storefront.session.ended event")
	assert.ErrorIs(t, err, pub.err)
}

func TestAttach_PublishesSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	p := NewProducer(pub, newTestLogger(io.Discard))
	mgr := session.NewManager(session.Config{}, newTestLogger(io.Discard), session.WithAttach(p.Attach))

	s, err := mgr.Create(ctx)
	require.NoError(t, err)

	s.Cart.AddItem(ctx, fern)

	st, err := s.Checkout.Checkout(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkout.PhaseConfirmPending, st.Phase)

	_, err = s.Checkout.Cancel(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.End(ctx, s.ID))

	assert.Equal(t, []string{TopicCartUpdated, TopicCheckoutNotified, TopicSessionEnded}, pub.topics())

	var notified CheckoutNotifiedData
	require.NoError(t, pub.at(1).event.UnmarshalData(&notified))
	assert.Equal(t, s.ID, notified.SessionID)
	assert.Equal(t, checkout.MessageCanceled, notified.Notification)

	var ended SessionEndedData
	require.NoError(t, pub.at(2).event.UnmarshalData(&ended))
	assert.Equal(t, 1, ended.ItemCount)
}

func TestAttach_DetachStopsPublishing(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	p := NewProducer(pub, nil)
	mgr := session.NewManager(session.Config{}, nil, session.WithAttach(p.Attach))

	s, err := mgr.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.End(ctx, s.ID))

	s.Cart.AddItem(ctx, fern)

	assert.Equal(t, []string{TopicSessionEnded}, pub.topics())
}

func TestAttach_PublishFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("broker down")}
	p := NewProducer(pub, newTestLogger(&buf))
	mgr := session.NewManager(session.Config{}, nil, session.WithAttach(p.Attach))

	s, err := mgr.Create(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.CloseAll(ctx) })

	snap := s.Cart.AddItem(ctx, fern)
	assert.Equal(t, 1, snap.ItemCount())

	assert.Contains(t, buf.String(), "failed to publish event")
	assert.Contains(t, buf.String(), "broker down")
	assert.Contains(t, buf.String(), s.ID)
}
