package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayload = []byte(`{"id":"evt_test_1","type":"checkout.session.completed"}`)

func strPtr(s string) *string { return &s }

func completedEvent() *models.PaymentEvent {
	return &models.PaymentEvent{
		ID:   "evt_test_1",
		Type: models.PaymentEventCheckoutCompleted,
		Session: &models.CheckoutSession{
			ID:            "cs_test_1",
			CustomerEmail: "jane@example.com",
			Currency:      "chf",
			AmountTotal:   980,
		},
	}
}

func cookieLineItems() []models.LineItem {
	return []models.LineItem{{
		SKU:             strPtr("a"),
		Description:     "Cookie",
		UnitAmountCents: 490,
		Quantity:        2,
		AmountSubtotal:  980,
		AmountTotal:     980,
	}}
}

type webhookFixture struct {
	provider *fakeProvider
	store    *memStore
	queue    *fakeQueue
	svc      *WebhookService
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		provider: &fakeProvider{event: completedEvent(), lineItems: cookieLineItems()},
		store:    newMemStore(),
		queue:    &fakeQueue{},
	}
	f.svc = NewWebhookService(f.provider, f.store, f.queue, WebhookOptions{
		BaseURL:         "https://shop.example.com",
		OrderStatusPath: "/statut-de-commande",
		DefaultCurrency: "CHF",
	})
	return f
}

func (f *webhookFixture) deliver(t *testing.T) (*WebhookResult, error) {
	t.Helper()
	return f.svc.HandleWebhook(context.Background(), testPayload, validSignature(testPayload))
}

func TestHandleWebhookRecordsOrder(t *testing.T) {
	f := newWebhookFixture()

	result, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	orders := f.store.all()
	require.Len(t, orders, 1)
	order := orders[0]

	assert.Equal(t, result.OrderID, order.ID)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "jane@example.com", order.CustomerEmail)
	assert.Equal(t, "CHF", order.Currency)
	assert.Equal(t, int64(980), order.SubtotalCents)
	assert.Equal(t, int64(980), order.TotalCents)
	assert.Equal(t, "cs_test_1", order.StripeSessionID)

	items := f.store.items[order.ID]
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].Quantity)
	assert.Equal(t, int64(490), items[0].UnitAmountCents)
	assert.Equal(t, "Cookie", items[0].Name)
	require.NotNil(t, items[0].SKU)
	assert.Equal(t, "a", *items[0].SKU)
}

func TestHandleWebhookTokenRoundTrip(t *testing.T) {
	f := newWebhookFixture()

	result, err := f.deliver(t)
	require.NoError(t, err)

	require.Len(t, f.queue.sent, 1)
	confirmation := f.queue.sent[0]
	assert.Equal(t, "jane@example.com", confirmation.To)
	assert.Equal(t, result.OrderID, confirmation.OrderID)

	u, err := url.Parse(confirmation.OrderURL)
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", u.Host)
	assert.Equal(t, "/statut-de-commande", u.Path)
	assert.Equal(t, result.OrderID.String(), u.Query().Get("id"))

	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	order := f.store.orders[result.OrderID]
	assert.Equal(t, HashToken(token), order.TokenHash)
	assert.NotEqual(t, token, order.TokenHash, "raw token is never stored")

	lookup := NewOrderLookupService(f.store, false)
	view, err := lookup.GetOrder(context.Background(), u.Query().Get("id"), token)
	require.NoError(t, err)
	assert.Equal(t, int64(980), view.TotalCents)
	require.Len(t, view.Items, 1)
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	f := newWebhookFixture()

	for _, sig := range []string{"", "sig:other", "t=1,v1=deadbeef"} {
		_, err := f.svc.HandleWebhook(context.Background(), testPayload, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}

	assert.Empty(t, f.store.all())
	assert.Zero(t, f.provider.listCalls)
	assert.Empty(t, f.queue.sent)
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	f := newWebhookFixture()
	f.provider.event = &models.PaymentEvent{ID: "evt_2", Type: "payment_intent.succeeded"}

	result, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)
	assert.Empty(t, f.store.all())
	assert.Zero(t, f.provider.listCalls)
}

func TestHandleWebhookFallbackEmail(t *testing.T) {
	f := newWebhookFixture()
	f.provider.event.Session.CustomerEmail = ""
	f.provider.event.Session.FallbackEmail = "fallback@example.com"

	_, err := f.deliver(t)
	require.NoError(t, err)

	orders := f.store.all()
	require.Len(t, orders, 1)
	assert.Equal(t, "fallback@example.com", orders[0].CustomerEmail)
	assert.Equal(t, "fallback@example.com", f.queue.sent[0].To)
}

func TestHandleWebhookSkipsWithoutEmail(t *testing.T) {
	f := newWebhookFixture()
	f.provider.event.Session.CustomerEmail = ""

	result, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookSkipped, result.Status)
	assert.Empty(t, f.store.all())
	assert.Empty(t, f.queue.sent)
}

func TestHandleWebhookRedeliveryCreatesSecondOrder(t *testing.T) {
	f := newWebhookFixture()

	_, err := f.deliver(t)
	require.NoError(t, err)
	_, err = f.deliver(t)
	require.NoError(t, err)

	orders := f.store.all()
	require.Len(t, orders, 2, "without a redelivery guard each delivery records an order")
	assert.Equal(t, orders[0].StripeSessionID, orders[1].StripeSessionID)
	assert.NotEqual(t, orders[0].TokenHash, orders[1].TokenHash)
	assert.Len(t, f.queue.sent, 2)
}

func TestHandleWebhookRedeliveryGuard(t *testing.T) {
	f := newWebhookFixture()
	guard := newFakeGuard()
	f.svc.WithRedeliveryGuard(guard, time.Hour)

	first, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, first.Status)

	second, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, second.Status)

	assert.Len(t, f.store.all(), 1)
	assert.Len(t, f.queue.sent, 1)
	assert.Equal(t, first.OrderID.String(), guard.keys["cs_test_1"])
}

func TestHandleWebhookGuardReleasedOnPersistenceFailure(t *testing.T) {
	f := newWebhookFixture()
	guard := newFakeGuard()
	f.svc.WithRedeliveryGuard(guard, time.Hour)
	f.store.createErr = errors.New("connection refused")

	_, err := f.deliver(t)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, []string{"cs_test_1"}, guard.released)

	f.store.createErr = nil
	result, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status, "redelivery after a failed write is processed")
}

func TestHandleWebhookGuardUnavailable(t *testing.T) {
	f := newWebhookFixture()
	guard := newFakeGuard()
	guard.claimErr = errors.New("redis: connection refused")
	f.svc.WithRedeliveryGuard(guard, time.Hour)

	_, err := f.deliver(t)
	require.Error(t, err)
	assert.Empty(t, f.store.all())
}

func TestHandleWebhookPersistenceFailure(t *testing.T) {
	f := newWebhookFixture()
	f.store.createErr = errors.New("connection refused")

	_, err := f.deliver(t)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, f.queue.sent, "no confirmation for an unrecorded order")
}

func TestHandleWebhookLineItemFailure(t *testing.T) {
	f := newWebhookFixture()
	f.provider.listErr = errors.New("api unavailable")

	_, err := f.deliver(t)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Zero(t, f.store.createCall)
}

func TestHandleWebhookQueueFailureStillSucceeds(t *testing.T) {
	f := newWebhookFixture()
	f.queue.err = errors.New("notification queue full")

	result, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	assert.Len(t, f.store.all(), 1)
}

func TestHandleWebhookPublishesOrderPaid(t *testing.T) {
	f := newWebhookFixture()
	publisher := &fakePublisher{err: errors.New("kafka down")}
	f.svc.WithEventPublisher(publisher)

	result, err := f.deliver(t)
	require.NoError(t, err, "publish failure is not surfaced")

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, models.EventTypeOrderPaid, event.EventType)
	assert.Equal(t, result.OrderID, event.OrderID)
	assert.Equal(t, int64(980), event.TotalCents)
	assert.Equal(t, 1, event.ItemCount)
}

func TestHandleWebhookDefaultCurrency(t *testing.T) {
	f := newWebhookFixture()
	f.provider.event.Session.Currency = ""

	_, err := f.deliver(t)
	require.NoError(t, err)
	assert.Equal(t, "CHF", f.store.all()[0].Currency)
}

func TestAggregateAmounts(t *testing.T) {
	tests := []struct {
		name         string
		items        []models.LineItem
		sessionTotal int64
		wantSubtotal int64
		wantTotal    int64
	}{
		{
			name: "line totals",
			items: []models.LineItem{
				{AmountSubtotal: 980, AmountTotal: 900},
				{AmountSubtotal: 350, AmountTotal: 350},
			},
			sessionTotal: 1,
			wantSubtotal: 1330,
			wantTotal:    1250,
		},
		{
			name:         "falls back to session total",
			items:        []models.LineItem{{AmountSubtotal: 980}},
			sessionTotal: 1080,
			wantSubtotal: 980,
			wantTotal:    1080,
		},
		{
			name:         "falls back to subtotal",
			items:        []models.LineItem{{AmountSubtotal: 980}},
			wantSubtotal: 980,
			wantTotal:    980,
		},
		{
			name:         "no items",
			sessionTotal: 500,
			wantTotal:    500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtotal, total := aggregateAmounts(tt.items, tt.sessionTotal)
			assert.Equal(t, tt.wantSubtotal, subtotal)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestOrderItemsFromLineItems(t *testing.T) {
	items := orderItemsFromLineItems([]models.LineItem{
		{Description: "Gift wrap", Quantity: 0, UnitAmountCents: 0},
		{SKU: strPtr("b"), Description: "Brownie", Quantity: 3, UnitAmountCents: 350},
	})

	require.Len(t, items, 2)
	assert.Nil(t, items[0].SKU)
	assert.Equal(t, int64(1), items[0].Quantity, "missing quantity defaults to 1")
	assert.Equal(t, "b", *items[1].SKU)
	assert.Equal(t, int64(3), items[1].Quantity)
}
