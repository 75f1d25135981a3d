package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

// memStore is an in-memory OrderWriter and OrderReader.
type memStore struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]models.Order
	items      map[uuid.UUID][]models.OrderItem
	createErr  error
	getErr     error
	itemsErr   error
	createCall int
}

func newMemStore() *memStore {
	return &memStore{
		orders: map[uuid.UUID]models.Order{},
		items:  map[uuid.UUID][]models.OrderItem{},
	}
}

func (m *memStore) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCall++
	if m.createErr != nil {
		return m.createErr
	}

	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	for i := range items {
		items[i].OrderID = order.ID
	}
	m.orders[order.ID] = *order
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) CountOrdersBySessionID(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, o := range m.orders {
		if o.StripeSessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (m *memStore) GetOrderItemsByOrderID(_ context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.itemsErr != nil {
		return nil, m.itemsErr
	}
	return m.items[orderID], nil
}

func (m *memStore) all() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

// fakeProvider verifies a signature by comparing it to "sig:"+payload.
type fakeProvider struct {
	event       *models.PaymentEvent
	lineItems   []models.LineItem
	listErr     error
	listCalls   int
	session     *models.CheckoutSession
	createErr   error
	createCalls int
	lastParams  models.CheckoutSessionParams
}

func validSignature(payload []byte) string {
	return "sig:" + string(payload)
}

func (f *fakeProvider) ConstructEvent(payload []byte, signatureHeader string) (*models.PaymentEvent, error) {
	if signatureHeader != validSignature(payload) {
		return nil, errors.New("no signatures found matching the expected signature for payload")
	}
	return f.event, nil
}

func (f *fakeProvider) ListLineItems(_ context.Context, _ string) ([]models.LineItem, error) {
	f.listCalls++
	return f.lineItems, f.listErr
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params models.CheckoutSessionParams) (*models.CheckoutSession, error) {
	f.createCalls++
	f.lastParams = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.session, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []models.OrderConfirmation
	err  error
}

func (q *fakeQueue) Enqueue(c models.OrderConfirmation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, c)
	return nil
}

type fakeGuard struct {
	mu       sync.Mutex
	keys     map[string]string
	claimErr error
	released []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{keys: map[string]string{}}
}

func (g *fakeGuard) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.claimErr != nil {
		return false, g.claimErr
	}
	if _, ok := g.keys[key]; ok {
		return false, nil
	}
	g.keys[key] = "pending"
	return true, nil
}

func (g *fakeGuard) CompleteIdempotencyKey(_ context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.keys[key] = value
	return nil
}

func (g *fakeGuard) ReleaseIdempotencyKey(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.keys, key)
	g.released = append(g.released, key)
	return nil
}

type fakePublisher struct {
	events []*models.OrderPaidEvent
	err    error
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, event *models.OrderPaidEvent) error {
	p.events = append(p.events, event)
	return p.err
}
