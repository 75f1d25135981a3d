package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutEventSource verifies provider notifications and lists the
// line items of a session.
type CheckoutEventSource interface {
	ConstructEvent(payload []byte, signatureHeader string) (*models.PaymentEvent, error)
	ListLineItems(ctx context.Context, sessionID string) ([]models.LineItem, error)
}

// OrderWriter persists orders.
type OrderWriter interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	CountOrdersBySessionID(ctx context.Context, sessionID string) (int, error)
}

// ConfirmationQueue accepts confirmations for asynchronous delivery.
type ConfirmationQueue interface {
	Enqueue(c models.OrderConfirmation) error
}

// RedeliveryGuard records which checkout sessions have been handled.
type RedeliveryGuard interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CompleteIdempotencyKey(ctx context.Context, key, value string) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// OrderEventPublisher publishes order domain events.
type OrderEventPublisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
}

// Webhook outcomes
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookSkipped   = "skipped"
	WebhookDuplicate = "duplicate"
)

// WebhookResult describes how an accepted delivery was handled.
type WebhookResult struct {
	Status  string    `json:"result"`
	OrderID uuid.UUID `json:"-"`
}

// WebhookOptions configures how orders and retrieval links are built.
type WebhookOptions struct {
	BaseURL         string
	OrderStatusPath string
	DefaultCurrency string
}

// WebhookService records orders for completed checkout sessions
type WebhookService struct {
	events    CheckoutEventSource
	orders    OrderWriter
	queue     ConfirmationQueue
	guard     RedeliveryGuard
	guardTTL  time.Duration
	publisher OrderEventPublisher
	opts      WebhookOptions
	logger    *zap.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	events CheckoutEventSource,
	orders OrderWriter,
	queue ConfirmationQueue,
	opts WebhookOptions,
) *WebhookService {
	return &WebhookService{
		events: events,
		orders: orders,
		queue:  queue,
		opts:   opts,
		logger: util.GetLogger(),
	}
}

// WithRedeliveryGuard makes repeated deliveries of one session record a
// single order. Without a guard every delivery records a new order.
func (s *WebhookService) WithRedeliveryGuard(guard RedeliveryGuard, ttl time.Duration) *WebhookService {
	s.guard = guard
	s.guardTTL = ttl
	return s
}

// WithEventPublisher publishes ORDER_PAID after each recorded order.
func (s *WebhookService) WithEventPublisher(p OrderEventPublisher) *WebhookService {
	s.publisher = p
	return s
}

// HandleWebhook verifies and processes one provider delivery. It fails
// only for a bad signature, an upstream or guard failure before the order
// is written, or a failed order write. Everything after the commit is
// best effort.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.HandleWebhook")
	defer span.End()

	event, err := s.events.ConstructEvent(payload, signatureHeader)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		s.logger.Warn("Rejected webhook", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != models.PaymentEventCheckoutCompleted || event.Session == nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, WebhookIgnored).Inc()
		s.logger.Debug("Ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type))
		return &WebhookResult{Status: WebhookIgnored}, nil
	}

	result, err := s.recordOrder(ctx, event)
	if err != nil {
		util.RecordError(span, err)
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return nil, err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, result.Status).Inc()
	return result, nil
}

func (s *WebhookService) recordOrder(ctx context.Context, event *models.PaymentEvent) (*WebhookResult, error) {
	session := event.Session
	log := s.logger.With(
		zap.String("event_id", event.ID),
		zap.String("session_id", session.ID))

	email := session.RecipientEmail()
	if email == "" {
		log.Warn("Completed session has no customer email, skipping order")
		return &WebhookResult{Status: WebhookSkipped}, nil
	}

	claimed, err := s.claim(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("redelivery guard: %w", err)
	}
	if !claimed {
		log.Info("Duplicate delivery for checkout session")
		return &WebhookResult{Status: WebhookDuplicate}, nil
	}

	lineItems, err := s.events.ListLineItems(ctx, session.ID)
	if err != nil {
		s.release(ctx, session.ID)
		log.Error("Failed to list line items", zap.Error(err))
		return nil, &UpstreamError{Op: "list line items", Err: err}
	}

	token, tokenHash, err := GenerateAccessToken()
	if err != nil {
		s.release(ctx, session.ID)
		return nil, err
	}

	subtotal, total := aggregateAmounts(lineItems, session.AmountTotal)
	order := &models.Order{
		Status:          models.OrderStatusPaid,
		CustomerEmail:   email,
		TokenHash:       tokenHash,
		Currency:        normalizeCurrency(session.Currency, s.opts.DefaultCurrency),
		SubtotalCents:   subtotal,
		TotalCents:      total,
		StripeSessionID: session.ID,
	}
	items := orderItemsFromLineItems(lineItems)

	if s.guard == nil {
		s.warnOnRedelivery(ctx, log, session.ID)
	}

	if err := s.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		s.release(ctx, session.ID)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		log.Error("Failed to record order", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	util.OrdersCreatedTotal.Inc()
	log.Info("Order recorded",
		zap.String("order_id", order.ID.String()),
		zap.Int("items", len(items)),
		zap.String("currency", order.Currency),
		zap.Int64("total_cents", order.TotalCents))

	if s.guard != nil {
		if err := s.guard.CompleteIdempotencyKey(ctx, session.ID, order.ID.String()); err != nil {
			log.Warn("Failed to complete redelivery claim", zap.Error(err))
		}
	}

	s.publishOrderPaid(ctx, log, order, len(items))

	confirmation := models.OrderConfirmation{
		OrderID:  order.ID,
		To:       email,
		OrderURL: s.orderURL(order.ID, token),
	}
	if err := s.queue.Enqueue(confirmation); err != nil {
		log.Error("Failed to queue order confirmation",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}

	return &WebhookResult{Status: WebhookProcessed, OrderID: order.ID}, nil
}

func (s *WebhookService) claim(ctx context.Context, sessionID string) (bool, error) {
	if s.guard == nil {
		return true, nil
	}
	return s.guard.ClaimIdempotencyKey(ctx, sessionID, s.guardTTL)
}

// release drops the claim so the provider's redelivery can retry.
func (s *WebhookService) release(ctx context.Context, sessionID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.ReleaseIdempotencyKey(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Warn("Failed to release redelivery claim",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func (s *WebhookService) warnOnRedelivery(ctx context.Context, log *zap.Logger, sessionID string) {
	n, err := s.orders.CountOrdersBySessionID(ctx, sessionID)
	if err != nil {
		log.Debug("Could not check for earlier orders", zap.Error(err))
		return
	}
	if n > 0 {
		util.WebhookRedeliveriesTotal.Inc()
		log.Warn("Session already has orders, recording another", zap.Int("existing", n))
	}
}

func (s *WebhookService) publishOrderPaid(ctx context.Context, log *zap.Logger, order *models.Order, itemCount int) {
	if s.publisher == nil {
		return
	}

	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:         order.ID,
		StripeSessionID: order.StripeSessionID,
		Currency:        order.Currency,
		SubtotalCents:   order.SubtotalCents,
		TotalCents:      order.TotalCents,
		ItemCount:       itemCount,
	}

	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		log.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

// orderURL builds the customer's retrieval link. It contains the raw
// token and must not be logged.
func (s *WebhookService) orderURL(orderID uuid.UUID, token string) string {
	q := url.Values{}
	q.Set("id", orderID.String())
	q.Set("token", token)
	return s.opts.BaseURL + s.opts.OrderStatusPath + "?" + q.Encode()
}

// aggregateAmounts sums line subtotals and totals. The total falls back
// to the session total, then to the subtotal, when the line totals sum to 0.
func aggregateAmounts(items []models.LineItem, sessionTotal int64) (subtotal, total int64) {
	for _, it := range items {
		subtotal += it.AmountSubtotal
		total += it.AmountTotal
	}

	if total == 0 {
		total = sessionTotal
	}
	if total == 0 {
		total = subtotal
	}
	return subtotal, total
}

func orderItemsFromLineItems(lineItems []models.LineItem) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lineItems))
	for _, li := range lineItems {
		quantity := li.Quantity
		if quantity < 1 {
			quantity = 1
		}
		unit := li.UnitAmountCents
		if unit < 0 {
			unit = 0
		}

		items = append(items, models.OrderItem{
			SKU:             li.SKU,
			Name:            li.Description,
			UnitAmountCents: unit,
			Quantity:        quantity,
		})
	}
	return items
}

func normalizeCurrency(currency, fallback string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return strings.ToUpper(fallback)
	}
	return currency
}
