package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderPaid = "ORDER_PAID"
)

// Payment provider event types
const (
	PaymentEventCheckoutCompleted = "checkout.session.completed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPaidEvent published when a completed checkout is recorded.
// It carries no customer contact data and no access token.
type OrderPaidEvent struct {
	BaseEvent
	OrderID         uuid.UUID `json:"order_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	Currency        string    `json:"currency"`
	SubtotalCents   int64     `json:"subtotal_cents"`
	TotalCents      int64     `json:"total_cents"`
	ItemCount       int       `json:"item_count"`
}
