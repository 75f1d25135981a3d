package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is created once per completed checkout session and never updated.
type Order struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Status          string    `db:"status" json:"status"`
	CustomerEmail   string    `db:"customer_email" json:"-"`
	TokenHash       string    `db:"token_hash" json:"-"`
	Currency        string    `db:"currency" json:"currency"`
	SubtotalCents   int64     `db:"subtotal_cents" json:"subtotal_cents"`
	TotalCents      int64     `db:"total_cents" json:"total_cents"`
	StripeSessionID string    `db:"stripe_session_id" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// OrderItem is a line of an order. SKU is nil when the payment
// provider did not return one.
type OrderItem struct {
	ID              int64     `db:"id" json:"-"`
	OrderID         uuid.UUID `db:"order_id" json:"-"`
	SKU             *string   `db:"sku" json:"sku"`
	Name            string    `db:"name" json:"name"`
	UnitAmountCents int64     `db:"unit_amount_cents" json:"unit_amount_cents"`
	Quantity        int64     `db:"quantity" json:"quantity"`
}

// Order statuses
const (
	OrderStatusPaid = "paid"
)

// CartItem is one entry of a storefront cart submitted for checkout.
type CartItem struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	UnitAmountCents int64  `json:"unit_amount_cents"`
	Quantity        int64  `json:"quantity"`
}

// CheckoutSession is the provider-neutral view of a hosted payment session.
type CheckoutSession struct {
	ID            string
	URL           string
	CustomerEmail string
	FallbackEmail string
	Currency      string
	AmountTotal   int64
}

// RecipientEmail returns the contact address for the session, if any.
func (s *CheckoutSession) RecipientEmail() string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	return s.FallbackEmail
}

// LineItem is a priced line of a completed checkout session.
type LineItem struct {
	SKU             *string
	Description     string
	UnitAmountCents int64
	Quantity        int64
	AmountSubtotal  int64
	AmountTotal     int64
}

// PaymentEvent is a verified notification from the payment provider.
// Session is set only for checkout session events.
type PaymentEvent struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// OrderConfirmation is the outbound message telling the customer where
// to find their order. OrderURL embeds the raw access token.
type OrderConfirmation struct {
	OrderID  uuid.UUID
	To       string
	OrderURL string
}

// CheckoutSessionParams describes the hosted session to create for a cart.
type CheckoutSessionParams struct {
	Currency   string
	Items      []CartItem
	SuccessURL string
	CancelURL  string
}
