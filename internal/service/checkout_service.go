package service

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// SessionCreator creates hosted payment sessions.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params models.CheckoutSessionParams) (*models.CheckoutSession, error)
}

// CheckoutService turns a storefront cart into a hosted payment session
type CheckoutService struct {
	sessions        SessionCreator
	defaultCurrency string
	logger          *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(sessions SessionCreator, defaultCurrency string) *CheckoutService {
	return &CheckoutService{
		sessions:        sessions,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
	}
}

// CheckoutRequest represents a cart submitted for checkout
type CheckoutRequest struct {
	Items      []models.CartItem `json:"items"`
	Currency   string            `json:"currency,omitempty"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
}

// CheckoutResponse carries the session id and the provider's redirect URL
type CheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession validates the cart and requests a hosted session.
// Nothing is sent upstream for an invalid cart.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckoutSession")
	defer span.End()

	if err := validateCart(req.Items); err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("invalid_cart").Inc()
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	session, err := s.sessions.CreateCheckoutSession(ctx, models.CheckoutSessionParams{
		Currency:   currency,
		Items:      req.Items,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("upstream").Inc()
		util.RecordError(span, err)
		s.logger.Warn("Checkout session creation failed",
			zap.Int("items", len(req.Items)),
			zap.String("currency", currency),
			zap.Error(err))
		return nil, &UpstreamError{Op: "create checkout session", Err: err}
	}

	util.CheckoutSessionsCreatedTotal.Inc()
	s.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("items", len(req.Items)),
		zap.String("currency", currency))

	return &CheckoutResponse{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

// validateCart validates that every line can be priced
func validateCart(items []models.CartItem) error {
	if len(items) == 0 {
		return ErrNoItems
	}

	for i, item := range items {
		switch {
		case strings.TrimSpace(item.Name) == "":
			return fmt.Errorf("%w: item %d has no name", ErrInvalidItem, i)
		case item.Quantity < 1:
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidItem, i)
		case item.UnitAmountCents < 0:
			return fmt.Errorf("%w: item %d unit_amount_cents must not be negative", ErrInvalidItem, i)
		}
	}

	return nil
}
