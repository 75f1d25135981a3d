// Package payment adapts the Stripe API to the provider-neutral types in
// models. Nothing outside this package imports stripe-go.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	lineItemPageSize = 100
	skuMetadataKey   = "sku"
)

// StripeProvider creates checkout sessions, lists their line items and
// verifies webhook payloads.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a provider bound to one secret key.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

// CreateCheckoutSession creates a hosted payment-mode session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in models.CheckoutSessionParams) (*models.CheckoutSession, error) {
	params := sessionParams(in)
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerError(err)
	}
	return sessionFromStripe(s), nil
}

// ListLineItems returns every line item of a session, fetching pages of
// lineItemPageSize with products expanded so SKU metadata is available.
func (p *StripeProvider) ListLineItems(ctx context.Context, sessionID string) ([]models.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Limit = stripe.Int64(lineItemPageSize)
	params.Context = ctx
	params.AddExpand("data.price.product")

	var items []models.LineItem
	iter := p.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		items = append(items, lineItemFromStripe(iter.LineItem()))
	}
	if err := iter.Err(); err != nil {
		return nil, providerError(err)
	}
	return items, nil
}

// ConstructEvent verifies the Stripe-Signature header against the raw
// payload and decodes the event. Checkout session events carry the session.
func (p *StripeProvider) ConstructEvent(payload []byte, signatureHeader string) (*models.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, err
	}

	out := &models.PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	if strings.HasPrefix(out.Type, "checkout.session.") && event.Data != nil {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Session = sessionFromStripe(&s)
	}

	return out, nil
}

func sessionParams(in models.CheckoutSessionParams) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(in.Currency)

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		Currency:            stripe.String(currency),
		SuccessURL:          stripe.String(in.SuccessURL),
		CancelURL:           stripe.String(in.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(false),
		},
	}

	for _, it := range in.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(it.Name),
					Metadata: map[string]string{skuMetadataKey: it.SKU},
				},
				UnitAmount: stripe.Int64(it.UnitAmountCents),
			},
			Quantity: stripe.Int64(it.Quantity),
		})
	}

	return params
}

func sessionFromStripe(s *stripe.CheckoutSession) *models.CheckoutSession {
	out := &models.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		FallbackEmail: s.CustomerEmail,
		Currency:      string(s.Currency),
		AmountTotal:   s.AmountTotal,
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}

// lineItemFromStripe reads the SKU from expanded product metadata. An
// unexpanded product falls back to the description; an expanded product
// without the metadata key yields no SKU.
func lineItemFromStripe(li *stripe.LineItem) models.LineItem {
	item := models.LineItem{
		Description:    li.Description,
		Quantity:       li.Quantity,
		AmountSubtotal: li.AmountSubtotal,
		AmountTotal:    li.AmountTotal,
	}

	var product *stripe.Product
	if li.Price != nil {
		item.UnitAmountCents = li.Price.UnitAmount
		product = li.Price.Product
	}

	switch {
	case product != nil && product.Metadata != nil:
		if sku, ok := product.Metadata[skuMetadataKey]; ok && sku != "" {
			item.SKU = &sku
		}
	case li.Description != "":
		desc := li.Description
		item.SKU = &desc
	}

	return item
}

// providerError reduces a Stripe API error to the message meant for callers.
func providerError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return errors.New(stripeErr.Msg)
	}
	return err
}
