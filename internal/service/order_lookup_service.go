package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderReader loads stored orders.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
}

// OrderView is the public projection of an order.
type OrderView struct {
	ID            uuid.UUID          `json:"id"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	SubtotalCents int64              `json:"subtotal_cents"`
	TotalCents    int64              `json:"total_cents"`
	Items         []models.OrderItem `json:"items"`
}

// OrderLookupService serves token-authenticated order retrieval
type OrderLookupService struct {
	orders        OrderReader
	hideForbidden bool
	logger        *zap.Logger
}

// NewOrderLookupService creates a new lookup service. With hideForbidden
// a wrong token is reported as an unknown order.
func NewOrderLookupService(orders OrderReader, hideForbidden bool) *OrderLookupService {
	return &OrderLookupService{
		orders:        orders,
		hideForbidden: hideForbidden,
		logger:        util.GetLogger(),
	}
}

// GetOrder returns the order if token hashes to its stored token hash.
func (s *OrderLookupService) GetOrder(ctx context.Context, rawID, token string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderLookupService.GetOrder")
	defer span.End()

	if rawID == "" || token == "" {
		util.OrderLookupsTotal.WithLabelValues("bad_request").Inc()
		return nil, ErrMissingParams
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		util.OrderLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrOrderNotFound
	}

	order, err := s.orders.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		util.OrderLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrOrderNotFound
	}
	if err != nil {
		util.OrderLookupsTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if !TokenMatches(token, order.TokenHash) {
		util.OrderLookupsTotal.WithLabelValues("forbidden").Inc()
		s.logger.Info("Order lookup with wrong token", zap.String("order_id", id.String()))
		if s.hideForbidden {
			return nil, ErrOrderNotFound
		}
		return nil, ErrForbidden
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		util.OrderLookupsTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	if items == nil {
		items = []models.OrderItem{}
	}

	util.OrderLookupsTotal.WithLabelValues("ok").Inc()
	return &OrderView{
		ID:            order.ID,
		Status:        order.Status,
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		TotalCents:    order.TotalCents,
		Items:         items,
	}, nil
}
