package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

const orderColumns = `id, status, customer_email, token_hash, currency, subtotal_cents, total_cents, stripe_session_id, created_at`

// CreateOrderWithItems inserts the order and its items in one transaction.
// On success order.ID, order.CreatedAt and every item's OrderID are set.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (status, customer_email, token_hash, currency, subtotal_cents, total_cents, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = tx.QueryRowxContext(ctx, query,
		order.Status, order.CustomerEmail, order.TokenHash, order.Currency,
		order.SubtotalCents, order.TotalCents, order.StripeSessionID,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if len(items) > 0 {
		for i := range items {
			items[i].OrderID = order.ID
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO order_items (order_id, sku, name, unit_amount_cents, quantity)
			VALUES (:order_id, :sku, :name, :unit_amount_cents, :quantity)`, items)
		if err != nil {
			return fmt.Errorf("failed to insert order items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, sku, name, unit_amount_cents, quantity FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// CountOrdersBySessionID reports how many orders reference a checkout session.
func (s *Store) CountOrdersBySessionID(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM orders WHERE stripe_session_id = $1", sessionID)
	return n, err
}
