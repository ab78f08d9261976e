package store

import (
	"context"
	"database/sql"
	"fmt"

	"midistore/internal/models"
)

// CreateOrder persists an order and its items in one transaction. The
// orders table carries a unique index on payment_id and the insert uses
// ON CONFLICT DO NOTHING, so two concurrent deliveries of the same payment
// event can both reach this point and still produce exactly one order.
// Returns false when another order already holds the payment id.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, payment_id, customer_email, customer_name, total_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING created_at`

	err = tx.GetContext(ctx, &order.CreatedAt, query,
		order.ID, order.PaymentID, order.CustomerEmail, order.CustomerName,
		order.TotalCents, order.Status)
	if err == sql.ErrNoRows {
		// Lost the race against a concurrent delivery of the same event.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, item_id, item_type, title, price_cents, preview_url, download_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := tx.GetContext(ctx, &item.ID, itemQuery,
			item.OrderID, item.ItemID, item.ItemType, item.Title,
			item.PriceCents, item.PreviewURL, item.DownloadURL); err != nil {
			return false, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit order: %w", err)
	}
	return true, nil
}

// GetOrderByPaymentID retrieves an order and its items by the payment
// identifier. Returns nil, nil when no order exists for the payment.
func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE payment_id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order and its items by order ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status. Refund and failure transitions
// are driven by catalog-management flows, not by fulfillment.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2", status, orderID)
	return err
}
