package models

import "time"

// Event types
const (
	EventTypeOrderFulfilled = "ORDER_FULFILLED"
)

// PaymentEvent is the verified "checkout completed" notification from the
// payment provider. It may be delivered more than once for the same
// PaymentID; the ledger's uniqueness constraint makes redelivery harmless.
type PaymentEvent struct {
	PaymentID     string `json:"payment_id"`
	AmountTotal   int64  `json:"amount_total"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CartSnapshot  []byte `json:"cart_snapshot,omitempty"`
}

// CartEntry is one row of the untrusted client cart snapshot. Title and
// PriceCents are client-claimed and never used for settlement.
type CartEntry struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price"`
}

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderFulfilledEvent is published after an order has been committed to the
// ledger. Consumers use it for ranking and analytics; delivery is
// best-effort.
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID    string   `json:"order_id"`
	PaymentID  string   `json:"payment_id"`
	TotalCents int64    `json:"total_cents"`
	ItemIDs    []string `json:"item_ids"`
}
