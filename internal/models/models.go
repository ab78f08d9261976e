package models

import "time"

// Item types accepted in cart snapshots. Packs are recognized but not yet
// resolvable against the catalog, so they never survive into an order.
const (
	ItemTypeMidi = "midi"
	ItemTypePack = "pack"
)

// Midi represents a purchasable MIDI file in the catalog.
type Midi struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	PriceCents int64     `db:"price_cents" json:"price"`
	MusicalKey string    `db:"musical_key" json:"key"`
	Scale      string    `db:"scale" json:"scale"`
	BPM        int       `db:"bpm" json:"bpm"`
	Genre      string    `db:"genre" json:"genre"`
	PreviewURL string    `db:"preview_url" json:"preview_url"`
	FileURL    string    `db:"file_url" json:"-"`
	SaleCount  int       `db:"sale_count" json:"sale_count"`
	Hidden     bool      `db:"hidden" json:"hidden"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Order is the authoritative ledger entry for a settled payment. TotalCents
// is always the processor-settled amount, never a sum of item prices.
type Order struct {
	ID            string    `db:"id" json:"id"`
	PaymentID     string    `db:"payment_id" json:"payment_id"`
	CustomerEmail string    `db:"customer_email" json:"customer_email"`
	CustomerName  string    `db:"customer_name" json:"customer_name"`
	TotalCents    int64     `db:"total_cents" json:"total_price"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`

	Items []OrderItem `db:"-" json:"order_items"`
}

// OrderItem is a denormalized snapshot of a catalog item at fulfillment
// time. Title and asset URLs come from the catalog; PriceCents keeps the
// client-claimed price and is used for receipt display only.
type OrderItem struct {
	ID          int64  `db:"id" json:"-"`
	OrderID     string `db:"order_id" json:"-"`
	ItemID      string `db:"item_id" json:"id"`
	ItemType    string `db:"item_type" json:"type"`
	Title       string `db:"title" json:"title"`
	PriceCents  int64  `db:"price_cents" json:"price"`
	PreviewURL  string `db:"preview_url" json:"preview_url"`
	DownloadURL string `db:"download_url" json:"download_url"`
}

// Order statuses
const (
	OrderStatusPaid     = "paid"
	OrderStatusRefunded = "refunded"
	OrderStatusPending  = "pending"
	OrderStatusFailed   = "failed"
)
