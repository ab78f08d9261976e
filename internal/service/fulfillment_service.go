package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"midistore/internal/cart"
	"midistore/internal/models"
	"midistore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog resolves purchasable items and owns their sale counters.
type Catalog interface {
	GetMidi(ctx context.Context, id string) (*models.Midi, error)
	IncrementSaleCount(ctx context.Context, id string) error
}

// Ledger is the authoritative order store. CreateOrder must enforce
// payment-id uniqueness itself and report false instead of an error when
// the order already exists.
type Ledger interface {
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) (bool, error)
}

// Sender delivers notification emails. Best-effort: failures are the
// caller's to log, never to retry here.
type Sender interface {
	SendReceipt(order *models.Order) error
	SendSaleAlert(order *models.Order) error
}

// Publisher emits domain events after commit
type Publisher interface {
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
}

// FulfillmentService turns a verified payment event into an order record,
// sale counter updates, and notifications. Exactly-once with respect to
// the order: redeliveries short-circuit on the existing record, and the
// ledger's own uniqueness constraint closes the concurrent-delivery race.
// Everything after the ledger write is best-effort fan-out.
type FulfillmentService struct {
	ledger    Ledger
	catalog   Catalog
	mailer    Sender
	publisher Publisher
	logger    *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(ledger Ledger, catalog Catalog, mailer Sender, publisher Publisher) *FulfillmentService {
	return &FulfillmentService{
		ledger:    ledger,
		catalog:   catalog,
		mailer:    mailer,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Process handles one delivery of a payment event. The only error it
// returns is a failed ledger write, which the caller surfaces so the
// delivery system retries the event; nothing was committed in that case.
func (s *FulfillmentService) Process(ctx context.Context, ev *models.PaymentEvent) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.Process")
	defer span.End()

	start := time.Now()
	defer func() {
		util.FulfillmentLatency.Observe(time.Since(start).Seconds())
	}()

	existing, err := s.ledger.GetOrderByPaymentID(ctx, ev.PaymentID)
	if err != nil {
		util.FulfillmentFailedTotal.WithLabelValues("guard_check").Inc()
		return fmt.Errorf("failed to check for existing order: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate payment event, order already fulfilled",
			zap.String("payment_id", ev.PaymentID),
			zap.String("order_id", existing.ID))
		util.DuplicateDeliveriesTotal.Inc()
		return nil
	}

	entries, dropped, decodeErr := cart.Decode(ev.CartSnapshot)
	if decodeErr != nil {
		s.logger.Warn("Cart snapshot is malformed, fulfilling without items",
			zap.String("payment_id", ev.PaymentID),
			zap.Error(decodeErr))
		util.SnapshotEntriesDroppedTotal.WithLabelValues("malformed_snapshot").Inc()
	}
	if dropped > 0 {
		util.SnapshotEntriesDroppedTotal.WithLabelValues("invalid_entry").Add(float64(dropped))
	}
	if len(entries) == 0 {
		s.logger.Warn("Fulfilling order with empty cart snapshot",
			zap.String("payment_id", ev.PaymentID))
		util.EmptySnapshotsTotal.Inc()
	}

	items := s.materializeItems(ctx, ev.PaymentID, entries)

	order := &models.Order{
		ID:            uuid.New().String(),
		PaymentID:     ev.PaymentID,
		CustomerEmail: ev.CustomerEmail,
		CustomerName:  ev.CustomerName,
		TotalCents:    ev.AmountTotal,
		Status:        models.OrderStatusPaid,
		Items:         items,
	}

	created, err := s.ledger.CreateOrder(ctx, order)
	if err != nil {
		util.FulfillmentFailedTotal.WithLabelValues("ledger_write").Inc()
		return fmt.Errorf("failed to write order: %w", err)
	}
	if !created {
		s.logger.Info("Concurrent delivery already fulfilled this payment",
			zap.String("payment_id", ev.PaymentID))
		util.DuplicateDeliveriesTotal.Inc()
		return nil
	}

	util.OrdersFulfilledTotal.Inc()
	s.logger.Info("Order fulfilled",
		zap.String("order_id", order.ID),
		zap.String("payment_id", order.PaymentID),
		zap.Int64("total_cents", order.TotalCents),
		zap.Int("items", len(order.Items)))

	if claimed := claimedTotal(order.Items); claimed != order.TotalCents {
		// Known inconsistency: receipt line items carry client-claimed
		// prices while the total is the settled amount. Observed, not
		// reconciled.
		s.logger.Warn("Claimed item prices diverge from settled amount",
			zap.String("order_id", order.ID),
			zap.Int64("claimed_cents", claimed),
			zap.Int64("settled_cents", order.TotalCents))
	}

	// The order is committed; nothing below may fail it or roll it back.
	s.fanOut(context.WithoutCancel(ctx), order)
	return nil
}

// materializeItems reconciles snapshot entries against the catalog and
// builds the order items. Entries that do not resolve are dropped, never
// fatal: pack entries are not yet fulfillable, unknown ids may be stale
// client state, and a lookup failure is treated the same as not found.
// Item order follows the snapshot.
func (s *FulfillmentService) materializeItems(ctx context.Context, paymentID string, entries []models.CartEntry) []models.OrderItem {
	resolved := make([]*models.OrderItem, len(entries))
	var wg sync.WaitGroup

	for i, entry := range entries {
		if entry.Type != models.ItemTypeMidi {
			s.logger.Debug("Skipping unsupported cart entry type",
				zap.String("payment_id", paymentID),
				zap.String("item_id", entry.ID),
				zap.String("item_type", entry.Type))
			util.SnapshotEntriesDroppedTotal.WithLabelValues("unsupported_type").Inc()
			continue
		}

		wg.Add(1)
		go func(i int, entry models.CartEntry) {
			defer wg.Done()

			midi, err := s.catalog.GetMidi(ctx, entry.ID)
			if err != nil {
				s.logger.Warn("Catalog lookup failed, dropping cart entry",
					zap.String("payment_id", paymentID),
					zap.String("item_id", entry.ID),
					zap.Error(err))
				util.SnapshotEntriesDroppedTotal.WithLabelValues("lookup_error").Inc()
				return
			}
			if midi == nil {
				s.logger.Info("Cart entry not in catalog, dropping",
					zap.String("payment_id", paymentID),
					zap.String("item_id", entry.ID))
				util.SnapshotEntriesDroppedTotal.WithLabelValues("not_found").Inc()
				return
			}

			resolved[i] = &models.OrderItem{
				ItemID:      midi.ID,
				ItemType:    entry.Type,
				Title:       midi.Title,
				PriceCents:  entry.PriceCents,
				PreviewURL:  midi.PreviewURL,
				DownloadURL: midi.FileURL,
			}
		}(i, entry)
	}

	wg.Wait()

	items := make([]models.OrderItem, 0, len(entries))
	for _, item := range resolved {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items
}

// fanOut runs the post-commit side effects: per-item sale counters, the
// customer receipt, the admin alert, and the fulfillment event. Each is
// independent and best-effort; failures are logged and counted, never
// propagated.
func (s *FulfillmentService) fanOut(ctx context.Context, order *models.Order) {
	var wg sync.WaitGroup

	for _, item := range order.Items {
		wg.Add(1)
		go func(item models.OrderItem) {
			defer wg.Done()
			if err := s.catalog.IncrementSaleCount(ctx, item.ItemID); err != nil {
				s.logger.Error("Failed to increment sale count",
					zap.String("order_id", order.ID),
					zap.String("item_id", item.ItemID),
					zap.Error(err))
				util.SaleCountUpdatesFailedTotal.Inc()
			}
		}(item)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if order.CustomerEmail == "" {
			s.logger.Info("No customer email on payment event, skipping receipt",
				zap.String("order_id", order.ID))
			return
		}
		if err := s.mailer.SendReceipt(order); err != nil {
			s.logger.Error("Failed to send receipt",
				zap.String("order_id", order.ID),
				zap.Error(err))
			util.EmailsFailedTotal.WithLabelValues("receipt").Inc()
			return
		}
		util.EmailsSentTotal.WithLabelValues("receipt").Inc()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.mailer.SendSaleAlert(order); err != nil {
			s.logger.Error("Failed to send sale alert",
				zap.String("order_id", order.ID),
				zap.Error(err))
			util.EmailsFailedTotal.WithLabelValues("sale_alert").Inc()
			return
		}
		util.EmailsSentTotal.WithLabelValues("sale_alert").Inc()
	}()

	wg.Wait()

	event := &models.OrderFulfilledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFulfilled,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		PaymentID:  order.PaymentID,
		TotalCents: order.TotalCents,
		ItemIDs:    itemIDs(order.Items),
	}
	if err := s.publisher.PublishOrderFulfilled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderFulfilled event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func claimedTotal(items []models.OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceCents
	}
	return total
}

func itemIDs(items []models.OrderItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ItemID
	}
	return ids
}
