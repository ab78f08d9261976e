package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"midistore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLedger struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	failWrite bool
}

func newMemLedger() *memLedger {
	return &memLedger{orders: map[string]*models.Order{}}
}

func (l *memLedger) GetOrderByPaymentID(_ context.Context, paymentID string) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[paymentID], nil
}

func (l *memLedger) CreateOrder(_ context.Context, order *models.Order) (bool, error) {
	if l.failWrite {
		return false, errors.New("ledger unavailable")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.orders[order.PaymentID]; exists {
		return false, nil
	}
	stored := *order
	l.orders[order.PaymentID] = &stored
	return true, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

type memCatalog struct {
	mu     sync.Mutex
	midis  map[string]models.Midi
	counts map[string]int
}

func newMemCatalog(midis ...models.Midi) *memCatalog {
	c := &memCatalog{midis: map[string]models.Midi{}, counts: map[string]int{}}
	for _, m := range midis {
		c.midis[m.ID] = m
	}
	return c
}

func (c *memCatalog) GetMidi(_ context.Context, id string) (*models.Midi, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	midi, ok := c.midis[id]
	if !ok {
		return nil, nil
	}
	return &midi, nil
}

func (c *memCatalog) IncrementSaleCount(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.midis[id]; !ok {
		return fmt.Errorf("midi not found: %s", id)
	}
	c.counts[id]++
	return nil
}

func (c *memCatalog) saleCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

type fakeSender struct {
	mu         sync.Mutex
	receipts   []string
	alerts     []string
	receiptErr error
}

func (s *fakeSender) SendReceipt(order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptErr != nil {
		return s.receiptErr
	}
	s.receipts = append(s.receipts, order.ID)
	return nil
}

func (s *fakeSender) SendSaleAlert(order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, order.ID)
	return nil
}

func (s *fakeSender) counts() (receipts, alerts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts), len(s.alerts)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.OrderFulfilledEvent
}

func (p *fakePublisher) PublishOrderFulfilled(_ context.Context, event *models.OrderFulfilledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func snapshot(t *testing.T, entries []models.CartEntry) []byte {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	return data
}

func testMidi(id string) models.Midi {
	return models.Midi{
		ID:         id,
		Title:      "Test Melody " + id,
		PriceCents: 999,
		PreviewURL: "https://cdn.example.com/" + id + "/preview.mp3",
		FileURL:    "https://cdn.example.com/" + id + "/file.mid",
	}
}

func TestProcessCreatesOrder(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"), testMidi("m2"))
	sender := &fakeSender{}
	publisher := &fakePublisher{}
	svc := NewFulfillmentService(ledger, catalog, sender, publisher)

	ev := &models.PaymentEvent{
		PaymentID:     "pi_1",
		AmountTotal:   1998,
		CustomerEmail: "buyer@example.com",
		CartSnapshot: snapshot(t, []models.CartEntry{
			{ID: "m1", Type: "midi", Title: "Claimed 1", PriceCents: 999},
			{ID: "m2", Type: "midi", Title: "Claimed 2", PriceCents: 999},
		}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	order, err := ledger.GetOrderByPaymentID(context.Background(), "pi_1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, int64(1998), order.TotalCents)
	require.Len(t, order.Items, 2)

	// Catalog data is authoritative for everything but the claimed price.
	assert.Equal(t, "Test Melody m1", order.Items[0].Title)
	assert.Equal(t, "https://cdn.example.com/m1/file.mid", order.Items[0].DownloadURL)
	assert.Equal(t, "m1", order.Items[0].ItemID)
	assert.Equal(t, "m2", order.Items[1].ItemID)

	assert.Equal(t, 1, catalog.saleCount("m1"))
	assert.Equal(t, 1, catalog.saleCount("m2"))

	receipts, alerts := sender.counts()
	assert.Equal(t, 1, receipts)
	assert.Equal(t, 1, alerts)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, []string{"m1", "m2"}, publisher.events[0].ItemIDs)
}

func TestProcessIdempotentRedelivery(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	sender := &fakeSender{}
	svc := NewFulfillmentService(ledger, catalog, sender, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:     "pi_dup",
		AmountTotal:   999,
		CustomerEmail: "buyer@example.com",
		CartSnapshot:  snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 999}}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))
	require.NoError(t, svc.Process(context.Background(), ev))

	assert.Equal(t, 1, ledger.count())
	assert.Equal(t, 1, catalog.saleCount("m1"))
	receipts, alerts := sender.counts()
	assert.Equal(t, 1, receipts)
	assert.Equal(t, 1, alerts)
}

func TestProcessConcurrentSamePayment(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	svc := NewFulfillmentService(ledger, catalog, &fakeSender{}, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:    "pi_race",
		AmountTotal:  999,
		CartSnapshot: snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 999}}),
	}

	const deliveries = 10
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Process(context.Background(), ev))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ledger.count())
	assert.Equal(t, 1, catalog.saleCount("m1"))
}

func TestProcessPartialResolution(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	svc := NewFulfillmentService(ledger, catalog, &fakeSender{}, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:   "pi_partial",
		AmountTotal: 1998,
		CartSnapshot: snapshot(t, []models.CartEntry{
			{ID: "m1", Type: "midi", PriceCents: 999},
			{ID: "ghost", Type: "midi", PriceCents: 999},
		}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	order, _ := ledger.GetOrderByPaymentID(context.Background(), "pi_partial")
	require.NotNil(t, order)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "m1", order.Items[0].ItemID)
	assert.Equal(t, int64(1998), order.TotalCents)
}

func TestProcessUnsupportedPackType(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	svc := NewFulfillmentService(ledger, catalog, &fakeSender{}, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:   "pi_pack",
		AmountTotal: 2998,
		CartSnapshot: snapshot(t, []models.CartEntry{
			{ID: "pack-1", Type: "pack", PriceCents: 1999},
			{ID: "m1", Type: "midi", PriceCents: 999},
		}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	order, _ := ledger.GetOrderByPaymentID(context.Background(), "pi_pack")
	require.NotNil(t, order)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "m1", order.Items[0].ItemID)
	assert.Equal(t, 0, catalog.saleCount("pack-1"))
}

func TestProcessSettledAmountAuthoritative(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	svc := NewFulfillmentService(ledger, catalog, &fakeSender{}, &fakePublisher{})

	// Claimed price disagrees with what the processor settled; the order
	// keeps the claimed price on the line item but the settled total wins.
	ev := &models.PaymentEvent{
		PaymentID:    "pi_settle",
		AmountTotal:  500,
		CartSnapshot: snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 12345}}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	order, _ := ledger.GetOrderByPaymentID(context.Background(), "pi_settle")
	require.NotNil(t, order)
	assert.Equal(t, int64(500), order.TotalCents)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(12345), order.Items[0].PriceCents)
}

func TestProcessEmptySnapshot(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []byte
	}{
		{"no snapshot", nil},
		{"empty array", []byte(`[]`)},
		{"corrupt blob", []byte(`{"not":"an array`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemLedger()
			svc := NewFulfillmentService(ledger, newMemCatalog(), &fakeSender{}, &fakePublisher{})

			ev := &models.PaymentEvent{
				PaymentID:    "pi_" + tt.name,
				AmountTotal:  1500,
				CartSnapshot: tt.snapshot,
			}

			require.NoError(t, svc.Process(context.Background(), ev))

			order, _ := ledger.GetOrderByPaymentID(context.Background(), ev.PaymentID)
			require.NotNil(t, order)
			assert.Empty(t, order.Items)
			assert.Equal(t, int64(1500), order.TotalCents)
		})
	}
}

func TestProcessConcurrentCountersSameItem(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("hot"))
	svc := NewFulfillmentService(ledger, catalog, &fakeSender{}, &fakePublisher{})

	const buyers = 20
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &models.PaymentEvent{
				PaymentID:    fmt.Sprintf("pi_buyer_%d", i),
				AmountTotal:  999,
				CartSnapshot: snapshot(t, []models.CartEntry{{ID: "hot", Type: "midi", PriceCents: 999}}),
			}
			assert.NoError(t, svc.Process(context.Background(), ev))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, buyers, ledger.count())
	assert.Equal(t, buyers, catalog.saleCount("hot"))
}

func TestProcessReceiptFailureStillAlertsAdmin(t *testing.T) {
	ledger := newMemLedger()
	catalog := newMemCatalog(testMidi("m1"))
	sender := &fakeSender{receiptErr: errors.New("smtp down")}
	svc := NewFulfillmentService(ledger, catalog, sender, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:     "pi_mailfail",
		AmountTotal:   999,
		CustomerEmail: "buyer@example.com",
		CartSnapshot:  snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 999}}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	order, _ := ledger.GetOrderByPaymentID(context.Background(), "pi_mailfail")
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	receipts, alerts := sender.counts()
	assert.Equal(t, 0, receipts)
	assert.Equal(t, 1, alerts)
}

func TestProcessNoEmailSkipsReceipt(t *testing.T) {
	ledger := newMemLedger()
	sender := &fakeSender{}
	svc := NewFulfillmentService(ledger, newMemCatalog(testMidi("m1")), sender, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:    "pi_noemail",
		AmountTotal:  999,
		CartSnapshot: snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 999}}),
	}

	require.NoError(t, svc.Process(context.Background(), ev))

	receipts, alerts := sender.counts()
	assert.Equal(t, 0, receipts)
	assert.Equal(t, 1, alerts)
}

func TestProcessLedgerWriteFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.failWrite = true
	catalog := newMemCatalog(testMidi("m1"))
	sender := &fakeSender{}
	svc := NewFulfillmentService(ledger, catalog, sender, &fakePublisher{})

	ev := &models.PaymentEvent{
		PaymentID:     "pi_dbfail",
		AmountTotal:   999,
		CustomerEmail: "buyer@example.com",
		CartSnapshot:  snapshot(t, []models.CartEntry{{ID: "m1", Type: "midi", PriceCents: 999}}),
	}

	err := svc.Process(context.Background(), ev)
	require.Error(t, err)

	// Nothing downstream may run when the write failed; the event will be
	// redelivered and must start clean.
	assert.Equal(t, 0, catalog.saleCount("m1"))
	receipts, alerts := sender.counts()
	assert.Equal(t, 0, receipts)
	assert.Equal(t, 0, alerts)

	// Retry after the ledger recovers succeeds.
	ledger.failWrite = false
	require.NoError(t, svc.Process(context.Background(), ev))
	assert.Equal(t, 1, ledger.count())
}
