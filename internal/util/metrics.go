package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_fulfilled_total",
		Help: "Total number of orders written to the ledger",
	})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_deliveries_total",
		Help: "Total number of payment events skipped because an order already existed",
	})

	FulfillmentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_failed_total",
		Help: "Total number of failed fulfillment attempts",
	}, []string{"reason"})

	SnapshotEntriesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_entries_dropped_total",
		Help: "Total number of cart snapshot entries dropped during fulfillment",
	}, []string{"reason"})

	EmptySnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "empty_snapshots_total",
		Help: "Total number of payment events fulfilled with an empty cart snapshot",
	})

	SaleCountUpdatesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_count_updates_failed_total",
		Help: "Total number of failed sale counter increments",
	})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Total number of notification emails sent",
	}, []string{"kind"})

	EmailsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_failed_total",
		Help: "Total number of notification emails that failed to send",
	}, []string{"kind"})

	WebhooksRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of webhook deliveries rejected before processing",
	})

	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of hosted checkout sessions created",
	})

	FulfillmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_latency_seconds",
		Help:    "Latency of the fulfillment pipeline per payment event",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
