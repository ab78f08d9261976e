package worker

import (
	"context"
	"log"

	"midistore/internal/broker"
	"midistore/internal/models"
	"midistore/internal/redisclient"
)

// RankingWorker consumes fulfillment events and keeps the Redis bestseller
// ranking warm. The ranking is a display signal; the stored sale counters
// remain the source of truth.
type RankingWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewRankingWorker creates a new ranking worker
func NewRankingWorker(consumer *broker.Consumer, redis *redisclient.Client) *RankingWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderFulfilled(func(ctx context.Context, event *models.OrderFulfilledEvent) error {
		for _, id := range event.ItemIDs {
			if err := redis.BumpSales(ctx, id, 1); err != nil {
				log.Printf("Failed to bump sales ranking for %s: %v", id, err)
			}
		}
		return nil
	})

	return &RankingWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *RankingWorker) Start(ctx context.Context) error {
	log.Println("Starting ranking worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RankingWorker) Stop() error {
	log.Println("Stopping ranking worker...")
	return w.consumer.Close()
}
